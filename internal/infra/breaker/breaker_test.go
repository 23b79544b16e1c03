package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingOp(ctx context.Context) (any, error) { return nil, errBoom }
func succeedingOp(ctx context.Context) (any, error) { return "ok", nil }

// testBreaker returns a breaker with a controllable clock.
func testBreaker(cfg Config, fallback Fallback) (*Breaker, *time.Time) {
	b := New("test", cfg, fallback)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestTripsAtThreshold(t *testing.T) {
	b, _ := testBreaker(Config{ErrorThresholdPercent: 50, MinSamples: 2}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.Execute(ctx, failingOp); err == nil {
			t.Fatal("Expected error from failing op")
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("Expected open after 2/2 failures, got %s", b.State())
	}

	// Open breaker must not invoke the operation.
	invoked := false
	_, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Expected ErrOpen, got %v", err)
	}
	if invoked {
		t.Error("Operation invoked while breaker open")
	}
}

func TestOpenReturnsFallback(t *testing.T) {
	fallback := func(ctx context.Context) (any, error) { return "cached", nil }
	b, _ := testBreaker(Config{ErrorThresholdPercent: 50, MinSamples: 2}, fallback)
	ctx := context.Background()

	b.Execute(ctx, failingOp)
	b.Execute(ctx, failingOp)

	result, err := b.Execute(ctx, failingOp)
	if err != nil {
		t.Fatalf("Expected fallback result, got error %v", err)
	}
	if result != "cached" {
		t.Errorf("Expected cached, got %v", result)
	}
}

func TestHalfOpenSingleTrialSuccess(t *testing.T) {
	b, now := testBreaker(Config{ErrorThresholdPercent: 50, MinSamples: 2, ResetTimeout: 30 * time.Second}, nil)
	ctx := context.Background()

	b.Execute(ctx, failingOp)
	b.Execute(ctx, failingOp)
	if b.State() != StateOpen {
		t.Fatalf("Expected open, got %s", b.State())
	}

	*now = now.Add(31 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("Expected half-open after reset timeout, got %s", b.State())
	}

	if _, err := b.Execute(ctx, succeedingOp); err != nil {
		t.Fatalf("Trial call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("Expected closed after successful trial, got %s", b.State())
	}
}

func TestHalfOpenSingleTrialFailure(t *testing.T) {
	b, now := testBreaker(Config{ErrorThresholdPercent: 50, MinSamples: 2, ResetTimeout: 30 * time.Second}, nil)
	ctx := context.Background()

	b.Execute(ctx, failingOp)
	b.Execute(ctx, failingOp)

	*now = now.Add(31 * time.Second)
	b.Execute(ctx, failingOp)

	if b.State() != StateOpen {
		t.Fatalf("Expected open after failed trial, got %s", b.State())
	}

	// The reset clock restarts from the failed trial.
	*now = now.Add(10 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("Expected still open 10s after failed trial, got %s", b.State())
	}
}

func TestHalfOpenAdmitsOneTrialAtATime(t *testing.T) {
	b, now := testBreaker(Config{ErrorThresholdPercent: 50, MinSamples: 2, ResetTimeout: 30 * time.Second}, nil)
	ctx := context.Background()

	b.Execute(ctx, failingOp)
	b.Execute(ctx, failingOp)
	*now = now.Add(31 * time.Second)

	// While the trial call is running, a second caller must short-circuit
	// instead of being admitted as another trial.
	secondInvoked := false
	_, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		_, nested := b.Execute(ctx, func(ctx context.Context) (any, error) {
			secondInvoked = true
			return nil, nil
		})
		if !errors.Is(nested, ErrOpen) {
			t.Errorf("Expected ErrOpen for concurrent caller during trial, got %v", nested)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Trial call failed: %v", err)
	}
	if secondInvoked {
		t.Error("Second operation invoked while trial in flight")
	}
	if b.State() != StateClosed {
		t.Fatalf("Expected closed after successful trial, got %s", b.State())
	}

	// Once the trial outcome is recorded the breaker admits calls again.
	if _, err := b.Execute(ctx, succeedingOp); err != nil {
		t.Fatalf("Post-trial call failed: %v", err)
	}
}

func TestSuccessesKeepClosed(t *testing.T) {
	b, _ := testBreaker(Config{ErrorThresholdPercent: 50, MinSamples: 4}, nil)
	ctx := context.Background()

	// 1 of 4 failing is 25%, below the 50% threshold.
	b.Execute(ctx, succeedingOp)
	b.Execute(ctx, succeedingOp)
	b.Execute(ctx, succeedingOp)
	b.Execute(ctx, failingOp)

	if b.State() != StateClosed {
		t.Fatalf("Expected closed at 25%% failure rate, got %s", b.State())
	}
}

func TestMinSamplesGuard(t *testing.T) {
	b, _ := testBreaker(Config{ErrorThresholdPercent: 50, MinSamples: 5}, nil)
	ctx := context.Background()

	// 2 failures is 100% but below the sample floor.
	b.Execute(ctx, failingOp)
	b.Execute(ctx, failingOp)

	if b.State() != StateClosed {
		t.Fatalf("Expected closed below min samples, got %s", b.State())
	}
}

func TestWindowPruning(t *testing.T) {
	b, now := testBreaker(Config{ErrorThresholdPercent: 50, MinSamples: 2, Window: 60 * time.Second}, nil)
	ctx := context.Background()

	b.Execute(ctx, failingOp)

	// Old failure ages out of the window before the next one lands.
	*now = now.Add(2 * time.Minute)
	b.Execute(ctx, failingOp)

	if b.State() != StateClosed {
		t.Fatalf("Expected closed, stale outcome should have been pruned, got %s", b.State())
	}
}

func TestRegistryDedup(t *testing.T) {
	reg := NewRegistry(Config{})

	a := reg.GetOrCreate("discovery", nil)
	b := reg.GetOrCreate("discovery", nil)
	if a != b {
		t.Error("Expected same breaker for same name")
	}

	c := reg.GetOrCreate("health:loco-emulator-0", nil)
	if c == a {
		t.Error("Expected distinct breaker for distinct name")
	}

	snapshot := reg.Snapshot()
	if len(snapshot) != 2 {
		t.Errorf("Expected 2 breakers in snapshot, got %d", len(snapshot))
	}
}

func TestResetClearsState(t *testing.T) {
	b, _ := testBreaker(Config{ErrorThresholdPercent: 50, MinSamples: 2}, nil)
	ctx := context.Background()

	b.Execute(ctx, failingOp)
	b.Execute(ctx, failingOp)
	if !b.IsOpen() {
		t.Fatal("Expected open")
	}

	b.Reset()
	if b.IsOpen() {
		t.Fatal("Expected closed after reset")
	}
	counts := b.Counts()
	if counts.Successes != 0 || counts.Failures != 0 {
		t.Errorf("Expected cleared window, got %+v", counts)
	}
}
