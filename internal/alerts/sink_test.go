package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/locolabs/fleetwatch/internal/core/domain"
	"github.com/locolabs/fleetwatch/internal/events"
)

// ===== Mocks =====

type mockChannel struct {
	mu        sync.Mutex
	delivered []domain.Alert
	err       error
}

func (m *mockChannel) Name() string { return "mock" }

func (m *mockChannel) Deliver(_ context.Context, alert domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, alert)
	return m.err
}

func (m *mockChannel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

type mockHistory struct {
	mu       sync.Mutex
	inserted []*domain.Alert
	err      error
}

func (m *mockHistory) Insert(_ context.Context, alert *domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, alert)
	return m.err
}

func (m *mockHistory) Recent(_ context.Context, limit int) ([]*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.inserted) {
		limit = len(m.inserted)
	}
	return m.inserted[len(m.inserted)-limit:], nil
}

func (m *mockHistory) CountSince(_ context.Context, _ string, _ int64) (int, error) {
	return 0, nil
}

type failingStore struct{}

func (failingStore) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

// ===== Tests =====

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendDispatchesToChannels(t *testing.T) {
	ch := &mockChannel{}
	sink := NewSink([]Channel{ch}, time.Minute, NewMemoryCooldown(), nil, nil, discard())

	sink.Send(context.Background(), domain.SeverityWarning, "cpu high", "emulator-0", nil)

	if ch.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", ch.count())
	}
	got := ch.delivered[0]
	if got.ID == "" {
		t.Error("alert should carry a generated ID")
	}
	if got.Severity != domain.SeverityWarning || got.InstanceID != "emulator-0" {
		t.Errorf("unexpected alert: %+v", got)
	}
}

func TestCooldownSuppressesDuplicates(t *testing.T) {
	ch := &mockChannel{}
	sink := NewSink([]Channel{ch}, time.Minute, NewMemoryCooldown(), nil, nil, discard())

	sink.Send(context.Background(), domain.SeverityCritical, "qemu down", "emulator-0", nil)
	sink.Send(context.Background(), domain.SeverityCritical, "qemu down again", "emulator-0", nil)

	if ch.count() != 1 {
		t.Fatalf("expected second alert suppressed, got %d deliveries", ch.count())
	}
}

func TestCooldownKeyIncludesSeverity(t *testing.T) {
	ch := &mockChannel{}
	sink := NewSink([]Channel{ch}, time.Minute, NewMemoryCooldown(), nil, nil, discard())

	sink.Send(context.Background(), domain.SeverityCritical, "qemu down", "emulator-0", nil)
	sink.Send(context.Background(), domain.SeverityWarning, "recovering", "emulator-0", nil)

	if ch.count() != 2 {
		t.Fatalf("different severities must not suppress each other, got %d deliveries", ch.count())
	}
}

func TestCooldownExpires(t *testing.T) {
	store := NewMemoryCooldown()
	current := time.Now()
	store.now = func() time.Time { return current }

	ch := &mockChannel{}
	sink := NewSink([]Channel{ch}, time.Minute, store, nil, nil, discard())

	sink.Send(context.Background(), domain.SeverityCritical, "down", "emulator-0", nil)
	current = current.Add(2 * time.Minute)
	sink.Send(context.Background(), domain.SeverityCritical, "still down", "emulator-0", nil)

	if ch.count() != 2 {
		t.Fatalf("expected delivery after cooldown expiry, got %d", ch.count())
	}
}

func TestStoreErrorDoesNotSuppress(t *testing.T) {
	ch := &mockChannel{}
	sink := NewSink([]Channel{ch}, time.Minute, failingStore{}, nil, nil, discard())

	sink.Send(context.Background(), domain.SeverityCritical, "down", "emulator-0", nil)

	if ch.count() != 1 {
		t.Fatal("alerts must go out when the cooldown store is unavailable")
	}
}

func TestChannelErrorDoesNotAbortOthers(t *testing.T) {
	bad := &mockChannel{err: errors.New("webhook 500")}
	good := &mockChannel{}
	sink := NewSink([]Channel{bad, good}, time.Minute, NewMemoryCooldown(), nil, nil, discard())

	sink.Send(context.Background(), domain.SeverityWarning, "cpu high", "emulator-0", nil)

	if good.count() != 1 {
		t.Fatal("failing channel must not block the remaining channels")
	}
}

func TestHistoryInsertFailureIsSwallowed(t *testing.T) {
	ch := &mockChannel{}
	history := &mockHistory{err: errors.New("db down")}
	sink := NewSink([]Channel{ch}, time.Minute, NewMemoryCooldown(), history, nil, discard())

	sink.Send(context.Background(), domain.SeverityWarning, "cpu high", "emulator-0", nil)

	if ch.count() != 1 {
		t.Fatal("history failure must not block delivery")
	}
}

func TestSendPublishesBusEvent(t *testing.T) {
	bus := events.NewBus()
	sub, cancel := bus.Subscribe()
	defer cancel()

	sink := NewSink(nil, time.Minute, NewMemoryCooldown(), nil, bus, discard())
	sink.Send(context.Background(), domain.SeverityCritical, "down", "emulator-2", nil)

	select {
	case ev := <-sub:
		if ev.Type != events.TypeAlert {
			t.Fatalf("event type = %s, want %s", ev.Type, events.TypeAlert)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an alert event on the bus")
	}
}

func TestWebhookChannelPostsJSON(t *testing.T) {
	var received domain.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	err := ch.Deliver(context.Background(), domain.Alert{
		ID: "a1", Severity: domain.SeverityCritical, Message: "down", InstanceID: "emulator-0",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.ID != "a1" || received.InstanceID != "emulator-0" {
		t.Errorf("unexpected payload: %+v", received)
	}
}

func TestWebhookChannelRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	if err := ch.Deliver(context.Background(), domain.Alert{ID: "a1"}); err == nil {
		t.Fatal("expected error on 502 response")
	}
}
