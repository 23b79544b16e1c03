package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/locolabs/fleetwatch/internal/core/domain"
	"github.com/locolabs/fleetwatch/internal/infra/breaker"
	"github.com/locolabs/fleetwatch/internal/infra/orchestrator"
)

// =============================================================================
// Mocks
// =============================================================================

type fakeClient struct {
	objects []orchestrator.RawObject
	err     error
	calls   int
	events  chan orchestrator.Event
}

func (f *fakeClient) ListInstances(ctx context.Context) ([]orchestrator.RawObject, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.objects, nil
}

func (f *fakeClient) Watch(ctx context.Context) (<-chan orchestrator.Event, error) {
	if f.events == nil {
		return nil, orchestrator.ErrWatchUnsupported
	}
	return f.events, nil
}

func (f *fakeClient) Mode() domain.DiscoveryMode {
	return domain.ModeKubernetesPods
}

func rawObj(name, ip string) orchestrator.RawObject {
	return orchestrator.RawObject{
		Name:  name,
		IP:    ip,
		Ready: true,
		Ports: map[string]int{"vnc": 5901, "health": 8080},
	}
}

func newTestCache(client orchestrator.Client, ttl time.Duration) *Cache {
	registry := breaker.NewRegistry(breaker.Config{MinSamples: 100})
	return NewCache(client, registry, ttl)
}

// =============================================================================
// Tests
// =============================================================================

func TestDiscoverSortsByOrdinal(t *testing.T) {
	client := &fakeClient{objects: []orchestrator.RawObject{
		rawObj("loco-emulator-0", "10.0.0.1"),
		rawObj("loco-emulator-2", "10.0.0.3"),
		rawObj("loco-emulator-1", "10.0.0.2"),
	}}
	cache := newTestCache(client, 30*time.Second)

	snapshot := cache.Discover(context.Background())
	if snapshot.Source != domain.SourceLive {
		t.Fatalf("Expected live snapshot, got %s", snapshot.Source)
	}
	if len(snapshot.Instances) != 3 {
		t.Fatalf("Expected 3 instances, got %d", len(snapshot.Instances))
	}
	for i, inst := range snapshot.Instances {
		if inst.Ordinal != i {
			t.Errorf("Position %d: expected ordinal %d, got %d (%s)", i, i, inst.Ordinal, inst.ID)
		}
	}
}

func TestDiscoverTTLCaching(t *testing.T) {
	client := &fakeClient{objects: []orchestrator.RawObject{rawObj("loco-emulator-0", "10.0.0.1")}}
	cache := newTestCache(client, 30*time.Second)

	cache.Discover(context.Background())
	cache.Discover(context.Background())
	cache.Discover(context.Background())

	if client.calls != 1 {
		t.Errorf("Expected 1 orchestrator call within TTL, got %d", client.calls)
	}
}

func TestDiscoverTTLExpiry(t *testing.T) {
	client := &fakeClient{objects: []orchestrator.RawObject{rawObj("loco-emulator-0", "10.0.0.1")}}
	cache := newTestCache(client, 30*time.Second)

	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Discover(context.Background())
	now = now.Add(31 * time.Second)
	cache.Discover(context.Background())

	if client.calls != 2 {
		t.Errorf("Expected 2 orchestrator calls after TTL expiry, got %d", client.calls)
	}
}

func TestInvalidateBypassesTTL(t *testing.T) {
	client := &fakeClient{objects: []orchestrator.RawObject{rawObj("loco-emulator-0", "10.0.0.1")}}
	cache := newTestCache(client, time.Hour)

	cache.Discover(context.Background())
	cache.Invalidate()
	cache.Discover(context.Background())

	if client.calls != 2 {
		t.Errorf("Expected invalidation to force a fetch, got %d calls", client.calls)
	}
}

func TestDiscoverFallbackOnFailure(t *testing.T) {
	client := &fakeClient{objects: []orchestrator.RawObject{rawObj("loco-emulator-0", "10.0.0.1")}}
	cache := newTestCache(client, 30*time.Second)

	now := time.Now()
	cache.now = func() time.Time { return now }

	first := cache.Discover(context.Background())
	if first.Source != domain.SourceLive {
		t.Fatalf("Expected live, got %s", first.Source)
	}

	// Orchestrator goes away; the stale snapshot is served marked fallback.
	client.err = errors.New("connection refused")
	now = now.Add(time.Minute)

	second := cache.Discover(context.Background())
	if second.Source != domain.SourceCachedFallback {
		t.Fatalf("Expected cached-fallback, got %s", second.Source)
	}
	if len(second.Instances) != 1 {
		t.Fatalf("Expected previous instances to be preserved, got %d", len(second.Instances))
	}
}

func TestDiscoverEmptyWithNoHistory(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	cache := newTestCache(client, 30*time.Second)

	snapshot := cache.Discover(context.Background())
	if snapshot.Source != domain.SourceCachedFallback {
		t.Fatalf("Expected cached-fallback with no history, got %s", snapshot.Source)
	}
	if len(snapshot.Instances) != 0 {
		t.Fatalf("Expected empty snapshot, got %d instances", len(snapshot.Instances))
	}
}

func TestDiscoverZeroMatchIsFresh(t *testing.T) {
	client := &fakeClient{objects: []orchestrator.RawObject{}}
	cache := newTestCache(client, 30*time.Second)

	snapshot := cache.Discover(context.Background())
	if snapshot.Source != domain.SourceLive {
		t.Fatalf("Zero-match success must be a fresh snapshot, got %s", snapshot.Source)
	}
	if len(snapshot.Instances) != 0 {
		t.Fatalf("Expected empty instance list, got %d", len(snapshot.Instances))
	}
}

func TestWatchEventsInvalidate(t *testing.T) {
	events := make(chan orchestrator.Event, 1)
	client := &fakeClient{
		objects: []orchestrator.RawObject{rawObj("loco-emulator-0", "10.0.0.1")},
		events:  events,
	}
	cache := newTestCache(client, time.Hour)
	watcher := NewWatcher(client, cache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	cache.Discover(ctx)

	events <- orchestrator.Event{Type: orchestrator.EventDeleted, Name: "loco-emulator-0"}

	// Wait for the watcher to process the event.
	deadline := time.After(2 * time.Second)
	for {
		cache.mu.RLock()
		invalidated := cache.invalidated
		cache.mu.RUnlock()
		if invalidated {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Watcher never invalidated the cache")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cache.Discover(ctx)
	if client.calls != 2 {
		t.Errorf("Expected event-driven refetch, got %d calls", client.calls)
	}
}

func TestWatcherUnsupportedReturns(t *testing.T) {
	client := &fakeClient{objects: []orchestrator.RawObject{}}
	cache := newTestCache(client, time.Hour)
	watcher := NewWatcher(client, cache)

	done := make(chan struct{})
	go func() {
		watcher.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watcher should return immediately when watch is unsupported")
	}
}
