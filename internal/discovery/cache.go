// Package discovery maintains a TTL-cached view of the emulator fleet,
// querying the orchestrator through a circuit breaker and falling back to
// the last good snapshot when the control plane is unreachable.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/locolabs/fleetwatch/internal/core/domain"
	"github.com/locolabs/fleetwatch/internal/infra/breaker"
	"github.com/locolabs/fleetwatch/internal/infra/orchestrator"
	"github.com/locolabs/fleetwatch/internal/metrics"
)

// Cache holds the current discovery snapshot and refreshes it on demand.
type Cache struct {
	client  orchestrator.Client
	breaker *breaker.Breaker
	ttl     time.Duration

	mu          sync.RWMutex
	snapshot    domain.DiscoverySnapshot
	lastFetch   time.Time
	invalidated bool

	group singleflight.Group
	now   func() time.Time
	log   *slog.Logger
}

// NewCache creates a discovery cache. The breaker protects orchestrator
// list calls; its fallback is wired by the cache itself so that an open
// circuit degrades to the last known snapshot.
func NewCache(client orchestrator.Client, registry *breaker.Registry, ttl time.Duration) *Cache {
	c := &Cache{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		log:    slog.Default().With("component", "discovery"),
	}
	c.snapshot = domain.DiscoverySnapshot{
		Instances: []domain.Instance{},
		Source:    domain.SourceCachedFallback,
		Mode:      client.Mode(),
	}
	c.breaker = registry.GetOrCreate("discovery", func(ctx context.Context) (any, error) {
		// Open circuit: serve the last good instance list without I/O.
		return nil, breaker.ErrOpen
	})
	return c
}

// Discover returns the current snapshot, fetching from the orchestrator
// when the TTL has expired or the cache was invalidated. It never returns
// an error: on fetch failure the previous snapshot is served marked
// cached-fallback.
func (c *Cache) Discover(ctx context.Context) domain.DiscoverySnapshot {
	c.mu.RLock()
	fresh := !c.invalidated && c.now().Sub(c.lastFetch) < c.ttl && !c.lastFetch.IsZero()
	snapshot := c.snapshot
	c.mu.RUnlock()

	if fresh {
		return snapshot
	}
	return c.fetch(ctx)
}

// Refresh bypasses the TTL and returns a freshly fetched snapshot (or the
// fallback if the fetch fails).
func (c *Cache) Refresh(ctx context.Context) domain.DiscoverySnapshot {
	c.Invalidate()
	return c.fetch(ctx)
}

// Invalidate forces the next Discover call to bypass the TTL. Watch events
// call this instead of patching the snapshot, avoiding races with partial
// object fields.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.invalidated = true
	c.mu.Unlock()
}

// Snapshot returns the current snapshot without triggering a fetch.
func (c *Cache) Snapshot() domain.DiscoverySnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// fetch performs one orchestrator query, coalescing concurrent callers.
func (c *Cache) fetch(ctx context.Context) domain.DiscoverySnapshot {
	result, _, _ := c.group.Do("fetch", func() (any, error) {
		return c.fetchLocked(ctx), nil
	})
	return result.(domain.DiscoverySnapshot)
}

func (c *Cache) fetchLocked(ctx context.Context) domain.DiscoverySnapshot {
	raw, err := c.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return c.client.ListInstances(ctx)
	})
	if err != nil {
		metrics.DiscoveryRefreshTotal.WithLabelValues("error").Inc()
		c.log.Warn("Discovery fetch failed, serving fallback", "error", err)

		c.mu.Lock()
		c.snapshot.Source = domain.SourceCachedFallback
		snapshot := c.snapshot
		c.mu.Unlock()
		return snapshot
	}

	objects := raw.([]orchestrator.RawObject)
	instances := Normalize(objects, c.now())

	snapshot := domain.DiscoverySnapshot{
		Instances: instances,
		FetchedAt: c.now(),
		Source:    domain.SourceLive,
		Mode:      c.client.Mode(),
	}

	c.mu.Lock()
	c.snapshot = snapshot
	c.lastFetch = c.now()
	c.invalidated = false
	c.mu.Unlock()

	metrics.DiscoveryRefreshTotal.WithLabelValues("success").Inc()
	metrics.DiscoveredInstances.Set(float64(len(instances)))
	c.log.Debug("Discovery snapshot updated", "instances", len(instances))
	return snapshot
}
