package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/locolabs/fleetwatch/internal/infra/redisclient"
)

// CooldownStore arbitrates alert suppression windows. Acquire returns true
// when the caller owns the window for key, false when a previous alert for
// the same key is still cooling down.
type CooldownStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryCooldown is a process-local cooldown store for single-replica
// deployments and tests.
type MemoryCooldown struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryCooldown) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, ok := m.expires[key]; ok && now.Before(until) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)

	// Opportunistic sweep so the map does not grow with departed instances.
	for k, until := range m.expires {
		if now.After(until) {
			delete(m.expires, k)
		}
	}
	return true, nil
}

// RedisCooldown shares suppression windows across replicas via SetNX.
type RedisCooldown struct {
	client *redisclient.Client
}

func NewRedisCooldown(client *redisclient.Client) *RedisCooldown {
	return &RedisCooldown{client: client}
}

func (r *RedisCooldown) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.AcquireCooldown(ctx, key, ttl)
}
