package recovery

import (
	"sync"

	"github.com/locolabs/fleetwatch/internal/core/domain"
)

// Tracker counts recovery attempts per instance. Counters reset on the
// first healthy result and cap at the configured maximum, after which the
// instance is considered exhausted until it recovers on its own.
type Tracker struct {
	mu          sync.Mutex
	attempts    map[string]int
	maxAttempts int
}

func NewTracker(maxAttempts int) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Tracker{
		attempts:    make(map[string]int),
		maxAttempts: maxAttempts,
	}
}

// Attempts returns the current attempt count for an instance.
func (t *Tracker) Attempts(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[id]
}

// Increment bumps the attempt counter and returns the new value. It never
// advances past the maximum.
func (t *Tracker) Increment(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attempts[id] < t.maxAttempts {
		t.attempts[id]++
	}
	return t.attempts[id]
}

// Reset clears the counter, typically on a healthy probe.
func (t *Tracker) Reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, id)
}

// Exhausted reports whether the instance has used up its attempts.
func (t *Tracker) Exhausted(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[id] >= t.maxAttempts
}

// State maps the counter to the instance's recovery lifecycle phase.
func (t *Tracker) State(id string) domain.RecoveryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch n := t.attempts[id]; {
	case n == 0:
		return domain.RecoveryHealthy
	case n >= t.maxAttempts:
		return domain.RecoveryExhausted
	default:
		return domain.RecoveryPending
	}
}

// Forget drops counters for instances no longer present in the fleet.
func (t *Tracker) Forget(keep map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.attempts {
		if _, ok := keep[id]; !ok {
			delete(t.attempts, id)
		}
	}
}
