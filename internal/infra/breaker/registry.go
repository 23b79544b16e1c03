package breaker

import "sync"

// Registry deduplicates breakers by name. It is constructed once at
// startup and injected into consumers; there is no package-level registry.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults Config
}

// NewRegistry creates a registry whose breakers default to cfg.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults.withDefaults(),
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// the registry defaults and the given fallback on first use. The fallback
// of an existing breaker is not replaced.
func (r *Registry) GetOrCreate(name string, fallback Fallback) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.defaults, fallback)
	r.breakers[name] = b
	return b
}

// Get returns the named breaker, or nil if none is registered.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[name]
}

// Snapshot returns the counts of every registered breaker.
func (r *Registry) Snapshot() map[string]Counts {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	// Counts takes each breaker's own lock; don't hold the registry lock.
	snapshot := make(map[string]Counts, len(breakers))
	for _, b := range breakers {
		snapshot[b.Name()] = b.Counts()
	}
	return snapshot
}

// OpenNames returns the names of currently open breakers.
func (r *Registry) OpenNames() []string {
	var open []string
	for name, counts := range r.Snapshot() {
		if counts.State == StateOpen {
			open = append(open, name)
		}
	}
	return open
}
