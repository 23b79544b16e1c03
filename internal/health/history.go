package health

import (
	"sync"
	"time"

	"github.com/locolabs/fleetwatch/internal/core/domain"
)

// Rollup aggregates an instance's recent health results.
type Rollup struct {
	InstanceID    string               `json:"instance_id"`
	Samples       int                  `json:"samples"`
	UptimePercent float64              `json:"uptime_percent"`
	AvgScore      float64              `json:"avg_score"`
	AvgLatency    time.Duration        `json:"avg_latency"`
	Last          *domain.HealthResult `json:"last,omitempty"`
}

// History keeps a bounded ring of health results per instance.
type History struct {
	mu      sync.RWMutex
	size    int
	results map[string][]domain.HealthResult
}

// NewHistory creates a history retaining up to size results per instance.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 100
	}
	return &History{
		size:    size,
		results: make(map[string][]domain.HealthResult),
	}
}

// Append records a result, evicting the oldest once the ring is full.
func (h *History) Append(result domain.HealthResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ring := append(h.results[result.InstanceID], result)
	if len(ring) > h.size {
		ring = ring[len(ring)-h.size:]
	}
	h.results[result.InstanceID] = ring
}

// Last returns the most recent result for an instance.
func (h *History) Last(instanceID string) (domain.HealthResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ring := h.results[instanceID]
	if len(ring) == 0 {
		return domain.HealthResult{}, false
	}
	return ring[len(ring)-1], true
}

// Rollup computes aggregate stats for one instance.
func (h *History) Rollup(instanceID string) Rollup {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rollupLocked(instanceID)
}

func (h *History) rollupLocked(instanceID string) Rollup {
	ring := h.results[instanceID]
	rollup := Rollup{InstanceID: instanceID, Samples: len(ring)}
	if len(ring) == 0 {
		return rollup
	}

	reachable := 0
	var scoreSum float64
	var latencySum time.Duration
	for _, r := range ring {
		if r.Reachable {
			reachable++
		}
		scoreSum += float64(r.Score)
		latencySum += r.Latency
	}

	rollup.UptimePercent = float64(reachable) / float64(len(ring)) * 100
	rollup.AvgScore = scoreSum / float64(len(ring))
	rollup.AvgLatency = latencySum / time.Duration(len(ring))
	last := ring[len(ring)-1]
	rollup.Last = &last
	return rollup
}

// All returns rollups for every tracked instance.
func (h *History) All() map[string]Rollup {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]Rollup, len(h.results))
	for id := range h.results {
		out[id] = h.rollupLocked(id)
	}
	return out
}

// Prune drops history for instances no longer in the fleet.
func (h *History) Prune(activeIDs map[string]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id := range h.results {
		if !activeIDs[id] {
			delete(h.results, id)
		}
	}
}
