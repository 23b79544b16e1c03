package memory

import (
	"context"
	"sync"

	"github.com/locolabs/fleetwatch/internal/core/domain"
)

const maxRetained = 1000

// AlertRepo is an in-memory AlertHistoryRepository, used when no database
// is configured. Retention is bounded; oldest entries are dropped first.
type AlertRepo struct {
	mu     sync.RWMutex
	alerts []*domain.Alert
}

// NewAlertRepo creates an empty in-memory alert history.
func NewAlertRepo() *AlertRepo {
	return &AlertRepo{}
}

// Insert records a dispatched alert.
func (r *AlertRepo) Insert(ctx context.Context, alert *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.alerts = append(r.alerts, alert)
	if len(r.alerts) > maxRetained {
		r.alerts = r.alerts[len(r.alerts)-maxRetained:]
	}
	return nil
}

// Recent returns the most recent alerts, newest first.
func (r *AlertRepo) Recent(ctx context.Context, limit int) ([]*domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.alerts) {
		limit = len(r.alerts)
	}
	out := make([]*domain.Alert, 0, limit)
	for i := len(r.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.alerts[i])
	}
	return out, nil
}

// CountSince returns the number of alerts for an instance since sinceUnix.
func (r *AlertRepo) CountSince(ctx context.Context, instanceID string, sinceUnix int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, a := range r.alerts {
		if a.InstanceID == instanceID && a.Timestamp.Unix() >= sinceUnix {
			count++
		}
	}
	return count, nil
}
