package storage

import (
	"context"

	"github.com/locolabs/fleetwatch/internal/core/domain"
)

// AlertHistoryRepository persists dispatched alerts for later inspection.
// The health loop never depends on it succeeding.
type AlertHistoryRepository interface {
	// Insert records a dispatched alert
	Insert(ctx context.Context, alert *domain.Alert) error

	// Recent returns the most recent alerts, newest first
	Recent(ctx context.Context, limit int) ([]*domain.Alert, error)

	// CountSince returns the number of alerts recorded for an instance
	// since the given unix timestamp
	CountSince(ctx context.Context, instanceID string, sinceUnix int64) (int, error)
}
