package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/locolabs/fleetwatch/internal/core/domain"
)

// AlertRepo implements storage.AlertHistoryRepository using PostgreSQL.
type AlertRepo struct {
	db *DB
}

// NewAlertRepo creates a new PostgreSQL alert history repository.
func NewAlertRepo(db *DB) *AlertRepo {
	return &AlertRepo{db: db}
}

type alertRow struct {
	ID         string    `db:"id"`
	Timestamp  time.Time `db:"created_at"`
	Severity   string    `db:"severity"`
	Message    string    `db:"message"`
	InstanceID string    `db:"instance_id"`
	Meta       []byte    `db:"meta"`
}

func (row alertRow) toDomain() (*domain.Alert, error) {
	alert := &domain.Alert{
		ID:         row.ID,
		Timestamp:  row.Timestamp,
		Severity:   domain.Severity(row.Severity),
		Message:    row.Message,
		InstanceID: row.InstanceID,
	}
	if len(row.Meta) > 0 {
		if err := json.Unmarshal(row.Meta, &alert.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode alert meta: %w", err)
		}
	}
	return alert, nil
}

// Insert records a dispatched alert.
func (r *AlertRepo) Insert(ctx context.Context, alert *domain.Alert) error {
	meta, err := json.Marshal(alert.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode alert meta: %w", err)
	}

	query := `
		INSERT INTO alert_history (id, severity, message, instance_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query,
		alert.ID, string(alert.Severity), alert.Message, alert.InstanceID, meta, alert.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Recent returns the most recent alerts, newest first.
func (r *AlertRepo) Recent(ctx context.Context, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, severity, message, instance_id, meta, created_at
		FROM alert_history
		ORDER BY created_at DESC
		LIMIT $1
	`
	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	alerts := make([]*domain.Alert, 0, len(rows))
	for _, row := range rows {
		alert, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// CountSince returns the number of alerts for an instance since sinceUnix.
func (r *AlertRepo) CountSince(ctx context.Context, instanceID string, sinceUnix int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM alert_history
		WHERE instance_id = $1 AND created_at >= $2
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, instanceID, time.Unix(sinceUnix, 0))
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}
