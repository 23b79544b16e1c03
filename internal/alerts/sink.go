// Package alerts builds and dispatches notifications about qualifying
// failure events, with per-key cooldown suppression so flapping instances
// do not flood operators.
package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/locolabs/fleetwatch/internal/core/domain"
	"github.com/locolabs/fleetwatch/internal/events"
	"github.com/locolabs/fleetwatch/internal/infra/storage"
	"github.com/locolabs/fleetwatch/internal/metrics"
)

// Channel delivers one alert to an external destination.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, alert domain.Alert) error
}

const deliverTimeout = 10 * time.Second

// Sink is the single entry point for raising alerts. Sending is best
// effort end to end: cooldown store errors, channel errors, and history
// persistence errors are logged and swallowed so callers in the health
// loop never stall or fail because alerting is degraded.
type Sink struct {
	channels []Channel
	cooldown time.Duration
	store    CooldownStore
	history  storage.AlertHistoryRepository
	bus      *events.Bus
	log      *slog.Logger
	now      func() time.Time
}

func NewSink(channels []Channel, cooldown time.Duration, store CooldownStore, history storage.AlertHistoryRepository, bus *events.Bus, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewMemoryCooldown()
	}
	return &Sink{
		channels: channels,
		cooldown: cooldown,
		store:    store,
		history:  history,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// Send raises an alert unless one with the same instance and severity fired
// within the cooldown window.
func (s *Sink) Send(ctx context.Context, severity domain.Severity, message, instanceID string, meta map[string]string) {
	key := instanceID + ":" + string(severity)

	ok, err := s.store.Acquire(ctx, key, s.cooldown)
	if err != nil {
		// Suppression state is unavailable; alert anyway rather than go
		// silent during an incident.
		s.log.Warn("cooldown store unavailable, sending without suppression", "key", key, "error", err)
	} else if !ok {
		metrics.AlertsSuppressedTotal.Inc()
		s.log.Debug("alert suppressed by cooldown", "key", key)
		return
	}

	alert := domain.Alert{
		ID:         uuid.NewString(),
		Timestamp:  s.now(),
		Severity:   severity,
		Message:    message,
		InstanceID: instanceID,
		Meta:       meta,
	}

	metrics.AlertsTotal.WithLabelValues(string(severity)).Inc()
	s.log.Info("alert raised",
		"id", alert.ID,
		"severity", severity,
		"instance", instanceID,
		"message", message)

	for _, ch := range s.channels {
		s.deliver(ctx, ch, alert)
	}

	if s.history != nil {
		if err := s.history.Insert(ctx, &alert); err != nil {
			s.log.Warn("failed to persist alert history", "id", alert.ID, "error", err)
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.TypeAlert, Data: alert})
	}
}

func (s *Sink) deliver(ctx context.Context, ch Channel, alert domain.Alert) {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	if err := ch.Deliver(ctx, alert); err != nil {
		s.log.Error("alert delivery failed", "channel", ch.Name(), "id", alert.ID, "error", err)
	}
}

// Recent proxies the alert history for the control API. Returns an empty
// slice when no history backend is configured.
func (s *Sink) Recent(ctx context.Context, limit int) ([]*domain.Alert, error) {
	if s.history == nil {
		return []*domain.Alert{}, nil
	}
	return s.history.Recent(ctx, limit)
}
