package domain

import "time"

// Severity levels for alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a notification about a qualifying failure event. Alerts sharing
// a cooldown key (instance + severity) within the cooldown window are
// suppressed before creation.
type Alert struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	InstanceID string            `json:"instance_id"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// CooldownKey groups alerts for suppression purposes.
func (a Alert) CooldownKey() string {
	return a.InstanceID + ":" + string(a.Severity)
}
