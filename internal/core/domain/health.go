package domain

import "time"

// IssueTag identifies a specific problem detected during health analysis.
type IssueTag string

const (
	IssueQemuDown           IssueTag = "qemu_down"
	IssueHighCPU            IssueTag = "high_cpu"
	IssueHighMemory         IssueTag = "high_memory"
	IssueVNCUnavailable     IssueTag = "vnc_unavailable"
	IssueLowFrameRate       IssueTag = "low_frame_rate"
	IssueAudioDown          IssueTag = "audio_down"
	IssueNetworkDown        IssueTag = "network_down"
	IssueHighTxErrors       IssueTag = "high_tx_errors"
	IssueCircuitBreakerOpen IssueTag = "circuit_breaker_open"
	IssueUnreachable        IssueTag = "unreachable"
	IssueInvalidPayload     IssueTag = "invalid_payload"
)

// SLAStatus buckets a composite health score.
type SLAStatus string

const (
	SLACompliant SLAStatus = "compliant"
	SLAWarning   SLAStatus = "warning"
	SLADegraded  SLAStatus = "degraded"
	SLACritical  SLAStatus = "critical"
)

// SLAForScore maps a composite score to its SLA bucket.
func SLAForScore(score int) SLAStatus {
	switch {
	case score < 50:
		return SLACritical
	case score < 80:
		return SLADegraded
	case score < 95:
		return SLAWarning
	default:
		return SLACompliant
	}
}

// HealthResult is the outcome of probing one instance in one cycle. Results
// are created fresh each cycle and only retained in the bounded per-instance
// history.
type HealthResult struct {
	InstanceID    string        `json:"instance_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Reachable     bool          `json:"reachable"`
	Latency       time.Duration `json:"latency"`
	Score         int           `json:"score"`
	Issues        []IssueTag    `json:"issues"`
	SLAStatus     SLAStatus     `json:"sla_status"`
	FrameRate     int           `json:"frame_rate"`
	CPUPercent    float64       `json:"cpu_percent"`
	MemoryPercent float64       `json:"memory_percent"`
	Err           string        `json:"error,omitempty"`
}

// Healthy reports whether the result carries no detected issues.
func (r HealthResult) Healthy() bool {
	return r.Reachable && len(r.Issues) == 0
}

// HasIssue reports whether the result contains the given tag.
func (r HealthResult) HasIssue(tag IssueTag) bool {
	for _, t := range r.Issues {
		if t == tag {
			return true
		}
	}
	return false
}
