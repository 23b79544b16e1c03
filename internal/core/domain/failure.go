package domain

// FailureType categorizes why an instance is unhealthy. It drives the
// recovery strategy dispatch.
type FailureType string

const (
	FailureNone    FailureType = "none"
	FailureNetwork FailureType = "network"
	FailureQemu    FailureType = "qemu"
	FailureClient  FailureType = "client"
	FailureMixed   FailureType = "mixed"
)

// Classification is derived purely from the latest HealthResult of an
// instance; it is not persisted.
type Classification struct {
	InstanceID     string      `json:"instance_id"`
	FailureType    FailureType `json:"failure_type"`
	RecoveryNeeded bool        `json:"recovery_needed"`
	Issues         []IssueTag  `json:"issues"`
}

// RecoveryState tracks where an instance sits in the recovery lifecycle.
type RecoveryState string

const (
	RecoveryHealthy   RecoveryState = "healthy"
	RecoveryPending   RecoveryState = "pending"
	RecoveryExhausted RecoveryState = "exhausted"
)
