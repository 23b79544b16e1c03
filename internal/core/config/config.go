package config

import (
	"time"

	redisclient "github.com/locolabs/fleetwatch/internal/infra/redisclient"
	"github.com/locolabs/fleetwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Health       HealthConfig       `yaml:"health"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Recovery     RecoveryConfig     `yaml:"recovery"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Redis        redisclient.Config `yaml:"redis"`
	Database     postgres.Config    `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// OrchestratorConfig selects and configures the fleet source.
type OrchestratorConfig struct {
	Mode            string            `yaml:"mode"` // kubernetes-pods, kubernetes-endpoints, static
	Namespace       string            `yaml:"namespace"`
	Kubeconfig      string            `yaml:"kubeconfig"`
	Context         string            `yaml:"context"`
	Selector        map[string]string `yaml:"selector"`
	StaticEndpoints []StaticEndpoint  `yaml:"static_endpoints"`
}

// StaticEndpoint describes one instance when running without an
// orchestrator (mode "static").
type StaticEndpoint struct {
	Name  string         `yaml:"name"`
	Host  string         `yaml:"host"`
	Ports map[string]int `yaml:"ports"`
}

// DiscoveryConfig holds discovery cache settings.
type DiscoveryConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// HealthConfig holds probing settings.
type HealthConfig struct {
	ProbeInterval     time.Duration `yaml:"probe_interval"`      // fast connectivity cadence
	DeepProbeInterval time.Duration `yaml:"deep_probe_interval"` // full health document cadence
	PortName          string        `yaml:"port_name"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	HistorySize       int           `yaml:"history_size"`
	Retry             RetryConfig   `yaml:"retry"`
	CPUThreshold      float64       `yaml:"cpu_threshold"`
	MemoryThreshold   float64       `yaml:"memory_threshold"`
}

// RetryConfig defines retry-with-backoff behavior for health calls.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// BreakerConfig holds circuit breaker defaults.
type BreakerConfig struct {
	ErrorThresholdPercent float64       `yaml:"error_threshold_percent"`
	ResetTimeout          time.Duration `yaml:"reset_timeout"`
	MinSamples            int           `yaml:"min_samples"`
	CallTimeout           time.Duration `yaml:"call_timeout"`
	Window                time.Duration `yaml:"window"`
}

// RecoveryConfig bounds the auto-recovery loop.
type RecoveryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// AlertsConfig holds alert dispatch settings.
type AlertsConfig struct {
	Cooldown       time.Duration `yaml:"cooldown"`
	WebhookURL     string        `yaml:"webhook_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}
