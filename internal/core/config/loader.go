package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3001
	}
	if cfg.Orchestrator.Mode == "" {
		cfg.Orchestrator.Mode = "kubernetes-pods"
	}
	if cfg.Orchestrator.Namespace == "" {
		cfg.Orchestrator.Namespace = "loco"
	}
	if len(cfg.Orchestrator.Selector) == 0 {
		cfg.Orchestrator.Selector = map[string]string{
			"app.kubernetes.io/component": "emulator",
			"app.kubernetes.io/part-of":   "loco",
		}
	}
	if cfg.Discovery.TTL == 0 {
		cfg.Discovery.TTL = 30 * time.Second
	}
	if cfg.Discovery.RefreshInterval == 0 {
		cfg.Discovery.RefreshInterval = 60 * time.Second
	}
	if cfg.Health.ProbeInterval == 0 {
		cfg.Health.ProbeInterval = 10 * time.Second
	}
	if cfg.Health.DeepProbeInterval == 0 {
		cfg.Health.DeepProbeInterval = 30 * time.Second
	}
	if cfg.Health.PortName == "" {
		cfg.Health.PortName = "health"
	}
	if cfg.Health.RequestTimeout == 0 {
		cfg.Health.RequestTimeout = 5 * time.Second
	}
	if cfg.Health.HistorySize == 0 {
		cfg.Health.HistorySize = 100
	}
	if cfg.Health.Retry.MaxAttempts == 0 {
		cfg.Health.Retry.MaxAttempts = 3
	}
	if cfg.Health.Retry.InitialDelay == 0 {
		cfg.Health.Retry.InitialDelay = 1 * time.Second
	}
	if cfg.Health.Retry.Multiplier == 0 {
		cfg.Health.Retry.Multiplier = 2.0
	}
	if cfg.Health.Retry.MaxDelay == 0 {
		cfg.Health.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Health.CPUThreshold == 0 {
		cfg.Health.CPUThreshold = 90
	}
	if cfg.Health.MemoryThreshold == 0 {
		cfg.Health.MemoryThreshold = 90
	}
	if cfg.Breaker.ErrorThresholdPercent == 0 {
		cfg.Breaker.ErrorThresholdPercent = 50
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = 30 * time.Second
	}
	if cfg.Breaker.MinSamples == 0 {
		cfg.Breaker.MinSamples = 2
	}
	if cfg.Breaker.CallTimeout == 0 {
		cfg.Breaker.CallTimeout = 10 * time.Second
	}
	if cfg.Breaker.Window == 0 {
		cfg.Breaker.Window = 60 * time.Second
	}
	if cfg.Recovery.MaxAttempts == 0 {
		cfg.Recovery.MaxAttempts = 3
	}
	if cfg.Recovery.ActionTimeout == 0 {
		cfg.Recovery.ActionTimeout = 30 * time.Second
	}
	if cfg.Alerts.Cooldown == 0 {
		cfg.Alerts.Cooldown = 5 * time.Minute
	}
	if cfg.Alerts.RequestTimeout == 0 {
		cfg.Alerts.RequestTimeout = 10 * time.Second
	}
}

func (cfg *AppConfig) validate() error {
	switch cfg.Orchestrator.Mode {
	case "kubernetes-pods", "kubernetes-endpoints", "static":
	default:
		return fmt.Errorf("unknown orchestrator mode %q", cfg.Orchestrator.Mode)
	}
	if cfg.Orchestrator.Mode == "static" && len(cfg.Orchestrator.StaticEndpoints) == 0 {
		return fmt.Errorf("static mode requires at least one static endpoint")
	}
	return nil
}
