package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/locolabs/fleetwatch/internal/core/config"
	"github.com/locolabs/fleetwatch/internal/core/domain"
	"github.com/locolabs/fleetwatch/internal/events"
	"github.com/locolabs/fleetwatch/internal/infra/breaker"
	"github.com/locolabs/fleetwatch/internal/metrics"
)

// CycleSummary aggregates one probing cycle across the fleet.
type CycleSummary struct {
	Timestamp time.Time             `json:"timestamp"`
	Deep      bool                  `json:"deep"`
	Total     int                   `json:"total"`
	Healthy   int                   `json:"healthy"`
	Unhealthy int                   `json:"unhealthy"`
	Errors    int                   `json:"errors"`
	Results   []domain.HealthResult `json:"results"`
}

// Prober checks instance health over HTTP with bounded retries, guarded
// by a per-instance circuit breaker.
type Prober struct {
	httpClient *http.Client
	registry   *breaker.Registry
	analyzer   Analyzer
	retry      config.RetryConfig
	history    *History
	bus        *events.Bus
	portName   string
	timeout    time.Duration

	// sleep is injectable for deterministic backoff tests.
	sleep func(ctx context.Context, d time.Duration) error

	log *slog.Logger
}

// NewProber wires a prober from config.
func NewProber(cfg config.HealthConfig, registry *breaker.Registry, history *History, bus *events.Bus) *Prober {
	return &Prober{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		registry:   registry,
		analyzer:   NewAnalyzer(cfg.CPUThreshold, cfg.MemoryThreshold),
		retry:      cfg.Retry,
		history:    history,
		bus:        bus,
		portName:   cfg.PortName,
		timeout:    cfg.RequestTimeout,
		sleep:      sleepContext,
		log:        slog.Default().With("component", "prober"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// History exposes the prober's result history.
func (p *Prober) History() *History {
	return p.history
}

// CheckInstance performs a deep health probe of one instance. It never
// returns an error; every failure mode is captured in the result.
func (p *Prober) CheckInstance(ctx context.Context, inst domain.Instance) domain.HealthResult {
	b := p.registry.GetOrCreate("health:"+inst.ID, nil)
	if b.IsOpen() {
		// Deliberate skip, not an error: no network I/O while open.
		return domain.HealthResult{
			InstanceID: inst.ID,
			Timestamp:  time.Now(),
			Reachable:  false,
			Score:      0,
			Issues:     []domain.IssueTag{domain.IssueCircuitBreakerOpen},
			SLAStatus:  domain.SLACritical,
		}
	}

	var payload *Payload
	var latency time.Duration
	var lastErr error

	attempts := p.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		raw, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
			return p.fetchPayload(ctx, inst)
		})
		latency = time.Since(start)

		if err == nil {
			payload = raw.(*Payload)
			break
		}
		lastErr = err

		if attempt == attempts-1 || b.IsOpen() || ctx.Err() != nil {
			break
		}
		if sleepErr := p.sleep(ctx, p.backoffDelay(attempt)); sleepErr != nil {
			break
		}
	}

	result := p.buildResult(inst, payload, latency, lastErr)
	p.record(result)
	// The score gauge tracks deep analysis only; ping results would
	// flatten it to 0 or 100.
	metrics.HealthScore.WithLabelValues(inst.ID).Set(float64(result.Score))
	return result
}

func (p *Prober) backoffDelay(attempt int) time.Duration {
	multiplier := p.retry.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	delay := float64(p.retry.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if p.retry.MaxDelay > 0 && delay > float64(p.retry.MaxDelay) {
		delay = float64(p.retry.MaxDelay)
	}
	return time.Duration(delay)
}

func (p *Prober) fetchPayload(ctx context.Context, inst domain.Instance) (*Payload, error) {
	port := inst.Port(p.portName)
	if port == 0 {
		return nil, fmt.Errorf("instance %s exposes no %q port", inst.ID, p.portName)
	}

	url := fmt.Sprintf("http://%s/", net.JoinHostPort(inst.Host, fmt.Sprint(port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	var payload Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (p *Prober) buildResult(inst domain.Instance, payload *Payload, latency time.Duration, lastErr error) domain.HealthResult {
	result := domain.HealthResult{
		InstanceID: inst.ID,
		Timestamp:  time.Now(),
		Latency:    latency,
	}

	if payload == nil {
		result.Score = 0
		result.SLAStatus = domain.SLACritical
		if lastErr != nil {
			result.Err = lastErr.Error()
		}
		// A decode or validation failure means the agent answered but with
		// garbage. That is a client-side defect, not an unreachable host,
		// and must not draw network recovery actions.
		if errors.Is(lastErr, ErrMalformedPayload) || errors.Is(lastErr, ErrEmptyPayload) {
			result.Reachable = true
			result.Issues = []domain.IssueTag{domain.IssueInvalidPayload}
		} else {
			result.Reachable = false
			result.Issues = []domain.IssueTag{domain.IssueUnreachable}
		}
		return result
	}

	result.Reachable = true
	result.Score, result.Issues, result.SLAStatus = p.analyzer.Analyze(payload)
	if payload.Video != nil {
		result.FrameRate = payload.Video.EstimatedFrameRate
	}
	if payload.Performance != nil {
		result.CPUPercent = payload.Performance.CPUUsage
		result.MemoryPercent = payload.Performance.MemoryUsage
	}
	return result
}

func (p *Prober) record(result domain.HealthResult) {
	p.history.Append(result)
	metrics.ProbeLatency.WithLabelValues(result.InstanceID).Observe(result.Latency.Seconds())

	outcome := "healthy"
	switch {
	case !result.Reachable:
		outcome = "error"
	case len(result.Issues) > 0:
		outcome = "unhealthy"
	}
	metrics.ProbeTotal.WithLabelValues(result.InstanceID, outcome).Inc()
}

// PingInstance performs the fast connectivity probe: a TCP dial of the VNC
// port without touching the health document. Results land in the same
// history as deep probes, so a connectivity outage between deep cycles
// still counts against uptime.
func (p *Prober) PingInstance(ctx context.Context, inst domain.Instance) domain.HealthResult {
	result := p.ping(ctx, inst)
	p.record(result)
	return result
}

func (p *Prober) ping(ctx context.Context, inst domain.Instance) domain.HealthResult {
	result := domain.HealthResult{
		InstanceID: inst.ID,
		Timestamp:  time.Now(),
	}

	port := inst.Port(domain.PortVNC)
	if port == 0 {
		port = inst.Port(p.portName)
	}
	if port == 0 {
		result.Score = 0
		result.SLAStatus = domain.SLACritical
		result.Issues = []domain.IssueTag{domain.IssueUnreachable}
		result.Err = "no probeable port"
		return result
	}

	dialer := net.Dialer{Timeout: p.timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(inst.Host, fmt.Sprint(port)))
	result.Latency = time.Since(start)

	if err != nil {
		result.Score = 0
		result.SLAStatus = domain.SLACritical
		result.Issues = []domain.IssueTag{domain.IssueUnreachable}
		result.Err = err.Error()
		return result
	}
	conn.Close()

	result.Reachable = true
	result.Score = 100
	result.SLAStatus = domain.SLACompliant
	return result
}

// RunCycle fans one probe per instance out concurrently and joins all
// results. A single instance's failure never aborts the cycle: every
// outcome lands in the summary as a structured result.
func (p *Prober) RunCycle(ctx context.Context, instances []domain.Instance, deep bool) CycleSummary {
	results := make([]domain.HealthResult, len(instances))

	var wg sync.WaitGroup
	for i, inst := range instances {
		wg.Add(1)
		go func(i int, inst domain.Instance) {
			defer wg.Done()
			if deep {
				results[i] = p.CheckInstance(ctx, inst)
			} else {
				results[i] = p.PingInstance(ctx, inst)
			}
		}(i, inst)
	}
	wg.Wait()

	summary := CycleSummary{
		Timestamp: time.Now(),
		Deep:      deep,
		Total:     len(instances),
		Results:   results,
	}
	for _, r := range results {
		switch {
		case !r.Reachable:
			summary.Errors++
		case len(r.Issues) > 0:
			summary.Unhealthy++
		default:
			summary.Healthy++
		}
	}

	if p.bus != nil {
		p.bus.Publish(events.Event{Type: events.TypeHealthCheck, Data: summary})
	}
	p.log.Debug("Probe cycle complete",
		"deep", deep,
		"total", summary.Total,
		"healthy", summary.Healthy,
		"unhealthy", summary.Unhealthy,
		"errors", summary.Errors)
	return summary
}
