package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/locolabs/fleetwatch/internal/core/config"
)

func testConfig() config.AppConfig {
	return config.AppConfig{
		Server: config.ServerConfig{Port: 0},
		Orchestrator: config.OrchestratorConfig{
			Mode: "static",
			StaticEndpoints: []config.StaticEndpoint{
				{Name: "emulator-0", Host: "127.0.0.1", Ports: map[string]int{"vnc": 5900, "health": 8080}},
				{Name: "emulator-1", Host: "127.0.0.2", Ports: map[string]int{"vnc": 5900, "health": 8080}},
			},
		},
		Discovery: config.DiscoveryConfig{TTL: time.Minute, RefreshInterval: time.Minute},
		Health: config.HealthConfig{
			ProbeInterval:     time.Minute,
			DeepProbeInterval: time.Minute,
			PortName:          "health",
			RequestTimeout:    time.Second,
			HistorySize:       10,
			Retry:             config.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond},
		},
		Recovery: config.RecoveryConfig{MaxAttempts: 3, ActionTimeout: time.Second},
		Alerts:   config.AlertsConfig{Cooldown: time.Minute},
	}
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	sup, err := NewSupervisor(testConfig())
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	return sup
}

func TestInstancesLiveContract(t *testing.T) {
	sup := newTestSupervisor(t)
	sup.Refresh(context.Background())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/instances/live", nil)
	sup.server.server.Handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Mode  string `json:"mode"`
		Stats struct {
			Total    int `json:"total"`
			Ready    int `json:"ready"`
			NotReady int `json:"notReady"`
		} `json:"stats"`
		Instances  []json.RawMessage `json:"instances"`
		LastUpdate time.Time         `json:"lastUpdate"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mode != "static" {
		t.Errorf("mode = %s, want static", body.Mode)
	}
	if body.Stats.Total != 2 || body.Stats.Ready != 2 {
		t.Errorf("stats = %+v, want 2 total 2 ready", body.Stats)
	}
	if len(body.Instances) != 2 {
		t.Errorf("instances = %d, want 2", len(body.Instances))
	}
	if body.LastUpdate.IsZero() {
		t.Error("lastUpdate should be set after refresh")
	}
}

func TestRefreshRequiresPost(t *testing.T) {
	sup := newTestSupervisor(t)

	rec := httptest.NewRecorder()
	sup.server.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/discovery/refresh", nil))
	if rec.Code != 405 {
		t.Fatalf("status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	sup.server.server.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/discovery/refresh", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatusReport(t *testing.T) {
	sup := newTestSupervisor(t)
	sup.Refresh(context.Background())

	rec := httptest.NewRecorder()
	sup.server.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var report StatusReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Mode != "static" {
		t.Errorf("mode = %s, want static", report.Mode)
	}
	if len(report.Instances) != 2 {
		t.Errorf("instances = %d, want 2", len(report.Instances))
	}
	for _, inst := range report.Instances {
		if inst.Recovery != "healthy" {
			t.Errorf("recovery state = %s, want healthy", inst.Recovery)
		}
	}
}

func TestHealthz(t *testing.T) {
	sup := newTestSupervisor(t)

	rec := httptest.NewRecorder()
	sup.server.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAlertsLimitValidation(t *testing.T) {
	sup := newTestSupervisor(t)

	rec := httptest.NewRecorder()
	sup.server.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/alerts?limit=abc", nil))
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	sup.server.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/alerts", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestUnknownOrchestratorMode(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.Mode = "nomad"
	if _, err := NewSupervisor(cfg); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestRunLoopSkipsOverlappingTicks(t *testing.T) {
	s := &Supervisor{log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	var running atomic.Int32
	var overlapped atomic.Bool
	var mu sync.Mutex
	calls := 0

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var busy atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runLoop(ctx, 10*time.Millisecond, &busy, "test", func(context.Context) {
			if running.Add(1) > 1 {
				overlapped.Store(true)
			}
			mu.Lock()
			calls++
			mu.Unlock()
			time.Sleep(35 * time.Millisecond)
			running.Add(-1)
		})
	}()
	<-done
	for running.Load() > 0 {
		time.Sleep(5 * time.Millisecond)
	}

	if overlapped.Load() {
		t.Fatal("cycles overlapped despite in-flight guard")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Fatal("expected at least one cycle")
	}
	if calls > 10 {
		t.Fatalf("expected skipped ticks to bound calls, got %d", calls)
	}
}
