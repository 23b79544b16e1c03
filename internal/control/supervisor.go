// Package control wires the discovery, probing, recovery, and alerting
// components together and runs their cycles.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/locolabs/fleetwatch/internal/alerts"
	"github.com/locolabs/fleetwatch/internal/core/config"
	"github.com/locolabs/fleetwatch/internal/core/domain"
	"github.com/locolabs/fleetwatch/internal/discovery"
	"github.com/locolabs/fleetwatch/internal/events"
	"github.com/locolabs/fleetwatch/internal/health"
	"github.com/locolabs/fleetwatch/internal/infra/breaker"
	"github.com/locolabs/fleetwatch/internal/infra/orchestrator"
	"github.com/locolabs/fleetwatch/internal/infra/redisclient"
	"github.com/locolabs/fleetwatch/internal/infra/storage"
	"github.com/locolabs/fleetwatch/internal/infra/storage/memory"
	"github.com/locolabs/fleetwatch/internal/infra/storage/postgres"
	"github.com/locolabs/fleetwatch/internal/recovery"
)

// Supervisor owns the component graph and the periodic cycles that drive
// it: a fast connectivity probe, a slower deep probe, and a discovery
// refresh. Each cycle is guarded by an in-flight flag so a slow fleet
// never stacks overlapping cycles.
type Supervisor struct {
	cfg      config.AppConfig
	cache    *discovery.Cache
	watcher  *discovery.Watcher
	prober   *health.Prober
	recovery *recovery.Orchestrator
	tracker  *recovery.Tracker
	sink     *alerts.Sink
	registry *breaker.Registry
	bus      *events.Bus
	hub      *events.Hub
	server   *Server

	db          *postgres.DB
	redisClient *redisclient.Client

	pingBusy    atomic.Bool
	deepBusy    atomic.Bool
	refreshBusy atomic.Bool

	cycles       atomic.Int64
	failedCycles atomic.Int64

	startedAt time.Time
	log       *slog.Logger
}

// NewSupervisor builds the full component graph from configuration.
func NewSupervisor(cfg config.AppConfig) (*Supervisor, error) {
	log := slog.Default()

	// Storage: postgres when configured, otherwise in-memory.
	var history storage.AlertHistoryRepository
	var db *postgres.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		history = postgres.NewAlertRepo(db)
		log.Info("using postgresql alert history")
	} else {
		history = memory.NewAlertRepo()
		log.Info("using in-memory alert history")
	}

	// Cooldown state: redis when configured so suppression is shared
	// across replicas, otherwise process local.
	var cooldown alerts.CooldownStore
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("failed to connect to redis, using local cooldowns", "error", err)
		} else {
			cooldown = alerts.NewRedisCooldown(redisClient)
			log.Info("using redis alert cooldowns")
		}
	}
	if cooldown == nil {
		cooldown = alerts.NewMemoryCooldown()
	}

	client, err := buildOrchestratorClient(cfg.Orchestrator)
	if err != nil {
		return nil, err
	}

	registry := breaker.NewRegistry(breaker.Config{
		ErrorThresholdPercent: cfg.Breaker.ErrorThresholdPercent,
		ResetTimeout:          cfg.Breaker.ResetTimeout,
		MinSamples:            cfg.Breaker.MinSamples,
		CallTimeout:           cfg.Breaker.CallTimeout,
		Window:                cfg.Breaker.Window,
	})

	bus := events.NewBus()
	hub := events.NewHub(bus)

	cache := discovery.NewCache(client, registry, cfg.Discovery.TTL)
	watcher := discovery.NewWatcher(client, cache)

	probeHistory := health.NewHistory(cfg.Health.HistorySize)
	prober := health.NewProber(cfg.Health, registry, probeHistory, bus)

	var channels []alerts.Channel
	if cfg.Alerts.WebhookURL != "" {
		channels = append(channels, alerts.NewWebhookChannel(cfg.Alerts.WebhookURL, cfg.Alerts.RequestTimeout))
	}
	sink := alerts.NewSink(channels, cfg.Alerts.Cooldown, cooldown, history, bus, log)

	netAction := recovery.NewHTTPNetworkAction(cfg.Recovery.ActionTimeout)
	var actioner recovery.Actioner
	if pods, ok := client.(orchestrator.Actioner); ok {
		actioner = recovery.NewKubeActioner(pods, netAction, log)
	} else {
		actioner = recovery.NewNetworkOnlyActioner(netAction)
	}
	tracker := recovery.NewTracker(cfg.Recovery.MaxAttempts)
	recoveryOrch := recovery.NewOrchestrator(tracker, actioner, sink, log)

	s := &Supervisor{
		cfg:         cfg,
		cache:       cache,
		watcher:     watcher,
		prober:      prober,
		recovery:    recoveryOrch,
		tracker:     tracker,
		sink:        sink,
		registry:    registry,
		bus:         bus,
		hub:         hub,
		db:          db,
		redisClient: redisClient,
		startedAt:   time.Now(),
		log:         log,
	}
	s.server = NewServer(s, cfg.Server.Port)
	return s, nil
}

func buildOrchestratorClient(cfg config.OrchestratorConfig) (orchestrator.Client, error) {
	switch cfg.Mode {
	case "kubernetes-pods":
		return orchestrator.NewKubeClient(orchestrator.KubeConfig{
			Namespace:      cfg.Namespace,
			KubeconfigPath: cfg.Kubeconfig,
			Context:        cfg.Context,
			Selector:       cfg.Selector,
		})
	case "kubernetes-endpoints":
		return orchestrator.NewEndpointsClient(orchestrator.KubeConfig{
			Namespace:      cfg.Namespace,
			KubeconfigPath: cfg.Kubeconfig,
			Context:        cfg.Context,
			Selector:       cfg.Selector,
		})
	case "static":
		endpoints := make([]orchestrator.StaticEndpoint, 0, len(cfg.StaticEndpoints))
		for _, ep := range cfg.StaticEndpoints {
			endpoints = append(endpoints, orchestrator.StaticEndpoint{
				Name:  ep.Name,
				Host:  ep.Host,
				Ports: ep.Ports,
			})
		}
		return orchestrator.NewStaticClient(endpoints), nil
	default:
		return nil, fmt.Errorf("unknown orchestrator mode %q", cfg.Mode)
	}
}

// Start launches the HTTP server, websocket hub, orchestrator watch, and
// the periodic cycles. It returns immediately; cancel ctx to stop.
func (s *Supervisor) Start(ctx context.Context) error {
	go s.hub.Run()
	go s.watcher.Run(ctx)
	go func() {
		if err := s.server.Start(); err != nil {
			s.log.Error("http server failed", "error", err)
		}
	}()

	// Prime the cache so the first probe cycle has a fleet to work on.
	s.cache.Discover(ctx)

	go s.runLoop(ctx, s.cfg.Health.ProbeInterval, &s.pingBusy, "ping", func(ctx context.Context) {
		s.runProbeCycle(ctx, false)
	})
	go s.runLoop(ctx, s.cfg.Health.DeepProbeInterval, &s.deepBusy, "deep-probe", func(ctx context.Context) {
		s.runProbeCycle(ctx, true)
	})
	go s.runLoop(ctx, s.cfg.Discovery.RefreshInterval, &s.refreshBusy, "discovery-refresh", s.runRefreshCycle)

	s.log.Info("supervisor started",
		"mode", s.cache.Snapshot().Mode,
		"port", s.cfg.Server.Port)
	return nil
}

// Stop shuts the supervisor down. In-flight cycles observe ctx
// cancellation through their own context.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.log.Info("stopping supervisor")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("failed to close redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("failed to close db", "error", err)
		}
	}
	return s.server.Stop(ctx)
}

// runLoop ticks fn at the given interval, skipping ticks while a previous
// run is still in flight.
func (s *Supervisor) runLoop(ctx context.Context, interval time.Duration, busy *atomic.Bool, name string, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !busy.CompareAndSwap(false, true) {
				s.log.Warn("cycle still in flight, skipping tick", "cycle", name)
				continue
			}
			go func() {
				defer busy.Store(false)
				fn(ctx)
			}()
		}
	}
}

// runProbeCycle probes the current fleet and feeds results through
// classification and recovery. Deep cycles fetch the full health document;
// fast cycles only verify connectivity.
func (s *Supervisor) runProbeCycle(ctx context.Context, deep bool) {
	snapshot := s.cache.Discover(ctx)
	if len(snapshot.Instances) == 0 {
		return
	}

	summary := s.prober.RunCycle(ctx, snapshot.Instances, deep)
	s.cycles.Add(1)
	if summary.Errors > 0 {
		s.failedCycles.Add(1)
	}

	// Recovery decisions only follow deep probes: a fast ping carries too
	// little signal to restart a workload over.
	if !deep {
		return
	}
	byID := make(map[string]domain.Instance, len(snapshot.Instances))
	for _, inst := range snapshot.Instances {
		byID[inst.ID] = inst
	}
	for _, result := range summary.Results {
		inst, ok := byID[result.InstanceID]
		if !ok {
			continue
		}
		s.recovery.HandleResult(ctx, inst, recovery.Classify(result))
	}
}

// runRefreshCycle forces a discovery refresh and drops state for departed
// instances.
func (s *Supervisor) runRefreshCycle(ctx context.Context) {
	snapshot := s.cache.Refresh(ctx)

	keep := make(map[string]struct{}, len(snapshot.Instances))
	active := make(map[string]bool, len(snapshot.Instances))
	for _, inst := range snapshot.Instances {
		keep[inst.ID] = struct{}{}
		active[inst.ID] = true
	}
	s.tracker.Forget(keep)
	s.prober.History().Prune(active)

	s.bus.Publish(events.Event{Type: events.TypeDiscovery, Data: snapshot})
}

// InstanceStatus is one entry of the fleet status report.
type InstanceStatus struct {
	Instance domain.Instance      `json:"instance"`
	Rollup   health.Rollup        `json:"rollup"`
	Recovery domain.RecoveryState `json:"recovery"`
}

// StatusReport summarizes the supervisor's view of the fleet.
type StatusReport struct {
	UptimeSeconds    int64                `json:"uptime_seconds"`
	Mode             string               `json:"mode"`
	Source           string               `json:"source"`
	Stats            domain.SnapshotStats `json:"stats"`
	CycleSuccessRate float64              `json:"cycle_success_rate"`
	OpenBreakers     []string             `json:"open_breakers"`
	Instances        []InstanceStatus     `json:"instances"`
}

// Status builds a point-in-time report for the control API.
func (s *Supervisor) Status() StatusReport {
	snapshot := s.cache.Snapshot()

	report := StatusReport{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Mode:          string(snapshot.Mode),
		Source:        string(snapshot.Source),
		Stats:         snapshot.Stats(),
		OpenBreakers:  s.registry.OpenNames(),
		Instances:     make([]InstanceStatus, 0, len(snapshot.Instances)),
	}

	total := s.cycles.Load()
	if total > 0 {
		report.CycleSuccessRate = float64(total-s.failedCycles.Load()) / float64(total)
	}

	rollups := s.prober.History().All()
	for _, inst := range snapshot.Instances {
		report.Instances = append(report.Instances, InstanceStatus{
			Instance: inst,
			Rollup:   rollups[inst.ID],
			Recovery: s.recovery.State(inst.ID),
		})
	}
	return report
}

// Snapshot exposes the current discovery snapshot for the HTTP layer.
func (s *Supervisor) Snapshot() domain.DiscoverySnapshot {
	return s.cache.Snapshot()
}

// Refresh forces a discovery refresh, bypassing the TTL.
func (s *Supervisor) Refresh(ctx context.Context) domain.DiscoverySnapshot {
	return s.cache.Refresh(ctx)
}

// RecentAlerts proxies stored alert history.
func (s *Supervisor) RecentAlerts(ctx context.Context, limit int) ([]*domain.Alert, error) {
	return s.sink.Recent(ctx, limit)
}
