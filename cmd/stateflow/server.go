package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/stateflow/api"
	"github.com/BaSui01/stateflow/api/handlers"
	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/config"
	"github.com/BaSui01/stateflow/internal/cache"
	"github.com/BaSui01/stateflow/internal/database"
	"github.com/BaSui01/stateflow/internal/metrics"
	"github.com/BaSui01/stateflow/internal/server"
	"github.com/BaSui01/stateflow/internal/telemetry"
	"github.com/BaSui01/stateflow/scheduler"
	"github.com/BaSui01/stateflow/store"
	"github.com/BaSui01/stateflow/thread"
	"github.com/BaSui01/stateflow/types"
)

// statsInterval is how often scheduler and pool gauges are refreshed.
const statsInterval = 10 * time.Second

// Server wires the configured backend, the engine, and the two HTTP
// listeners (API and metrics) into one lifecycle.
type Server struct {
	config *config.Config
	logger *zap.Logger

	promRegistry *prometheus.Registry
	collector    *metrics.Collector

	pool  *database.PoolManager
	cache *cache.Manager

	threads  *thread.Registry
	sched    *scheduler.Scheduler
	webhooks *scheduler.WebhookNotifier

	otel *telemetry.Providers

	apiServer     *server.Manager
	metricsServer *server.Manager

	stopStats chan struct{}
	stopOnce  sync.Once
}

// NewServer builds the full engine from cfg. It connects to the configured
// backend and runs its schema migrations, but does not start listening.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) (*Server, error) {
	s := &Server{
		config:       cfg,
		logger:       logger,
		promRegistry: prometheus.NewRegistry(),
		otel:         otel,
		stopStats:    make(chan struct{}),
	}
	s.collector = metrics.NewCollector("stateflow", s.promRegistry, logger)

	threadStore, log, runs, kv, checks, err := s.initBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	s.threads = thread.NewRegistry(threadStore, log, logger)
	s.webhooks = scheduler.NewWebhookNotifier(logger, scheduler.WebhookOptions{
		Timeout:       cfg.Webhook.Timeout,
		MaxRetries:    cfg.Webhook.MaxRetries,
		RetryInterval: cfg.Webhook.RetryInterval,
		RatePerSecond: cfg.Webhook.RatePerSecond,
	})
	s.sched = scheduler.New(s.threads, runs, s.webhooks, logger, scheduler.Options{
		DefaultTimeout: cfg.Scheduler.DefaultRunTimeout,
		MaxQueueDepth:  cfg.Scheduler.MaxQueueDepth,
	})
	registerBuiltinTargets(s.sched)

	router := api.NewRouter(api.RouterOptions{
		Registry:     s.threads,
		Scheduler:    s.sched,
		Store:        kv,
		Metrics:      s.collector,
		HealthChecks: checks,
	}, logger)

	s.apiServer = server.NewManager(router, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)
	s.metricsServer = server.NewMetricsManager(s.promRegistry, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return s, nil
}

// initBackend builds the four persistence surfaces for the configured
// backend and the readiness probes that cover it.
func (s *Server) initBackend(cfg *config.Config, logger *zap.Logger) (
	thread.ThreadStore, checkpoint.Log, scheduler.RunStore, store.Store, []handlers.HealthCheck, error,
) {
	switch cfg.Backend {
	case "memory":
		return thread.NewMemoryStore(), checkpoint.NewMemoryLog(),
			scheduler.NewMemoryRunStore(), store.NewMemoryStore(), nil, nil

	case "sql":
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("open database: %w", err)
		}
		poolCfg := database.DefaultPoolConfig()
		if cfg.Database.MaxOpenConns > 0 {
			poolCfg.MaxOpenConns = cfg.Database.MaxOpenConns
		}
		if cfg.Database.MaxIdleConns > 0 {
			poolCfg.MaxIdleConns = cfg.Database.MaxIdleConns
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			poolCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		}
		pool, err := database.NewPoolManager(db, poolCfg, logger)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("configure pool: %w", err)
		}
		s.pool = pool

		threads := thread.NewGormStore(db, logger)
		log := checkpoint.NewGormLog(db, logger)
		runs := scheduler.NewGormRunStore(db, logger)
		kv := store.NewGormStore(db, logger)
		for _, migrate := range []func() error{threads.Migrate, log.Migrate, runs.Migrate, kv.Migrate} {
			if err := migrate(); err != nil {
				return nil, nil, nil, nil, nil, fmt.Errorf("migrate schema: %w", err)
			}
		}

		checks := []handlers.HealthCheck{handlers.HealthCheckFunc{
			CheckName: "database",
			Fn:        pool.Ping,
		}}
		return threads, log, runs, kv, checks, nil

	case "redis":
		manager, err := cache.NewManager(cache.Config{
			Addr:                cfg.Redis.Addr,
			Password:            cfg.Redis.Password,
			DB:                  cfg.Redis.DB,
			PoolSize:            cfg.Redis.PoolSize,
			MinIdleConns:        cfg.Redis.MinIdleConns,
			HealthCheckInterval: 30 * time.Second,
		}, logger)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		s.cache = manager

		// Threads and runs stay in memory under the redis backend; only
		// the checkpoint log and the KV store live in Redis.
		checks := []handlers.HealthCheck{handlers.HealthCheckFunc{
			CheckName: "redis",
			Fn:        manager.Ping,
		}}
		return thread.NewMemoryStore(),
			checkpoint.NewRedisLog(manager.Client(), "stateflow", logger),
			scheduler.NewMemoryRunStore(),
			store.NewRedisStore(manager.Client(), "stateflow", logger),
			checks, nil

	default:
		return nil, nil, nil, nil, nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

// Start brings up both listeners and the background sweeps.
func (s *Server) Start() error {
	if err := s.metricsServer.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	if err := s.apiServer.Start(); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	s.threads.StartTTLSweeper(s.config.Scheduler.TTLSweepInterval)
	s.sched.StartRetention(s.config.Scheduler.RetentionInterval, s.config.Scheduler.RetentionAge)
	go s.statsLoop()

	s.logger.Info("stateflow server started",
		zap.String("api_addr", s.apiServer.Addr()),
		zap.String("metrics_addr", s.metricsServer.Addr()),
		zap.String("backend", s.config.Backend),
	)
	return nil
}

// statsLoop refreshes scheduler and connection-pool gauges.
func (s *Server) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopStats:
			return
		case <-ticker.C:
			stats := s.sched.Stats()
			s.collector.SetSchedulerLoad(stats.ActiveRuns, stats.QueuedRuns)
			if s.pool != nil {
				db := s.pool.Stats()
				s.collector.RecordDBConnections(s.config.Database.Driver, db.OpenConnections, db.Idle)
			}
		}
	}
}

// WaitForShutdown blocks until a termination signal or a listener failure,
// then tears everything down.
func (s *Server) WaitForShutdown() {
	s.apiServer.WaitForShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown incomplete", zap.Error(err))
	}
}

// Shutdown stops the listeners, drains the scheduler, and closes the
// backend connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopStats) })
	s.threads.StopTTLSweeper()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.apiServer.Shutdown(gctx) })
	g.Go(func() error { return s.metricsServer.Shutdown(gctx) })
	err := g.Wait()

	if serr := s.sched.Shutdown(ctx); serr != nil && err == nil {
		err = serr
	}
	s.webhooks.Close()

	if s.pool != nil {
		if cerr := s.pool.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if s.cache != nil {
		if cerr := s.cache.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if s.otel != nil {
		if terr := s.otel.Shutdown(ctx); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}

func (s *Server) shutdownTimeout() time.Duration {
	if t := s.config.Server.ShutdownTimeout; t > 0 {
		return t
	}
	return 30 * time.Second
}

// registerBuiltinTargets installs the targets every deployment gets.
// Real workloads register their own computations before Start.
func registerBuiltinTargets(s *scheduler.Scheduler) {
	// noop persists the run input as the thread's new state. Useful as a
	// smoke target and for seeding threads over the HTTP API.
	s.Register("noop", scheduler.ComputationFunc(func(ctx context.Context, rc *scheduler.RunContext) (types.Document, error) {
		return rc.Input(), nil
	}))

	// sleep waits for the duration in input["duration"], honouring
	// cancellation. Used to exercise timeouts and conflict policies.
	s.Register("sleep", scheduler.ComputationFunc(func(ctx context.Context, rc *scheduler.RunContext) (types.Document, error) {
		d := time.Second
		if raw, ok := rc.Input()["duration"].(string); ok {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", raw, err)
			}
			d = parsed
		}
		select {
		case <-time.After(d):
			return rc.Values(), nil
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}))
}
