// Package service assembles the embedding pipeline: database pool, stores,
// locks, cache, rate limits, breakers, embedder, discovery, workers and the
// monitoring server, joined under one shutdown controller.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/embedstar/internal/cache"
	"github.com/oriys/embedstar/internal/circuitbreaker"
	"github.com/oriys/embedstar/internal/config"
	"github.com/oriys/embedstar/internal/db"
	"github.com/oriys/embedstar/internal/embedder"
	"github.com/oriys/embedstar/internal/lock"
	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
	"github.com/oriys/embedstar/internal/observability"
	"github.com/oriys/embedstar/internal/ratelimit"
	"github.com/oriys/embedstar/internal/retry"
	"github.com/oriys/embedstar/internal/server"
	"github.com/oriys/embedstar/internal/shutdown"
	"github.com/oriys/embedstar/internal/store"
	"github.com/oriys/embedstar/internal/validation"
	"github.com/oriys/embedstar/internal/worker"
)

// providerTuning is the stock rate limit and breaker shape per provider.
// A local Ollama has no request quota; its breaker trips fast because a
// sick local daemon rarely heals on its own schedule.
type providerTuning struct {
	rpm     int
	breaker circuitbreaker.Config
}

func tuningFor(provider string) providerTuning {
	switch provider {
	case config.ProviderOpenAI:
		return providerTuning{
			rpm: 3000,
			breaker: circuitbreaker.Config{
				FailureThreshold:     5,
				Timeout:              120 * time.Second,
				SuccessThreshold:     3,
				FailureRateThreshold: 0.5,
				MinRequests:          10,
			},
		}
	case config.ProviderTogether, "togetherai":
		return providerTuning{
			rpm: 1000,
			breaker: circuitbreaker.Config{
				FailureThreshold:     10,
				Timeout:              60 * time.Second,
				SuccessThreshold:     5,
				FailureRateThreshold: 0.6,
				MinRequests:          20,
			},
		}
	case config.ProviderBedrock:
		return providerTuning{rpm: 2000, breaker: circuitbreaker.DefaultConfig()}
	default: // ollama
		return providerTuning{
			breaker: circuitbreaker.Config{
				FailureThreshold:     3,
				Timeout:              30 * time.Second,
				SuccessThreshold:     2,
				FailureRateThreshold: 0.3,
				MinRequests:          5,
			},
		}
	}
}

// Service is the assembled pipeline.
type Service struct {
	cfg       *config.Config
	pool      *db.Pool
	store     *store.Store
	locks     *lock.Manager
	cache     cache.EmbeddingCache
	limiter   *ratelimit.Limiter
	breakers  *circuitbreaker.Registry
	embedder  *embedder.Embedder
	discovery *worker.Discovery
	workers   *worker.Pool
	janitor   *worker.Janitor
	monitor   *server.Server
	ctrl      *shutdown.Controller
}

// New builds every component from config. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.SetLevelFromString(cfg.LogLevel)
	metrics.Init()

	if err := observability.Init(ctx, cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool := db.NewPool(db.PoolConfig{
		Conn: db.Config{
			URL:       cfg.DBURL,
			User:      cfg.DBUser,
			Pass:      cfg.DBPass,
			Namespace: cfg.DBNamespace,
			Database:  cfg.DBDatabase,
		},
		Size:           cfg.PoolSize,
		MaxSize:        cfg.PoolMaxSize,
		WaitTimeout:    time.Duration(cfg.PoolWaitTimeoutSecs) * time.Second,
		CreateTimeout:  time.Duration(cfg.PoolCreateTimeoutSecs) * time.Second,
		RecycleTimeout: time.Duration(cfg.PoolRecycleTimeoutSecs) * time.Second,
	})
	pool.Prewarm(ctx)

	retryCfg := retry.Config{
		MaxRetries:      cfg.RetryAttempts,
		InitialInterval: time.Duration(cfg.RetryDelayMS) * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}

	st := store.New(pool, retryCfg)
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	emb, err := embedder.New(cfg,
		embedder.WithRetry(retryCfg),
		embedder.WithValidator(validation.New(validation.DefaultConfig())),
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	tuning := tuningFor(cfg.EmbeddingProvider)
	limiter := ratelimit.New()
	limiter.Configure(emb.ProviderName(), tuning.rpm)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	breakers.Register(emb.ProviderName(), tuning.breaker)

	var c cache.EmbeddingCache
	l1 := cache.NewLRU(cache.DefaultMaxSize, cache.DefaultTTL)
	if cfg.Redis.Addr != "" {
		c = cache.NewTiered(l1, cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), cache.DefaultTTL)
	} else {
		c = l1
	}

	locks := lock.NewManager(pool)
	ctrl := shutdown.NewController()

	buffer := cfg.BatchSize * cfg.ParallelWorkers * 2
	discovery := worker.NewDiscovery(st, ctrl, buffer)

	workers := worker.NewPool(st, locks, c, limiter, breakers, emb, ctrl, discovery.Channel(), worker.Config{
		Workers:    cfg.ParallelWorkers,
		BatchSize:  cfg.BatchSize,
		BatchDelay: time.Duration(cfg.BatchDelayMS) * time.Millisecond,
		Retry:      retryCfg,
	})

	janitor := worker.NewJanitor(st, locks, c, ctrl)

	monitor := server.New(cfg.MonitoringPort, pool, breakers, c, ctrl,
		emb.ProviderName(), emb.ModelName(), locks.InstanceID())

	return &Service{
		cfg:       cfg,
		pool:      pool,
		store:     st,
		locks:     locks,
		cache:     c,
		limiter:   limiter,
		breakers:  breakers,
		embedder:  emb,
		discovery: discovery,
		workers:   workers,
		janitor:   janitor,
		monitor:   monitor,
		ctrl:      ctrl,
	}, nil
}

// Run starts every component and blocks until shutdown completes.
func (s *Service) Run(ctx context.Context) error {
	s.logStartupStats(ctx)

	s.monitor.Start()
	s.janitor.Start(ctx)
	s.workers.Start(ctx)
	s.discovery.Start(ctx)
	s.ctrl.HandleSignals()

	logging.Op().Info("pipeline running",
		"provider", s.embedder.ProviderName(),
		"model", s.embedder.ModelName(),
		"workers", s.cfg.ParallelWorkers,
		"batch_size", s.cfg.BatchSize,
		"instance_id", s.locks.InstanceID())

	<-s.ctrl.Done()

	clean := s.ctrl.Wait(shutdown.DefaultJoinTimeout)

	s.cache.Close()
	s.pool.Close()
	if err := observability.Shutdown(context.Background()); err != nil {
		logging.Op().Warn("telemetry shutdown", "error", err)
	}

	if !clean {
		return fmt.Errorf("shutdown abandoned running tasks after %s", shutdown.DefaultJoinTimeout)
	}
	logging.Op().Info("pipeline stopped")
	return nil
}

// Shutdown requests termination; Run completes the join.
func (s *Service) Shutdown() { s.ctrl.Shutdown() }

func (s *Service) logStartupStats(ctx context.Context) {
	total, err := s.store.TotalRepoCount(ctx)
	if err != nil {
		logging.Op().Warn("startup stats unavailable", "error", err)
		return
	}
	embedded, err := s.store.EmbeddedRepoCount(ctx)
	if err != nil {
		logging.Op().Warn("startup stats unavailable", "error", err)
		return
	}
	pending, err := s.store.PendingRepoCount(ctx)
	if err != nil {
		logging.Op().Warn("startup stats unavailable", "error", err)
		return
	}

	metrics.SetPendingRepos(int64(pending))
	logging.Op().Info("record inventory",
		"total", total, "embedded", embedded, "pending", pending)
}
