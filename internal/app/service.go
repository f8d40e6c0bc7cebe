// Package service assembles the experimentation engine from configuration
// and runs the background maintenance loops.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/javimosch/superbackend-sub004/internal/adapters/cache"
	"github.com/javimosch/superbackend-sub004/internal/adapters/notify"
	"github.com/javimosch/superbackend-sub004/internal/adapters/repository"
	"github.com/javimosch/superbackend-sub004/internal/config"
	"github.com/javimosch/superbackend-sub004/internal/experiment"
	"github.com/javimosch/superbackend-sub004/pkg/logger"
)

const cacheNamespace = "expd"

// Service owns the engine, its adapters, and the in-process scheduler.
type Service struct {
	mu sync.Mutex

	cfg    *config.Config
	engine *experiment.Engine
	hub    *notify.Hub
	store  repository.Store

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithStore overrides the configured store, mainly for tests.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// New constructs a Service from cfg. Nothing is connected until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start connects the adapters, builds the engine, and launches the
// scheduler loops when enabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	if s.store == nil {
		if s.cfg.PostgresURL != "" {
			store, err := repository.NewPostgresStore(ctx, s.cfg.PostgresURL)
			if err != nil {
				return err
			}
			s.store = store
			s.logger.Info(ctx, "using postgres store")
		} else {
			s.store = repository.NewMemStore()
			s.logger.Info(ctx, "using in-memory store")
		}
	}

	var engineCache cache.Cache
	if s.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			DB:       s.cfg.RedisDB,
			Password: s.cfg.RedisPassword,
		})
		engineCache = cache.NewRedis(client, cacheNamespace)
		s.logger.Info(ctx, "using redis cache", logger.String("addr", s.cfg.RedisAddr))
	} else {
		engineCache = cache.NewMemory()
		s.logger.Info(ctx, "using in-memory cache")
	}

	s.hub = notify.NewHub(s.logger)

	var webhook notify.WebhookSink = notify.NopWebhookSink{}
	if s.cfg.WebhookURL != "" {
		webhook = notify.NewHTTPWebhook(s.cfg.WebhookURL, notify.WithTimeout(s.cfg.WebhookTimeout))
		s.logger.Info(ctx, "webhook sink enabled", logger.String("url", s.cfg.WebhookURL))
	}

	s.engine = experiment.New(s.store,
		experiment.WithCache(engineCache),
		experiment.WithBroadcaster(s.hub),
		experiment.WithWebhookSink(webhook),
		experiment.WithLogger(s.logger),
		experiment.WithAssignmentTTL(s.cfg.AssignmentCacheTTL),
		experiment.WithWinnerTTL(s.cfg.WinnerCacheTTL),
		experiment.WithBucketWidth(s.cfg.BucketWidth),
		experiment.WithRetention(s.cfg.EventRetention(), s.cfg.BucketRetention()),
	)

	if s.cfg.SchedulerEnabled {
		s.wg.Add(2)
		go s.aggregationLoop()
		go s.retentionLoop()
	}

	s.started = true
	s.logger.Info(ctx, "experiment service started",
		logger.Bool("scheduler", s.cfg.SchedulerEnabled),
		logger.Duration("bucketWidth", s.cfg.BucketWidth),
	)
	return nil
}

// Stop shuts down the scheduler loops and releases store resources.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	close(s.stopCh)
	s.wg.Wait()

	if closer, ok := s.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	s.started = false
	s.logger.Info(context.Background(), "experiment service stopped")
}

// Engine exposes the assembled engine for HTTP registration.
func (s *Service) Engine() *experiment.Engine {
	return s.engine
}

// Hub exposes the websocket hub for route registration.
func (s *Service) Hub() *notify.Hub {
	return s.hub
}

// aggregationLoop periodically re-aggregates the trailing window and
// evaluates winners for active experiments.
func (s *Service) aggregationLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.AggregationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AggregationInterval)
			end := time.Now().UTC()
			if _, err := s.engine.RunAggregationAndWinner(ctx, s.cfg.BucketWidth, end.Add(-s.cfg.AggregationWindow), end); err != nil {
				s.logger.Error(ctx, "aggregation sweep failed", logger.Error(err))
			}
			cancel()
		}
	}
}

// retentionLoop periodically deletes expired events and buckets.
func (s *Service) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RetentionInterval)
			if _, err := s.engine.RunRetentionCleanup(ctx); err != nil {
				s.logger.Error(ctx, "retention sweep failed", logger.Error(err))
			}
			cancel()
		}
	}
}
