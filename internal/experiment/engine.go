// Package experiment implements the experimentation engine: deterministic
// variant assignment, event ingestion, time-bucketed metric aggregation,
// winner evaluation, and retention sweeps. Persistence, caching, and
// notification transports are injected capabilities.
package experiment

import (
	"time"

	"github.com/javimosch/superbackend-sub004/internal/adapters/cache"
	"github.com/javimosch/superbackend-sub004/internal/adapters/notify"
	"github.com/javimosch/superbackend-sub004/internal/adapters/repository"
	"github.com/javimosch/superbackend-sub004/pkg/logger"
)

// Engine defaults. Cache TTLs are deliberately short: the cache is
// best-effort and never authoritative.
const (
	defaultAssignmentTTL   = 60 * time.Second
	defaultWinnerTTL       = 30 * time.Second
	defaultBucketWidth     = time.Hour
	defaultEventRetention  = 30 * 24 * time.Hour
	defaultBucketRetention = 180 * 24 * time.Hour
)

// Engine is the experimentation core. All methods are safe for concurrent
// use by multiple request handlers.
type Engine struct {
	store   repository.Store
	cache   cache.Cache
	hub     notify.Broadcaster
	webhook notify.WebhookSink

	assignmentTTL   time.Duration
	winnerTTL       time.Duration
	bucketWidth     time.Duration
	eventRetention  time.Duration
	bucketRetention time.Duration

	now func() time.Time
	log logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithCache sets the best-effort TTL cache.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithBroadcaster sets the realtime winner-change sink.
func WithBroadcaster(b notify.Broadcaster) Option {
	return func(e *Engine) {
		if b != nil {
			e.hub = b
		}
	}
}

// WithWebhookSink sets the org-scoped webhook sink.
func WithWebhookSink(w notify.WebhookSink) Option {
	return func(e *Engine) {
		if w != nil {
			e.webhook = w
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithAssignmentTTL overrides the assignment cache TTL.
func WithAssignmentTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.assignmentTTL = ttl
		}
	}
}

// WithWinnerTTL overrides the winner snapshot cache TTL.
func WithWinnerTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.winnerTTL = ttl
		}
	}
}

// WithBucketWidth overrides the default aggregation bucket width.
func WithBucketWidth(w time.Duration) Option {
	return func(e *Engine) {
		if w > 0 {
			e.bucketWidth = w
		}
	}
}

// WithRetention sets the raw event and metric bucket retention windows.
func WithRetention(events, buckets time.Duration) Option {
	return func(e *Engine) {
		if events > 0 {
			e.eventRetention = events
		}
		if buckets > 0 {
			e.bucketRetention = buckets
		}
	}
}

// WithClock overrides the time source, letting tests pin "now".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an Engine over store with default configuration: memory
// cache, no-op notification sinks, spec-default TTLs and retention.
func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		cache:           cache.NewMemory(),
		hub:             notify.NopBroadcaster{},
		webhook:         notify.NopWebhookSink{},
		assignmentTTL:   defaultAssignmentTTL,
		winnerTTL:       defaultWinnerTTL,
		bucketWidth:     defaultBucketWidth,
		eventRetention:  defaultEventRetention,
		bucketRetention: defaultBucketRetention,
		now:             time.Now,
		log:             logger.Get().Named("experiment"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cache key layout. Everything scoped to one experiment shares the
// "exp:<id>:" prefix so a winner decision can invalidate the whole scope
// in one sweep.
func assignmentCacheKey(experimentID, subjectKey string) string {
	return "exp:" + experimentID + ":assign:" + subjectKey
}

func winnerCacheKey(experimentID string) string {
	return "exp:" + experimentID + ":winner"
}

func experimentCachePrefix(experimentID string) string {
	return "exp:" + experimentID + ":"
}
