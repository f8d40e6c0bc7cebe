// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) to build a Config with defaults, Load(ctx) to layer
//   file and environment overrides on top.
// - External errors must be wrapped via this package's error helpers.
package config

import "time"

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// PostgresURL selects the durable store. Empty keeps the in-memory
	// store, which is only suitable for tests and local runs.
	PostgresURL string `koanf:"postgres_url"`

	// RedisAddr selects the shared cache. Empty keeps the in-process
	// memory cache.
	RedisAddr     string `koanf:"redis_addr"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPassword string `koanf:"redis_password"`

	// AssignmentCacheTTL and WinnerCacheTTL bound cache staleness.
	AssignmentCacheTTL time.Duration `koanf:"assignment_cache_ttl"`
	WinnerCacheTTL     time.Duration `koanf:"winner_cache_ttl"`

	// BucketWidth is the metric aggregation bucket width.
	BucketWidth time.Duration `koanf:"bucket_width"`

	// AggregationInterval spaces scheduled aggregation-and-winner sweeps;
	// AggregationWindow is how far back each sweep re-aggregates.
	AggregationInterval time.Duration `koanf:"aggregation_interval"`
	AggregationWindow   time.Duration `koanf:"aggregation_window"`

	// EventRetentionDays and BucketRetentionDays bound stored history.
	EventRetentionDays  int `koanf:"event_retention_days"`
	BucketRetentionDays int `koanf:"bucket_retention_days"`

	// RetentionInterval spaces scheduled retention sweeps.
	RetentionInterval time.Duration `koanf:"retention_interval"`

	// SchedulerEnabled runs the in-process aggregation and retention
	// loops. Disable when an external job runner drives the endpoints.
	SchedulerEnabled bool `koanf:"scheduler_enabled"`

	// WebhookURL receives winner-change notifications for org-scoped
	// experiments. Empty disables webhook delivery.
	WebhookURL     string        `koanf:"webhook_url"`
	WebhookTimeout time.Duration `koanf:"webhook_timeout"`
}

// New creates a Config with service defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		AssignmentCacheTTL:  60 * time.Second,
		WinnerCacheTTL:      30 * time.Second,
		BucketWidth:         time.Hour,
		AggregationInterval: 5 * time.Minute,
		AggregationWindow:   6 * time.Hour,
		EventRetentionDays:  30,
		BucketRetentionDays: 180,
		RetentionInterval:   time.Hour,
		SchedulerEnabled:    true,
		WebhookTimeout:      5 * time.Second,
	}
}

// EventRetention returns the raw event retention window as a duration.
func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionDays) * 24 * time.Hour
}

// BucketRetention returns the metric bucket retention window as a duration.
func (c *Config) BucketRetention() time.Duration {
	return time.Duration(c.BucketRetentionDays) * 24 * time.Hour
}
