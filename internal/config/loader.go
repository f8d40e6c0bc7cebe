package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if EXPD_CONFIG is set
//  3. env (prefix EXPD_)
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("EXPD_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: EXPD_ADDR, EXPD_POSTGRES_URL, ...
	// Map env keys like EXPD_BUCKET_WIDTH -> bucket_width (flat keys).
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("EXPD_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "expd_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal over a copy of the defaults.
	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.BucketWidth <= 0 {
		return fmt.Errorf("%w: bucket_width must be positive", ErrInvalidConfig)
	}
	if c.EventRetentionDays <= 0 || c.BucketRetentionDays <= 0 {
		return fmt.Errorf("%w: retention windows must be positive", ErrInvalidConfig)
	}
	if c.BucketRetentionDays < c.EventRetentionDays {
		return fmt.Errorf("%w: bucket retention must outlast event retention", ErrInvalidConfig)
	}
	return nil
}
