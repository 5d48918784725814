package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings are process-level options for the dev server, loaded from
// NOW_DEV_* environment variables
type Settings struct {
	// Port is the listening port
	Port int `envconfig:"PORT" default:"3000"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// CacheAddr is an optional Redis address for the shared build
	// cache; empty means in-memory caching
	CacheAddr string `envconfig:"CACHE_ADDR"`

	// CacheTTL bounds how long cached build results are trusted
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"1h"`

	// RebuildSchedule is an optional cron expression for periodic
	// rebuilds; empty disables the scheduler
	RebuildSchedule string `envconfig:"REBUILD_SCHEDULE"`
}

// LoadSettings reads Settings from the environment
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("NOW_DEV", &s); err != nil {
		return nil, fmt.Errorf("failed to load server settings: %w", err)
	}

	if s.Port <= 0 || s.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", s.Port)
	}

	return &s, nil
}
