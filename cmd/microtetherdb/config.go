package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdb"
)

// Config is the on-disk shape for --config, mirroring the Options knobs
// in pkg/mtdb. Every field is optional; zero values fall back to
// pkg/mtdb's own defaults.
type Config struct {
	Filename          string `yaml:"filename"`
	InMemory          *bool  `yaml:"in_memory"`
	RAMPercentage     int    `yaml:"ram_percentage"`
	MaxRetries        int    `yaml:"max_retries"`
	RetryDelaySeconds float64 `yaml:"retry_delay"`
	LockTimeoutSeconds float64 `yaml:"lock_timeout"`
	CleanupIntervalSeconds float64 `yaml:"cleanup_interval"`
	TTLCheckIntervalSeconds float64 `yaml:"ttl_check_interval"`
	BTreeCacheSize    int  `yaml:"btree_cachesize"`
	BTreePageSize     int  `yaml:"btree_pagesize"`
	AdaptiveThreshold *bool `yaml:"adaptive_threshold"`
}

// loadConfig reads path (if non-empty) and translates it into
// mtdb.Option values layered over pkg/mtdb's defaults.
func loadConfig(path string) ([]mtdb.Option, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	var opts []mtdb.Option
	if cfg.Filename != "" {
		opts = append(opts, mtdb.WithFilename(cfg.Filename))
	}
	if cfg.InMemory != nil && *cfg.InMemory {
		opts = append(opts, mtdb.WithInMemory())
	}
	if cfg.RAMPercentage > 0 {
		opts = append(opts, mtdb.WithRAMPercentage(cfg.RAMPercentage))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, mtdb.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.RetryDelaySeconds > 0 {
		opts = append(opts, mtdb.WithRetryDelay(secondsToDuration(cfg.RetryDelaySeconds)))
	}
	if cfg.LockTimeoutSeconds > 0 {
		opts = append(opts, mtdb.WithLockTimeout(secondsToDuration(cfg.LockTimeoutSeconds)))
	}
	if cfg.CleanupIntervalSeconds > 0 {
		opts = append(opts, mtdb.WithCleanupInterval(secondsToDuration(cfg.CleanupIntervalSeconds)))
	}
	if cfg.TTLCheckIntervalSeconds > 0 {
		opts = append(opts, mtdb.WithTTLCheckInterval(secondsToDuration(cfg.TTLCheckIntervalSeconds)))
	}
	if cfg.BTreeCacheSize > 0 {
		opts = append(opts, mtdb.WithBTreeCacheSize(cfg.BTreeCacheSize))
	}
	if cfg.BTreePageSize > 0 {
		opts = append(opts, mtdb.WithBTreePageSize(cfg.BTreePageSize))
	}
	if cfg.AdaptiveThreshold != nil {
		opts = append(opts, mtdb.WithAdaptiveThreshold(*cfg.AdaptiveThreshold))
	}
	return opts, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
