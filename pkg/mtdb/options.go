package mtdb

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/log"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/metrics"
)

// Options configures an open Store (spec §6 configuration knobs, plus
// the auto_flush_seconds timer described in §4.6).
type Options struct {
	Filename          string
	InMemory          bool
	RAMPercentage     int
	MaxRetries        int
	RetryDelay        time.Duration
	LockTimeout       time.Duration
	CleanupInterval   time.Duration
	TTLCheckInterval  time.Duration
	BTreeCacheSize    int
	BTreePageSize     int
	AdaptiveThreshold bool
	AutoFlushInterval time.Duration
	Logger            zerolog.Logger
	Registry          *metrics.Registry
}

// Option mutates an Options value.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		InMemory:          true,
		RAMPercentage:     25,
		MaxRetries:        3,
		RetryDelay:        100 * time.Millisecond,
		LockTimeout:       5 * time.Second,
		CleanupInterval:   time.Hour,
		TTLCheckInterval:  10 * time.Second,
		BTreeCacheSize:    32,
		BTreePageSize:     512,
		AdaptiveThreshold: true,
		AutoFlushInterval: 30 * time.Second,
		Logger:            log.WithComponent("store"),
	}
}

// WithFilename sets the FileBacking path and selects FileBacking (it sets
// InMemory to false) unless WithInMemory is also passed after it.
func WithFilename(path string) Option {
	return func(o *Options) { o.Filename = path; o.InMemory = false }
}

// WithInMemory selects MemoryBacking (the default).
func WithInMemory() Option {
	return func(o *Options) { o.InMemory = true }
}

// WithRAMPercentage sets the MemoryBacking's initial size as a percentage
// of free memory (default 25).
func WithRAMPercentage(pct int) Option {
	return func(o *Options) { o.RAMPercentage = pct }
}

// WithMaxRetries sets the retry count for transient ErrIO (default 3).
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithRetryDelay sets the backoff between retries (default 100ms).
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryDelay = d }
}

// WithLockTimeout bounds how long a mutation waits for a shared-lease
// drain before failing with ErrLockTimeout (default 5s).
func WithLockTimeout(d time.Duration) Option {
	return func(o *Options) { o.LockTimeout = d }
}

// WithCleanupInterval records the full-scan cadence (default 1h). Open
// does not start a full-scan loop: the value is kept in Options only, and
// expiry is driven by the TTLCheckInterval heap sweep alone.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *Options) { o.CleanupInterval = d }
}

// WithTTLCheckInterval sets the TTL heap sweep cadence (default 10s).
func WithTTLCheckInterval(d time.Duration) Option {
	return func(o *Options) { o.TTLCheckInterval = d }
}

// WithBTreeCacheSize sets the BTree page cache size in pages (default 32).
func WithBTreeCacheSize(pages int) Option {
	return func(o *Options) { o.BTreeCacheSize = pages }
}

// WithBTreePageSize sets the BTree page size in bytes (default 512).
func WithBTreePageSize(bytes int) Option {
	return func(o *Options) { o.BTreePageSize = bytes }
}

// WithAdaptiveThreshold enables or disables the adaptive flush ladder
// (default true; false pins the flush threshold at 10).
func WithAdaptiveThreshold(enabled bool) Option {
	return func(o *Options) { o.AdaptiveThreshold = enabled }
}

// WithAutoFlushInterval sets the independent flush timer that fires when
// pending mutations exist (default 30s).
func WithAutoFlushInterval(d time.Duration) Option {
	return func(o *Options) { o.AutoFlushInterval = d }
}

// WithLogger overrides the store's component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetricsRegistry injects the Prometheus registry returned afterwards by
// Store.Registry; the store collectors are registered into it by
// metrics.NewRegistry, not by Open. Without one, Open creates its own.
func WithMetricsRegistry(reg *metrics.Registry) Option {
	return func(o *Options) { o.Registry = reg }
}
