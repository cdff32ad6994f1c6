package config

import (
	"strings"
	"time"

	"github.com/cirrusfs/cirrus/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyStorageDefaults(&cfg.Storage)
	applyConcurrencyDefaults(&cfg.Concurrency)
	applyCacheDefaults(&cfg.Cache)
	applyBufferPoolDefaults(&cfg.BufferPool)
	applyTrashDefaults(&cfg.Trash)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in)
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	// Root has no default; it is required and validated
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.DirScanTimeout == 0 {
		cfg.DirScanTimeout = 30 * time.Second
	}
	if cfg.DeleteTimeout == 0 {
		cfg.DeleteTimeout = 60 * time.Second
	}
	if cfg.SaveDebounce == 0 {
		cfg.SaveDebounce = 300 * time.Millisecond
	}
}

func applyConcurrencyDefaults(cfg *ConcurrencyConfig) {
	if cfg.MaxConcurrentIO == 0 {
		cfg.MaxConcurrentIO = 20
	}
	if cfg.MaxConcurrentFiles == 0 {
		cfg.MaxConcurrentFiles = 10
	}
	if cfg.MaxConcurrentDirs == 0 {
		cfg.MaxConcurrentDirs = 5
	}
	if cfg.MaxParallelChunks == 0 {
		cfg.MaxParallelChunks = 8
	}
	if cfg.MinParallelSize == 0 {
		cfg.MinParallelSize = 200 * bytesize.MB
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 8 * bytesize.MiB
	}
	if cfg.MaxInMemorySize == 0 {
		cfg.MaxInMemorySize = 50 * bytesize.MB
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.FileTTL == 0 {
		cfg.FileTTL = 60 * time.Second
	}
	if cfg.DirTTL == 0 {
		cfg.DirTTL = 120 * time.Second
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.PopularityThreshold == 0 {
		cfg.PopularityThreshold = 10
	}
	if cfg.TTLMultiplier == 0 {
		cfg.TTLMultiplier = 5.0
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 60 * time.Second
	}
}

func applyBufferPoolDefaults(cfg *BufferPoolConfig) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 64 * bytesize.KiB
	}
	if cfg.MaxBuffers == 0 {
		cfg.MaxBuffers = 100
	}
	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = 60 * time.Second
	}
}

func applyTrashDefaults(cfg *TrashConfig) {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}
	// The sweeper cadence is never tighter than hourly
	if cfg.CleanupInterval < time.Hour {
		cfg.CleanupInterval = time.Hour
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// Useful for generating sample configuration files, testing, and
// documentation.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Storage: StorageConfig{
			Root: "/var/lib/cirrus/storage",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
