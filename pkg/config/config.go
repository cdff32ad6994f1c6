// Package config loads, validates and persists the Cirrus configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (CIRRUS_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cirrusfs/cirrus/internal/bytesize"
)

// Config represents the full Cirrus configuration.
//
// It captures the static aspects of the storage core: the storage root, I/O
// concurrency limits, metadata cache tuning, buffer pool sizing, trash
// retention, logging and metrics. Everything else (users, shares, tokens)
// belongs to the layer above and is out of scope here.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Storage configures the storage root and core timeouts
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Concurrency bounds parallel I/O and batch operations
	Concurrency ConcurrencyConfig `mapstructure:"concurrency" yaml:"concurrency"`

	// Cache tunes the metadata cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// BufferPool sizes the reusable I/O buffer pool
	BufferPool BufferPoolConfig `mapstructure:"buffer_pool" yaml:"buffer_pool"`

	// Trash controls retention and expiry sweeping
	Trash TrashConfig `mapstructure:"trash" yaml:"trash"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// StorageConfig configures the storage root and the core operation timeouts.
type StorageConfig struct {
	// Root is the directory holding all persisted state: the logical tree,
	// the id-map documents and the trash area. Created on init if missing.
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// LockTimeout bounds every in-memory lock acquisition (id map, cache,
	// trash index). Expiry surfaces as a Timeout error with state unchanged.
	// Default: 5s
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`

	// DirScanTimeout bounds directory listing and pagination scans.
	// Default: 30s
	DirScanTimeout time.Duration `mapstructure:"dir_scan_timeout" yaml:"dir_scan_timeout"`

	// DeleteTimeout bounds large directory tree removal. On expiry the
	// removal continues in the background and the id is unmapped anyway.
	// Default: 60s
	DeleteTimeout time.Duration `mapstructure:"delete_timeout" yaml:"delete_timeout"`

	// SaveDebounce is the quiescence delay before a dirty id map is flushed
	// to disk. Concurrent mutations within the window coalesce into one
	// durable write.
	// Default: 300ms
	SaveDebounce time.Duration `mapstructure:"save_debounce" yaml:"save_debounce"`
}

// ConcurrencyConfig bounds parallel I/O and batch operations.
type ConcurrencyConfig struct {
	// MaxConcurrentIO is the global I/O semaphore size shared by all chunk
	// tasks. Default: 20
	MaxConcurrentIO int `mapstructure:"max_concurrent_io" validate:"omitempty,min=1" yaml:"max_concurrent_io"`

	// MaxConcurrentFiles caps in-flight per-item tasks in batch file
	// operations. Default: 10
	MaxConcurrentFiles int `mapstructure:"max_concurrent_files" validate:"omitempty,min=1" yaml:"max_concurrent_files"`

	// MaxConcurrentDirs caps in-flight per-item tasks in batch folder
	// operations. Default: 5
	MaxConcurrentDirs int `mapstructure:"max_concurrent_dirs" validate:"omitempty,min=1" yaml:"max_concurrent_dirs"`

	// MaxParallelChunks caps the number of chunks a single large-file
	// operation is split into. Default: 8
	MaxParallelChunks int `mapstructure:"max_parallel_chunks" validate:"omitempty,min=1" yaml:"max_parallel_chunks"`

	// MinParallelSize is the file size threshold below which chunking is
	// disabled and a single sequential read/write is used.
	// Supports human-readable formats: "200MB", "1Gi". Default: 200MB
	MinParallelSize bytesize.ByteSize `mapstructure:"min_parallel_size" yaml:"min_parallel_size"`

	// ChunkSize is the target size of each parallel chunk. Default: 8Mi
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// MaxInMemorySize rejects whole-file in-memory reads above this size
	// with a ResourceExhausted error. Default: 50MB
	MaxInMemorySize bytesize.ByteSize `mapstructure:"max_in_memory_size" yaml:"max_in_memory_size"`
}

// CacheConfig tunes the metadata cache.
type CacheConfig struct {
	// FileTTL is the base TTL for file entries. Default: 60s
	FileTTL time.Duration `mapstructure:"file_ttl" yaml:"file_ttl"`

	// DirTTL is the base TTL for directory entries. Default: 120s
	DirTTL time.Duration `mapstructure:"dir_ttl" yaml:"dir_ttl"`

	// MaxEntries caps the cache before LRU eviction kicks in. Default: 10000
	MaxEntries int `mapstructure:"max_entries" validate:"omitempty,min=1" yaml:"max_entries"`

	// PopularityThreshold is the access count after which an entry's TTL is
	// extended by TTLMultiplier. Default: 10
	PopularityThreshold int `mapstructure:"popularity_threshold" yaml:"popularity_threshold"`

	// TTLMultiplier extends the TTL of popular entries. Default: 5.0
	TTLMultiplier float64 `mapstructure:"ttl_multiplier" validate:"omitempty,gte=1" yaml:"ttl_multiplier"`

	// CleanupInterval is the cadence of the expired-entry sweeper.
	// Default: 60s
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// BufferPoolConfig sizes the reusable I/O buffer pool.
type BufferPoolConfig struct {
	// BufferSize is the capacity of each pooled buffer. Default: 64Ki
	BufferSize bytesize.ByteSize `mapstructure:"buffer_size" yaml:"buffer_size"`

	// MaxBuffers caps the number of pooled buffers. Default: 100
	MaxBuffers int `mapstructure:"max_buffers" validate:"omitempty,min=1" yaml:"max_buffers"`

	// IdleTTL drops buffers that sat unused longer than this. Default: 60s
	IdleTTL time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`
}

// TrashConfig controls trash retention and expiry sweeping.
type TrashConfig struct {
	// RetentionDays is how long trashed items are kept before expiry.
	// Default: 30
	RetentionDays int `mapstructure:"retention_days" validate:"omitempty,min=1" yaml:"retention_days"`

	// CleanupInterval is the cadence of the expiry sweeper; values below
	// one hour are clamped up. Default: 24h
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// Without a config file, environment variables still apply over defaults.
	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  cirrus init\n\n"+
				"Or specify a custom config file:\n"+
				"  cirrus <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  cirrus init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings. Environment variables use the CIRRUS_ prefix with underscores,
// e.g. CIRRUS_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("CIRRUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides maps a handful of flat environment variables onto the
// config for users who skip the file entirely.
func applyEnvOverrides(cfg *Config) {
	if root := os.Getenv("CIRRUS_STORAGE_ROOT"); root != "" {
		cfg.Storage.Root = root
	}
	if level := os.Getenv("CIRRUS_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can use human-readable sizes like "1Gi", "500Mi", "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path. Uses
// XDG_CONFIG_HOME if set, otherwise ~/.config, falling back to the current
// directory if home cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cirrus")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "cirrus")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
