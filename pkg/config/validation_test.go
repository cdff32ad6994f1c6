package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirrusfs/cirrus/internal/bytesize"
)

func validConfig() *Config {
	cfg := &Config{Storage: StorageConfig{Root: "/srv/cirrus"}}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidateDefaultsPass(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateMissingRoot(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Root = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Root")
}

func TestValidateBadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "VERBOSE"

	require.Error(t, Validate(cfg))
}

func TestValidateBadLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"

	require.Error(t, Validate(cfg))
}

func TestValidateMetricsPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 70000

	require.Error(t, Validate(cfg))
}

func TestValidateChunkSizeAboveThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Concurrency.MinParallelSize = bytesize.MiB
	cfg.Concurrency.ChunkSize = 8 * bytesize.MiB

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_parallel_size")
}

func TestValidateLockTimeoutFloor(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.LockTimeout = 50 * time.Millisecond

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_timeout")
}

func TestValidateShutdownTimeoutRequired(t *testing.T) {
	cfg := validConfig()
	cfg.ShutdownTimeout = 0

	require.Error(t, Validate(cfg))
}
