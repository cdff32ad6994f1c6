package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirrusfs/cirrus/internal/bytesize"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
  format: json
  output: stderr
storage:
  root: /srv/cirrus
  lock_timeout: 2s
  save_debounce: 500ms
concurrency:
  max_concurrent_io: 32
  max_parallel_chunks: 4
  min_parallel_size: 1Mi
  chunk_size: 256Ki
  max_in_memory_size: 10Mi
cache:
  file_ttl: 30s
  dir_ttl: 1m
  max_entries: 500
trash:
  retention_days: 7
  cleanup_interval: 2h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/srv/cirrus", cfg.Storage.Root)
	assert.Equal(t, 2*time.Second, cfg.Storage.LockTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Storage.SaveDebounce)
	assert.Equal(t, 32, cfg.Concurrency.MaxConcurrentIO)
	assert.Equal(t, 4, cfg.Concurrency.MaxParallelChunks)
	assert.Equal(t, bytesize.MiB, cfg.Concurrency.MinParallelSize)
	assert.Equal(t, 256*bytesize.KiB, cfg.Concurrency.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Cache.FileTTL)
	assert.Equal(t, time.Minute, cfg.Cache.DirTTL)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Equal(t, 7, cfg.Trash.RetentionDays)
	assert.Equal(t, 2*time.Hour, cfg.Trash.CleanupInterval)

	// Unspecified fields picked up defaults
	assert.Equal(t, 10, cfg.Concurrency.MaxConcurrentFiles)
	assert.Equal(t, 10, cfg.Cache.PopularityThreshold)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  root: /srv/cirrus
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 5*time.Second, cfg.Storage.LockTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Storage.SaveDebounce)
	assert.Equal(t, 200*bytesize.MB, cfg.Concurrency.MinParallelSize)
	assert.Equal(t, 8*bytesize.MiB, cfg.Concurrency.ChunkSize)
	assert.Equal(t, 50*bytesize.MB, cfg.Concurrency.MaxInMemorySize)
	assert.Equal(t, 100, cfg.BufferPool.MaxBuffers)
	assert.Equal(t, 64*bytesize.KiB, cfg.BufferPool.BufferSize)
	assert.Equal(t, 30, cfg.Trash.RetentionDays)
}

func TestLoadMissingRootFails(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: INFO
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Root")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "storage: [not: valid")

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrideStorageRoot(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  root: /srv/cirrus
`)
	t.Setenv("CIRRUS_STORAGE_ROOT", "/mnt/other")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/other", cfg.Storage.Root)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Storage.Root = "/srv/round-trip"
	cfg.Cache.MaxEntries = 42

	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/round-trip", loaded.Storage.Root)
	assert.Equal(t, 42, loaded.Cache.MaxEntries)
}

func TestTrashCleanupIntervalClamped(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  root: /srv/cirrus
trash:
  cleanup_interval: 5m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Trash.CleanupInterval)
}
