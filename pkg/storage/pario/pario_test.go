package pario

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/cirrusfs/cirrus/pkg/storage/bufpool"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
)

func newTestEngine(maxInMemory int64, planner bufpool.PlannerConfig) *Engine {
	return New(Options{
		Planner:         planner,
		MaxInMemorySize: maxInMemory,
		IOSemaphore:     semaphore.NewWeighted(20),
		Pool:            bufpool.New(bufpool.Options{BufferSize: 64 * 1024, MaxBuffers: 10}),
	})
}

func deterministicPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestSingleChunkRoundTrip(t *testing.T) {
	engine := newTestEngine(50*1024*1024, bufpool.PlannerConfig{
		MinParallelSize: 1 << 20,
		MaxChunks:       4,
		TargetChunkSize: 1 << 20,
	})
	absPath := filepath.Join(t.TempDir(), "small.bin")

	payload := deterministicPayload(4096)
	require.NoError(t, engine.WriteFile(context.Background(), absPath, payload))

	got, err := engine.ReadFile(context.Background(), absPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestParallelRoundTrip(t *testing.T) {
	// 3 MiB payload over a 1 MiB threshold planned into 4 chunks
	engine := newTestEngine(50*1024*1024, bufpool.PlannerConfig{
		MinParallelSize: 1 << 20,
		MaxChunks:       4,
		TargetChunkSize: 768 * 1024,
	})
	absPath := filepath.Join(t.TempDir(), "large.bin")

	payload := deterministicPayload(3 << 20)
	require.Len(t, bufpool.PlanChunks(int64(len(payload)), engine.opts.Planner), 4)

	require.NoError(t, engine.WriteFile(context.Background(), absPath, payload))

	got, err := engine.ReadFile(context.Background(), absPath)
	require.NoError(t, err)
	require.Len(t, got, len(payload))
	assert.Equal(t, payload, got)
}

func TestReadRejectsOversizedFile(t *testing.T) {
	engine := newTestEngine(1024, bufpool.PlannerConfig{
		MinParallelSize: 1 << 20,
		MaxChunks:       4,
		TargetChunkSize: 1 << 20,
	})
	absPath := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(absPath, make([]byte, 4096), 0644))

	_, err := engine.ReadFile(context.Background(), absPath)
	require.Error(t, err)
	assert.True(t, storerr.IsResourceExhausted(err))
}

func TestReadMissingFile(t *testing.T) {
	engine := newTestEngine(1<<20, bufpool.PlannerConfig{
		MinParallelSize: 1 << 20,
		MaxChunks:       4,
		TargetChunkSize: 1 << 20,
	})

	_, err := engine.ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.bin"))
	require.Error(t, err)
	assert.True(t, storerr.IsNotFound(err))
}

func TestReadCancelledContext(t *testing.T) {
	engine := newTestEngine(50*1024*1024, bufpool.PlannerConfig{
		MinParallelSize: 1, // force the parallel path
		MaxChunks:       4,
		TargetChunkSize: 1024,
	})
	absPath := filepath.Join(t.TempDir(), "c.bin")
	require.NoError(t, os.WriteFile(absPath, deterministicPayload(8192), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.ReadFile(ctx, absPath)
	require.Error(t, err)
}

func TestStreamYieldsFixedChunks(t *testing.T) {
	dir := t.TempDir()
	absPath := filepath.Join(dir, "stream.bin")
	payload := deterministicPayload(2500)
	require.NoError(t, os.WriteFile(absPath, payload, 0644))

	reader, err := OpenStream(absPath, 1024)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, int64(2500), reader.Size())

	var got []byte
	sizes := []int{}
	for {
		chunk, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(chunk))
		got = append(got, chunk...)
	}
	assert.Equal(t, []int{1024, 1024, 452}, sizes)
	assert.Equal(t, payload, got)
}

func TestStreamMissingFile(t *testing.T) {
	_, err := OpenStream(filepath.Join(t.TempDir(), "missing.bin"), 1024)
	require.Error(t, err)
	assert.True(t, storerr.IsNotFound(err))
}
