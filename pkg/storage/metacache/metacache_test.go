package metacache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissThenPutHit(t *testing.T) {
	cache := New(Options{})

	_, ok := cache.Get("/abs/missing.txt")
	assert.False(t, ok)

	cache.Put(Metadata{AbsPath: "/abs/file.txt", Exists: true, Kind: KindFile, Size: 42})

	meta, ok := cache.Get("/abs/file.txt")
	require.True(t, ok)
	assert.Equal(t, int64(42), meta.Size)
	assert.Equal(t, KindFile, meta.Kind)

	stats := cache.StatsSnapshot()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Inserts)
	assert.Equal(t, 1, stats.Entries)
}

func TestExpiredEntryCountsAsMiss(t *testing.T) {
	cache := New(Options{FileTTL: 10 * time.Millisecond})
	cache.Put(Metadata{AbsPath: "/abs/short.txt", Kind: KindFile})

	time.Sleep(30 * time.Millisecond)

	_, ok := cache.Get("/abs/short.txt")
	assert.False(t, ok)

	stats := cache.StatsSnapshot()
	assert.Equal(t, uint64(1), stats.Expirations)
	assert.Equal(t, 0, stats.Entries)
}

func TestDirectoryTTLOutlivesFileTTL(t *testing.T) {
	cache := New(Options{FileTTL: 10 * time.Millisecond, DirTTL: time.Minute})
	cache.Put(Metadata{AbsPath: "/abs/f.txt", Kind: KindFile})
	cache.Put(Metadata{AbsPath: "/abs/d", Kind: KindDirectory})

	time.Sleep(30 * time.Millisecond)

	_, ok := cache.Get("/abs/f.txt")
	assert.False(t, ok)
	_, ok = cache.Get("/abs/d")
	assert.True(t, ok)
}

func TestPopularEntryGetsExtendedTTL(t *testing.T) {
	cache := New(Options{
		FileTTL:             50 * time.Millisecond,
		PopularityThreshold: 3,
		TTLMultiplier:       100,
	})
	cache.Put(Metadata{AbsPath: "/abs/hot.txt", Kind: KindFile})

	// Cross the popularity threshold
	for i := 0; i < 3; i++ {
		_, ok := cache.Get("/abs/hot.txt")
		require.True(t, ok)
	}

	// Past the base TTL but inside the extended one
	time.Sleep(80 * time.Millisecond)
	_, ok := cache.Get("/abs/hot.txt")
	assert.True(t, ok)
}

func TestLRUEvictionDropsOldestTenth(t *testing.T) {
	cache := New(Options{MaxEntries: 10})
	for i := 0; i < 10; i++ {
		cache.Put(Metadata{AbsPath: filepath.Join("/abs", string(rune('a'+i))), Kind: KindFile})
	}

	// Touch everything except the first entry so "/abs/a" is coldest
	for i := 1; i < 10; i++ {
		_, ok := cache.Get(filepath.Join("/abs", string(rune('a'+i))))
		require.True(t, ok)
	}

	cache.Put(Metadata{AbsPath: "/abs/new", Kind: KindFile})

	_, ok := cache.Get("/abs/a")
	assert.False(t, ok, "coldest entry should have been evicted")
	_, ok = cache.Get("/abs/new")
	assert.True(t, ok)
}

func TestInvalidate(t *testing.T) {
	cache := New(Options{})
	cache.Put(Metadata{AbsPath: "/abs/x.txt", Kind: KindFile})

	cache.Invalidate("/abs/x.txt")

	_, ok := cache.Get("/abs/x.txt")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), cache.StatsSnapshot().Invalidations)
}

func TestInvalidatePrefix(t *testing.T) {
	cache := New(Options{})
	cache.Put(Metadata{AbsPath: "/abs/dir/a.txt", Kind: KindFile})
	cache.Put(Metadata{AbsPath: "/abs/dir/sub/b.txt", Kind: KindFile})
	cache.Put(Metadata{AbsPath: "/abs/other/c.txt", Kind: KindFile})

	removed := cache.InvalidatePrefix("/abs/dir")
	assert.Equal(t, 2, removed)

	_, ok := cache.Get("/abs/other/c.txt")
	assert.True(t, ok)
	assert.Equal(t, 1, cache.Len())
}

func TestClearExpired(t *testing.T) {
	cache := New(Options{FileTTL: 10 * time.Millisecond, DirTTL: time.Minute})
	cache.Put(Metadata{AbsPath: "/abs/stale.txt", Kind: KindFile})
	cache.Put(Metadata{AbsPath: "/abs/live", Kind: KindDirectory})

	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 1, cache.ClearExpired())
	assert.Equal(t, 1, cache.Len())
}

func TestRefreshStatsRealFile(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(filePath, []byte("test content"), 0644))

	cache := New(Options{})
	meta, err := cache.Refresh(filePath)
	require.NoError(t, err)
	assert.Equal(t, KindFile, meta.Kind)
	assert.Equal(t, int64(12), meta.Size)
	assert.Equal(t, "application/pdf", meta.MimeType)

	isFile, cached := cache.IsFile(filePath)
	assert.True(t, cached)
	assert.True(t, isFile)

	dirMeta, err := cache.Refresh(dir)
	require.NoError(t, err)
	assert.Equal(t, KindDirectory, dirMeta.Kind)
	isDir, cached := cache.IsDir(dir)
	assert.True(t, cached)
	assert.True(t, isDir)
}

func TestPreloadDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "subdir")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.txt"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "two.txt"), nil, 0644))

	cache := New(Options{})
	count, err := cache.PreloadDirectory(context.Background(), dir, true, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	isDir, cached := cache.IsDir(sub)
	assert.True(t, cached)
	assert.True(t, isDir)
	isFile, cached := cache.IsFile(filepath.Join(sub, "two.txt"))
	assert.True(t, cached)
	assert.True(t, isFile)
}

func TestDetectMime(t *testing.T) {
	assert.Equal(t, "text/markdown", DetectMime("README.md"))
	assert.Equal(t, "application/pdf", DetectMime("/docs/report.PDF"))
	assert.Equal(t, "application/octet-stream", DetectMime("binary"))
	assert.Equal(t, "application/octet-stream", DetectMime("weird.zz9"))
	assert.Equal(t, "video/x-matroska", DetectMime("movie.mkv"))
}
