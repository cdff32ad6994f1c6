// Package metacache caches filesystem metadata lookups. Entries carry an
// adaptive TTL: popular entries live longer, and an LRU queue bounds the
// total size. A periodic sweeper drops expired entries and logs hit ratios.
package metacache

import (
	"container/list"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/metrics"
)

// EntryKind classifies what a cache entry describes.
type EntryKind int

const (
	KindUnknown EntryKind = iota
	KindFile
	KindDirectory
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Metadata is a cached view of one physical path.
type Metadata struct {
	AbsPath    string
	Exists     bool
	Kind       EntryKind
	Size       int64
	MimeType   string
	CreatedAt  time.Time
	ModifiedAt time.Time

	lastAccess  time.Time
	expiresAt   time.Time
	accessCount int
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Invalidations uint64
	Expirations   uint64
	Inserts       uint64
	TimeSavedMs   uint64
	Entries       int
}

// HitRatio returns the hit percentage, 0 when the cache is untouched.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}

// Options tunes a Cache.
type Options struct {
	FileTTL             time.Duration
	DirTTL              time.Duration
	MaxEntries          int
	PopularityThreshold int
	TTLMultiplier       float64
	Metrics             metrics.StorageMetrics
}

func (o *Options) applyDefaults() {
	if o.FileTTL == 0 {
		o.FileTTL = 60 * time.Second
	}
	if o.DirTTL == 0 {
		o.DirTTL = 120 * time.Second
	}
	if o.MaxEntries == 0 {
		o.MaxEntries = 10_000
	}
	if o.PopularityThreshold == 0 {
		o.PopularityThreshold = 10
	}
	if o.TTLMultiplier == 0 {
		o.TTLMultiplier = 5.0
	}
}

type cacheEntry struct {
	meta    Metadata
	lruElem *list.Element
}

// estimatedIOMs approximates what a stat round-trip would have cost,
// used for the time-saved counter.
const estimatedIOMs = 10

// Cache is the metadata cache. Safe for concurrent use.
type Cache struct {
	opts Options

	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List // front = least recently used, values are abs paths

	statsMu sync.Mutex
	stats   Stats

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a metadata cache.
func New(opts Options) *Cache {
	opts.applyDefaults()
	return &Cache{
		opts:    opts,
		entries: make(map[string]*cacheEntry, opts.MaxEntries),
		lru:     list.New(),
	}
}

// Get returns the cached metadata for absPath, or false on a miss. Expired
// entries count as misses and are dropped. Hits bump the access counter;
// once an entry crosses the popularity threshold its TTL is extended by the
// configured multiplier.
func (c *Cache) Get(absPath string) (Metadata, bool) {
	start := time.Now()

	c.mu.Lock()
	entry, ok := c.entries[absPath]
	if !ok {
		c.mu.Unlock()
		c.recordMiss(false)
		return Metadata{}, false
	}

	now := time.Now()
	if now.After(entry.meta.expiresAt) {
		c.removeLocked(absPath, entry)
		c.mu.Unlock()
		c.recordMiss(true)
		logger.Debug("Metadata cache entry expired", logger.KeyPath, absPath)
		return Metadata{}, false
	}

	entry.meta.lastAccess = now
	entry.meta.accessCount++
	if entry.meta.accessCount >= c.opts.PopularityThreshold {
		entry.meta.expiresAt = now.Add(c.extendedTTL(entry.meta.Kind))
	}
	c.lru.MoveToBack(entry.lruElem)
	meta := entry.meta
	c.mu.Unlock()

	elapsed := uint64(time.Since(start).Milliseconds())
	saved := uint64(0)
	if elapsed < estimatedIOMs {
		saved = estimatedIOMs - elapsed
	}

	c.statsMu.Lock()
	c.stats.Hits++
	c.stats.TimeSavedMs += saved
	c.statsMu.Unlock()
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordCacheAccess(true)
	}

	return meta, true
}

func (c *Cache) recordMiss(expired bool) {
	c.statsMu.Lock()
	c.stats.Misses++
	if expired {
		c.stats.Expirations++
	}
	c.statsMu.Unlock()
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordCacheAccess(false)
	}
}

func (c *Cache) baseTTL(kind EntryKind) time.Duration {
	if kind == KindDirectory {
		return c.opts.DirTTL
	}
	return c.opts.FileTTL
}

func (c *Cache) extendedTTL(kind EntryKind) time.Duration {
	return time.Duration(float64(c.baseTTL(kind)) * c.opts.TTLMultiplier)
}

// Put inserts or replaces the entry for meta.AbsPath, evicting the oldest
// tenth of the cache first when full.
func (c *Cache) Put(meta Metadata) {
	now := time.Now()
	meta.lastAccess = now
	meta.expiresAt = now.Add(c.baseTTL(meta.Kind))
	if meta.accessCount == 0 {
		meta.accessCount = 1
	}

	c.mu.Lock()
	if existing, ok := c.entries[meta.AbsPath]; ok {
		existing.meta = meta
		c.lru.MoveToBack(existing.lruElem)
		c.mu.Unlock()
		return
	}

	if len(c.entries) >= c.opts.MaxEntries {
		c.evictLocked(c.opts.MaxEntries / 10)
	}

	elem := c.lru.PushBack(meta.AbsPath)
	c.entries[meta.AbsPath] = &cacheEntry{meta: meta, lruElem: elem}
	size := len(c.entries)
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats.Inserts++
	c.statsMu.Unlock()
	if c.opts.Metrics != nil {
		c.opts.Metrics.SetCacheEntries(size)
	}
}

// Refresh stats absPath and caches the result. The MIME type is derived
// from the file extension.
func (c *Cache) Refresh(absPath string) (Metadata, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return Metadata{}, err
	}

	// Creation time is not portable across filesystems; the modification
	// time stands in for it, as everywhere else in the core.
	meta := Metadata{
		AbsPath:    absPath,
		Exists:     true,
		CreatedAt:  info.ModTime(),
		ModifiedAt: info.ModTime(),
	}
	if info.IsDir() {
		meta.Kind = KindDirectory
	} else if info.Mode().IsRegular() {
		meta.Kind = KindFile
		meta.Size = info.Size()
		meta.MimeType = DetectMime(absPath)
	}

	c.Put(meta)
	return meta, nil
}

// IsFile reports whether absPath is cached as a regular file. The second
// return is false on a cache miss.
func (c *Cache) IsFile(absPath string) (bool, bool) {
	meta, ok := c.Get(absPath)
	if !ok {
		return false, false
	}
	return meta.Kind == KindFile, true
}

// IsDir reports whether absPath is cached as a directory. The second return
// is false on a cache miss.
func (c *Cache) IsDir(absPath string) (bool, bool) {
	meta, ok := c.Get(absPath)
	if !ok {
		return false, false
	}
	return meta.Kind == KindDirectory, true
}

// Invalidate drops the entry for absPath, if present.
func (c *Cache) Invalidate(absPath string) {
	c.mu.Lock()
	if entry, ok := c.entries[absPath]; ok {
		c.removeLocked(absPath, entry)
	}
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats.Invalidations++
	c.statsMu.Unlock()
}

// InvalidatePrefix drops every entry whose path starts with prefix. Used
// after directory renames and deletes so stale children cannot be served.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	var victims []string
	for p := range c.entries {
		if strings.HasPrefix(p, prefix) {
			victims = append(victims, p)
		}
	}
	for _, p := range victims {
		c.removeLocked(p, c.entries[p])
	}
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats.Invalidations += uint64(len(victims))
	c.statsMu.Unlock()

	if len(victims) > 0 {
		logger.Debug("Invalidated metadata cache subtree",
			logger.KeyPath, prefix, logger.KeyEvicted, len(victims))
	}
	return len(victims)
}

// removeLocked requires c.mu held.
func (c *Cache) removeLocked(absPath string, entry *cacheEntry) {
	delete(c.entries, absPath)
	c.lru.Remove(entry.lruElem)
}

// evictLocked drops up to count least-recently-used entries. Requires c.mu.
func (c *Cache) evictLocked(count int) {
	evicted := 0
	for i := 0; i < count; i++ {
		front := c.lru.Front()
		if front == nil {
			break
		}
		absPath := front.Value.(string)
		if entry, ok := c.entries[absPath]; ok {
			c.removeLocked(absPath, entry)
			evicted++
		} else {
			c.lru.Remove(front)
		}
	}
	if evicted > 0 && c.opts.Metrics != nil {
		c.opts.Metrics.RecordCacheEvictions(evicted)
	}
	logger.Debug("Evicted LRU metadata cache entries", logger.KeyEvicted, evicted)
}

// ClearExpired removes every expired entry and returns how many were
// dropped.
func (c *Cache) ClearExpired() int {
	now := time.Now()

	c.mu.Lock()
	var victims []string
	for p, entry := range c.entries {
		if now.After(entry.meta.expiresAt) {
			victims = append(victims, p)
		}
	}
	for _, p := range victims {
		c.removeLocked(p, c.entries[p])
	}
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats.Expirations += uint64(len(victims))
	c.statsMu.Unlock()

	return len(victims)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StatsSnapshot returns the counters with the current entry count filled in.
func (c *Cache) StatsSnapshot() Stats {
	c.statsMu.Lock()
	stats := c.stats
	c.statsMu.Unlock()
	stats.Entries = c.Len()
	return stats
}

// StartSweeper launches the periodic expiry sweep. Each pass also logs the
// running hit ratio and estimated time saved.
func (c *Cache) StartSweeper(interval time.Duration) {
	if c.stopCh != nil {
		return
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				expired := c.ClearExpired()
				stats := c.StatsSnapshot()
				logger.Debug("Metadata cache stats",
					logger.KeyCacheSize, stats.Entries,
					"hits", stats.Hits,
					"misses", stats.Misses,
					logger.KeyHitRatio, stats.HitRatio(),
					"expired", expired,
					"time_saved_ms", stats.TimeSavedMs)
				if c.opts.Metrics != nil {
					c.opts.Metrics.SetCacheEntries(stats.Entries)
				}
			}
		}
	}()
}

// Stop terminates the sweeper and waits for it to exit.
func (c *Cache) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.stopCh = nil
	c.doneCh = nil
}
