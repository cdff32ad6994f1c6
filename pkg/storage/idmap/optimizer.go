package idmap

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/storage/path"
)

const (
	// optimizerMaxCacheSize bounds each direction of the overlay cache.
	optimizerMaxCacheSize = 10_000

	// optimizerCacheTTL is how long a cached mapping stays valid.
	optimizerCacheTTL = 5 * time.Minute

	// batchThreshold is the queue depth that triggers a batch pass.
	batchThreshold = 20

	// maxConcurrentBatches limits simultaneous batch passes.
	maxConcurrentBatches = 2
)

// OptimizerStats is a point-in-time snapshot of overlay cache behaviour.
type OptimizerStats struct {
	PathByIDQueries     uint64
	PathByIDHits        uint64
	GetIDQueries        uint64
	GetIDHits           uint64
	BatchOperations     uint64
	BatchItemsProcessed uint64
	LastCleanup         time.Time
}

type overlayEntry struct {
	value    string
	storedAt time.Time
}

// Optimizer is a read/write-through overlay on a Service. Resolved mappings
// are cached with a TTL in both directions, and misses are queued so bulk
// workloads resolve in batch passes instead of one lock round-trip each.
type Optimizer struct {
	base *Service

	mu       sync.RWMutex // guards both caches
	pathToID map[string]overlayEntry
	idToPath map[string]overlayEntry

	statsMu sync.Mutex
	stats   OptimizerStats

	batchSem *semaphore.Weighted

	pendingMu    sync.Mutex
	pendingPaths map[string]struct{}
	pendingIDs   map[string]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewOptimizer wraps base with the overlay cache.
func NewOptimizer(base *Service) *Optimizer {
	return &Optimizer{
		base:         base,
		pathToID:     make(map[string]overlayEntry, 1000),
		idToPath:     make(map[string]overlayEntry, 1000),
		batchSem:     semaphore.NewWeighted(maxConcurrentBatches),
		pendingPaths: make(map[string]struct{}),
		pendingIDs:   make(map[string]struct{}),
	}
}

// Base returns the wrapped mapper, for callers that need direct access
// (snapshots, flushing on shutdown).
func (o *Optimizer) Base() *Service {
	return o.base
}

// GetOrCreateID resolves path through the overlay, falling back to the base
// mapper on a miss. Misses are also queued; once enough accumulate a batch
// pass warms the cache for the whole set.
func (o *Optimizer) GetOrCreateID(ctx context.Context, p path.Logical) (string, error) {
	o.statsMu.Lock()
	o.stats.GetIDQueries++
	o.statsMu.Unlock()

	pathStr := p.String()

	o.mu.RLock()
	entry, ok := o.pathToID[pathStr]
	o.mu.RUnlock()
	if ok && time.Since(entry.storedAt) < optimizerCacheTTL {
		o.statsMu.Lock()
		o.stats.GetIDHits++
		o.statsMu.Unlock()
		return entry.value, nil
	}

	o.pendingMu.Lock()
	o.pendingPaths[pathStr] = struct{}{}
	o.pendingMu.Unlock()

	if err := o.triggerBatchIfNeeded(ctx); err != nil {
		logger.Warn("Batch id-mapping pass failed", logger.KeyError, err.Error())
	}

	id, err := o.base.GetOrCreateID(ctx, p)
	if err != nil {
		return "", err
	}

	o.store(pathStr, id)
	return id, nil
}

// PathByID resolves id through the overlay, falling back to the base mapper.
func (o *Optimizer) PathByID(ctx context.Context, id string) (path.Logical, error) {
	o.statsMu.Lock()
	o.stats.PathByIDQueries++
	o.statsMu.Unlock()

	o.mu.RLock()
	entry, ok := o.idToPath[id]
	o.mu.RUnlock()
	if ok && time.Since(entry.storedAt) < optimizerCacheTTL {
		o.statsMu.Lock()
		o.stats.PathByIDHits++
		o.statsMu.Unlock()
		return path.Parse(entry.value), nil
	}

	p, err := o.base.PathByID(ctx, id)
	if err != nil {
		return path.Logical{}, err
	}

	o.store(p.String(), id)
	return p, nil
}

// IDByPath resolves path to its id without allocating, through the overlay.
func (o *Optimizer) IDByPath(ctx context.Context, p path.Logical) (string, bool, error) {
	pathStr := p.String()

	o.mu.RLock()
	entry, ok := o.pathToID[pathStr]
	o.mu.RUnlock()
	if ok && time.Since(entry.storedAt) < optimizerCacheTTL {
		return entry.value, true, nil
	}

	id, found, err := o.base.IDByPath(ctx, p)
	if err != nil || !found {
		return "", false, err
	}
	o.store(pathStr, id)
	return id, true, nil
}

// ChildrenOf delegates to the base mapper; listings always see the
// authoritative map.
func (o *Optimizer) ChildrenOf(ctx context.Context, parent path.Logical) (map[string]string, error) {
	return o.base.ChildrenOf(ctx, parent)
}

// Snapshot delegates to the base mapper.
func (o *Optimizer) Snapshot(ctx context.Context) (map[string]string, error) {
	return o.base.Snapshot(ctx)
}

// UpdatePath invalidates the stale overlay entries, remaps in the base
// mapper, then caches the new mapping.
func (o *Optimizer) UpdatePath(ctx context.Context, id string, newPath path.Logical) error {
	o.invalidate(id)

	if err := o.base.UpdatePath(ctx, id, newPath); err != nil {
		return err
	}

	o.store(newPath.String(), id)
	return nil
}

// Assign invalidates any stale overlay entries, force-inserts the pair in
// the base mapper, then caches it.
func (o *Optimizer) Assign(ctx context.Context, id string, p path.Logical) error {
	o.invalidate(id)
	o.mu.Lock()
	delete(o.pathToID, p.String())
	o.mu.Unlock()

	if err := o.base.Assign(ctx, id, p); err != nil {
		return err
	}

	o.store(p.String(), id)
	return nil
}

// RemoveID invalidates the overlay and removes the mapping in the base.
func (o *Optimizer) RemoveID(ctx context.Context, id string) error {
	o.invalidate(id)
	return o.base.RemoveID(ctx, id)
}

// SaveChanges delegates to the base mapper's debounced save.
func (o *Optimizer) SaveChanges() {
	o.base.SaveChanges()
}

// Stats returns a snapshot of the overlay counters.
func (o *Optimizer) Stats() OptimizerStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return o.stats
}

func (o *Optimizer) store(pathStr, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	if len(o.pathToID) >= optimizerMaxCacheSize {
		logger.Warn("Path-to-id overlay cache full, clearing", logger.KeyEntries, len(o.pathToID))
		o.pathToID = make(map[string]overlayEntry, 1000)
	}
	if len(o.idToPath) >= optimizerMaxCacheSize {
		logger.Warn("Id-to-path overlay cache full, clearing", logger.KeyEntries, len(o.idToPath))
		o.idToPath = make(map[string]overlayEntry, 1000)
	}
	o.pathToID[pathStr] = overlayEntry{value: id, storedAt: now}
	o.idToPath[id] = overlayEntry{value: pathStr, storedAt: now}
}

func (o *Optimizer) invalidate(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.idToPath[id]; ok {
		delete(o.idToPath, id)
		delete(o.pathToID, entry.value)
	}
}

// PreloadPaths resolves ids for every path not already cached, in one batch
// pass.
func (o *Optimizer) PreloadPaths(ctx context.Context, paths []path.Logical) error {
	if len(paths) == 0 {
		return nil
	}

	queued := 0
	o.mu.RLock()
	for _, p := range paths {
		pathStr := p.String()
		if _, ok := o.pathToID[pathStr]; !ok {
			o.pendingMu.Lock()
			o.pendingPaths[pathStr] = struct{}{}
			o.pendingMu.Unlock()
			queued++
		}
	}
	o.mu.RUnlock()

	if queued == 0 {
		return nil
	}
	return o.processBatch(ctx)
}

// PreloadIDs resolves paths for every id not already cached, in one batch
// pass.
func (o *Optimizer) PreloadIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	queued := 0
	o.mu.RLock()
	for _, id := range ids {
		if _, ok := o.idToPath[id]; !ok {
			o.pendingMu.Lock()
			o.pendingIDs[id] = struct{}{}
			o.pendingMu.Unlock()
			queued++
		}
	}
	o.mu.RUnlock()

	if queued == 0 {
		return nil
	}
	return o.processBatch(ctx)
}

func (o *Optimizer) triggerBatchIfNeeded(ctx context.Context) error {
	o.pendingMu.Lock()
	depth := len(o.pendingPaths) + len(o.pendingIDs)
	o.pendingMu.Unlock()

	if depth < batchThreshold {
		return nil
	}
	return o.processBatch(ctx)
}

// processBatch drains the pending queues and resolves every entry against
// the base mapper, continuing past individual failures, then warms the
// overlay with the results and schedules a durable save.
func (o *Optimizer) processBatch(ctx context.Context) error {
	if err := o.batchSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.batchSem.Release(1)

	o.pendingMu.Lock()
	paths := o.pendingPaths
	ids := o.pendingIDs
	o.pendingPaths = make(map[string]struct{})
	o.pendingIDs = make(map[string]struct{})
	o.pendingMu.Unlock()

	processed := 0
	for pathStr := range paths {
		id, err := o.base.GetOrCreateID(ctx, path.Parse(pathStr))
		if err != nil {
			logger.Error("Batch path resolution failed",
				logger.KeyPath, pathStr, logger.KeyError, err.Error())
			continue
		}
		o.store(pathStr, id)
		processed++
	}
	for id := range ids {
		p, err := o.base.PathByID(ctx, id)
		if err != nil {
			logger.Error("Batch id resolution failed",
				logger.KeyID, id, logger.KeyError, err.Error())
			continue
		}
		o.store(p.String(), id)
		processed++
	}

	o.statsMu.Lock()
	o.stats.BatchOperations++
	o.stats.BatchItemsProcessed += uint64(processed)
	o.statsMu.Unlock()

	o.base.SaveChanges()
	return nil
}

// Cleanup evicts expired entries from both overlay caches.
func (o *Optimizer) Cleanup() {
	now := time.Now()

	o.mu.Lock()
	removedPaths := evictExpired(o.pathToID, now)
	removedIDs := evictExpired(o.idToPath, now)
	o.mu.Unlock()

	if removedPaths > 0 || removedIDs > 0 {
		logger.Debug("Cleaned expired id-mapping overlay entries",
			"expired_paths", removedPaths,
			"expired_ids", removedIDs)
	}

	o.statsMu.Lock()
	o.stats.LastCleanup = now
	o.statsMu.Unlock()
}

func evictExpired(cache map[string]overlayEntry, now time.Time) int {
	removed := 0
	for key, entry := range cache {
		if now.Sub(entry.storedAt) >= optimizerCacheTTL {
			delete(cache, key)
			removed++
		}
	}
	return removed
}

// StartSweeper launches the periodic cleanup loop. It runs at half the
// cache TTL and logs the hit counters each pass. Call Stop to shut it down.
func (o *Optimizer) StartSweeper() {
	if o.stopCh != nil {
		return
	}
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})

	go func() {
		defer close(o.doneCh)
		ticker := time.NewTicker(optimizerCacheTTL / 2)
		defer ticker.Stop()

		for {
			select {
			case <-o.stopCh:
				return
			case <-ticker.C:
				o.Cleanup()
				stats := o.Stats()
				logger.Info("Id-mapping overlay stats",
					"path_queries", stats.PathByIDQueries,
					"path_hits", stats.PathByIDHits,
					"id_queries", stats.GetIDQueries,
					"id_hits", stats.GetIDHits,
					"batch_ops", stats.BatchOperations,
					"batch_items", stats.BatchItemsProcessed)
			}
		}
	}()
}

// Stop terminates the sweeper loop and waits for it to exit.
func (o *Optimizer) Stop() {
	if o.stopCh == nil {
		return
	}
	close(o.stopCh)
	<-o.doneCh
	o.stopCh = nil
	o.doneCh = nil
}
