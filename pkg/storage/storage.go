// Package storage assembles the storage core: id maps, metadata cache,
// buffer pool, parallel I/O engine, mediator and the folder, file, trash
// and batch layers, all wired from one configuration.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/config"
	"github.com/cirrusfs/cirrus/pkg/metrics"
	"github.com/cirrusfs/cirrus/pkg/storage/batch"
	"github.com/cirrusfs/cirrus/pkg/storage/bufpool"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/file"
	"github.com/cirrusfs/cirrus/pkg/storage/folder"
	"github.com/cirrusfs/cirrus/pkg/storage/idmap"
	"github.com/cirrusfs/cirrus/pkg/storage/mediator"
	"github.com/cirrusfs/cirrus/pkg/storage/metacache"
	"github.com/cirrusfs/cirrus/pkg/storage/pario"
	"github.com/cirrusfs/cirrus/pkg/storage/trash"
)

const component = "Storage"

const (
	folderMapFile = "folder_ids.json"
	fileMapFile   = "file_ids.json"
	lockFileName  = ".cirrus.lock"
)

// Core owns every storage subsystem. Construct it with Open, start the
// background tasks with Start, and release everything with Close.
type Core struct {
	cfg *config.Config

	lock      *flock.Flock
	folderMap *idmap.Service
	fileMap   *idmap.Service
	folderOpt *idmap.Optimizer
	fileOpt   *idmap.Optimizer
	cache     *metacache.Cache
	pool      *bufpool.Pool
	engine    *pario.Engine
	med       *mediator.Mediator

	Folders *folder.Repository
	Files   *file.Repository
	Trash   *trash.Repository
	Batch   *batch.Orchestrator

	metrics metrics.StorageMetrics
	started bool
}

// Open builds the storage core over cfg.Storage.Root, creating the root if
// missing and taking an exclusive file lock so two processes never share
// one store. The metrics sink may be nil.
func Open(cfg *config.Config, m metrics.StorageMetrics) (*Core, error) {
	root := cfg.Storage.Root
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, storerr.NewIOError(component, "failed to create storage root", root, err)
	}

	lock := flock.New(filepath.Join(root, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, storerr.NewIOError(component, "failed to acquire storage lock", lock.Path(), err)
	}
	if !locked {
		return nil, storerr.NewInternalError(component,
			fmt.Sprintf("storage root %s is in use by another process", root), nil)
	}

	mapOpts := idmap.Options{
		LockTimeout:  cfg.Storage.LockTimeout,
		SaveDebounce: cfg.Storage.SaveDebounce,
		Metrics:      m,
	}
	folderMap, err := idmap.New(filepath.Join(root, folderMapFile), mapOpts)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	fileMap, err := idmap.New(filepath.Join(root, fileMapFile), mapOpts)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	folderOpt := idmap.NewOptimizer(folderMap)
	fileOpt := idmap.NewOptimizer(fileMap)

	cache := metacache.New(metacache.Options{
		FileTTL:             cfg.Cache.FileTTL,
		DirTTL:              cfg.Cache.DirTTL,
		MaxEntries:          cfg.Cache.MaxEntries,
		PopularityThreshold: cfg.Cache.PopularityThreshold,
		TTLMultiplier:       cfg.Cache.TTLMultiplier,
		Metrics:             m,
	})
	pool := bufpool.New(bufpool.Options{
		BufferSize: int(cfg.BufferPool.BufferSize.Int64()),
		MaxBuffers: cfg.BufferPool.MaxBuffers,
		IdleTTL:    cfg.BufferPool.IdleTTL,
		Metrics:    m,
	})
	ioSem := semaphore.NewWeighted(int64(cfg.Concurrency.MaxConcurrentIO))
	engine := pario.New(pario.Options{
		Planner: bufpool.PlannerConfig{
			MinParallelSize: cfg.Concurrency.MinParallelSize.Int64(),
			MaxChunks:       cfg.Concurrency.MaxParallelChunks,
			TargetChunkSize: cfg.Concurrency.ChunkSize.Int64(),
		},
		MaxInMemorySize: cfg.Concurrency.MaxInMemorySize.Int64(),
		IOSemaphore:     ioSem,
		Pool:            pool,
		Metrics:         m,
	})

	med := mediator.New(root, folderOpt)
	folders := folder.New(med, folderOpt, fileOpt, cache, folder.Options{
		DeleteTimeout: cfg.Storage.DeleteTimeout,
		ScanTimeout:   cfg.Storage.DirScanTimeout,
	})
	files := file.New(med, folderOpt, fileOpt, cache, engine, int(cfg.BufferPool.BufferSize.Int64()))
	trashRepo := trash.New(med, folderOpt, fileOpt, cache, trash.Options{
		RetentionDays: cfg.Trash.RetentionDays,
		LockTimeout:   cfg.Storage.LockTimeout,
		Metrics:       m,
	})
	orchestrator := batch.New(files, folders,
		cfg.Concurrency.MaxConcurrentFiles, cfg.Concurrency.MaxConcurrentDirs, m)

	folderCount, _ := folderMap.Len(context.Background())
	fileCount, _ := fileMap.Len(context.Background())
	logger.Info("Storage core opened",
		logger.KeyPath, root,
		logger.KeyEntries, folderCount+fileCount)

	return &Core{
		cfg:       cfg,
		lock:      lock,
		folderMap: folderMap,
		fileMap:   fileMap,
		folderOpt: folderOpt,
		fileOpt:   fileOpt,
		cache:     cache,
		pool:      pool,
		engine:    engine,
		med:       med,
		Folders:   folders,
		Files:     files,
		Trash:     trashRepo,
		Batch:     orchestrator,
		metrics:   m,
	}, nil
}

// Mediator exposes the path translation layer.
func (c *Core) Mediator() *mediator.Mediator {
	return c.med
}

// Cache exposes the metadata cache, mainly for warmup.
func (c *Core) Cache() *metacache.Cache {
	return c.cache
}

// Start launches the background tasks: cache sweeper, buffer pool reaper,
// optimizer sweepers and the trash expiry sweeper.
func (c *Core) Start() {
	if c.started {
		return
	}
	c.cache.StartSweeper(c.cfg.Cache.CleanupInterval)
	c.pool.StartReaper()
	c.folderOpt.StartSweeper()
	c.fileOpt.StartSweeper()
	c.Trash.StartSweeper(c.cfg.Trash.CleanupInterval)
	c.started = true
	logger.Info("Storage background tasks started")
}

// Close stops background tasks, flushes both id maps and releases the
// storage lock. Safe to call once after any successful Open.
func (c *Core) Close(ctx context.Context) error {
	if c.started {
		c.cache.Stop()
		c.pool.Stop()
		c.folderOpt.Stop()
		c.fileOpt.Stop()
		c.Trash.Stop()
		c.started = false
	}

	var firstErr error
	if err := c.folderMap.Close(ctx); err != nil {
		firstErr = err
	}
	if err := c.fileMap.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = storerr.NewIOError(component, "failed to release storage lock", c.lock.Path(), err)
	}

	logger.Info("Storage core closed")
	return firstErr
}

// FlushTimeout derives a context deadline for shutdown flushes.
func (c *Core) FlushTimeout() time.Duration {
	if c.cfg.ShutdownTimeout > 0 {
		return c.cfg.ShutdownTimeout
	}
	return 30 * time.Second
}
