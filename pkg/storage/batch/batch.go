// Package batch fans single-item repository operations out over many
// items, with separate concurrency caps for file and folder batches.
// Per-item failures never abort the batch; the caller gets every outcome
// plus aggregate stats.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/metrics"
	"github.com/cirrusfs/cirrus/pkg/storage/domain"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/file"
	"github.com/cirrusfs/cirrus/pkg/storage/folder"
)

const component = "Batch"

const (
	defaultMaxConcurrentFiles = 10
	defaultMaxConcurrentDirs  = 5
)

// Failure is one item that did not make it, keyed by its input.
type Failure struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// Stats summarizes a finished batch.
type Stats struct {
	Total          int   `json:"total"`
	Succeeded      int   `json:"ok"`
	Failed         int   `json:"ko"`
	ElapsedMs      int64 `json:"elapsed_ms"`
	MaxConcurrency int   `json:"max_concurrency"`
}

// Result aggregates a batch's outcomes. Partial failure is normal: the
// batch as a whole only errors on empty input.
type Result[T any] struct {
	Successful []T       `json:"successful"`
	Failed     []Failure `json:"failed"`
	Stats      Stats     `json:"stats"`
}

// Orchestrator runs batches over the file and folder repositories. File
// and folder batches are throttled independently: directory operations
// touch whole subtrees and get their own, typically smaller, cap.
type Orchestrator struct {
	files   *file.Repository
	folders *folder.Repository
	fileSem *semaphore.Weighted
	dirSem  *semaphore.Weighted
	metrics metrics.StorageMetrics
}

// New creates an orchestrator. maxConcurrentFiles bounds in-flight items
// in file batches, maxConcurrentDirs in folder batches.
func New(files *file.Repository, folders *folder.Repository, maxConcurrentFiles, maxConcurrentDirs int, m metrics.StorageMetrics) *Orchestrator {
	if maxConcurrentFiles <= 0 {
		maxConcurrentFiles = defaultMaxConcurrentFiles
	}
	if maxConcurrentDirs <= 0 {
		maxConcurrentDirs = defaultMaxConcurrentDirs
	}
	return &Orchestrator{
		files:   files,
		folders: folders,
		fileSem: semaphore.NewWeighted(int64(maxConcurrentFiles)),
		dirSem:  semaphore.NewWeighted(int64(maxConcurrentDirs)),
		metrics: m,
	}
}

// run is the shared fan-out: one goroutine per key, gated by sem, outcomes
// folded into a Result.
func run[T any](ctx context.Context, o *Orchestrator, sem *semaphore.Weighted, operation string, keys []string, op func(ctx context.Context, key string) (T, error)) (Result[T], error) {
	if len(keys) == 0 {
		return Result[T]{}, storerr.NewInvalidInputError(component, "empty batch")
	}
	start := time.Now()

	var (
		mu      sync.Mutex
		result  Result[T]
		wg      sync.WaitGroup
		current atomic.Int64
		peak    atomic.Int64
	)

	for _, key := range keys {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				result.Failed = append(result.Failed, Failure{Key: key, Message: err.Error()})
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			depth := current.Add(1)
			defer current.Add(-1)
			for {
				observed := peak.Load()
				if depth <= observed || peak.CompareAndSwap(observed, depth) {
					break
				}
			}

			value, err := op(ctx, key)
			mu.Lock()
			if err != nil {
				result.Failed = append(result.Failed, Failure{Key: key, Message: err.Error()})
			} else {
				result.Successful = append(result.Successful, value)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	result.Stats = Stats{
		Total:          len(keys),
		Succeeded:      len(result.Successful),
		Failed:         len(result.Failed),
		ElapsedMs:      time.Since(start).Milliseconds(),
		MaxConcurrency: int(peak.Load()),
	}

	logger.InfoCtx(ctx, "Batch complete",
		logger.KeyOperation, operation,
		logger.KeyEntries, result.Stats.Total,
		"ok", result.Stats.Succeeded,
		"ko", result.Stats.Failed,
		logger.KeyDurationMs, result.Stats.ElapsedMs)
	metrics.ObserveOperation(o.metrics, component, operation, start, nil)
	return result, nil
}

// GetFiles fetches many files by id.
func (o *Orchestrator) GetFiles(ctx context.Context, ids []string) (Result[domain.File], error) {
	return run(ctx, o, o.fileSem, "get_files", ids, func(ctx context.Context, id string) (domain.File, error) {
		return o.files.Get(ctx, id)
	})
}

// MoveFiles moves many files into the target folder.
func (o *Orchestrator) MoveFiles(ctx context.Context, ids []string, targetFolderID string) (Result[domain.File], error) {
	return run(ctx, o, o.fileSem, "move_files", ids, func(ctx context.Context, id string) (domain.File, error) {
		return o.files.Move(ctx, id, targetFolderID)
	})
}

// CopyFiles duplicates many files into the target folder. Each copy reads
// the source in memory, so the in-memory size cap applies per item.
func (o *Orchestrator) CopyFiles(ctx context.Context, ids []string, targetFolderID string) (Result[domain.File], error) {
	return run(ctx, o, o.fileSem, "copy_files", ids, func(ctx context.Context, id string) (domain.File, error) {
		source, err := o.files.Get(ctx, id)
		if err != nil {
			return domain.File{}, err
		}
		content, err := o.files.Content(ctx, id)
		if err != nil {
			return domain.File{}, err
		}
		return o.files.Save(ctx, source.Name, targetFolderID, source.MimeType, content)
	})
}

// DeleteFiles removes many files.
func (o *Orchestrator) DeleteFiles(ctx context.Context, ids []string) (Result[string], error) {
	return run(ctx, o, o.fileSem, "delete_files", ids, func(ctx context.Context, id string) (string, error) {
		if err := o.files.Delete(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	})
}

// GetFolders fetches many folders by id.
func (o *Orchestrator) GetFolders(ctx context.Context, ids []string) (Result[domain.Folder], error) {
	return run(ctx, o, o.dirSem, "get_folders", ids, func(ctx context.Context, id string) (domain.Folder, error) {
		return o.folders.Get(ctx, id)
	})
}

// CreateFolders creates many folders under the parent (root when parentID
// is empty).
func (o *Orchestrator) CreateFolders(ctx context.Context, names []string, parentID string) (Result[domain.Folder], error) {
	return run(ctx, o, o.dirSem, "create_folders", names, func(ctx context.Context, name string) (domain.Folder, error) {
		return o.folders.Create(ctx, name, parentID)
	})
}

// DeleteFolders removes many folders and their subtrees.
func (o *Orchestrator) DeleteFolders(ctx context.Context, ids []string) (Result[string], error) {
	return run(ctx, o, o.dirSem, "delete_folders", ids, func(ctx context.Context, id string) (string, error) {
		if err := o.folders.Delete(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	})
}
