// Package pario is the parallel I/O engine. Large blobs move through N
// concurrent positioned chunk operations bounded by a global I/O semaphore;
// small blobs take a single-chunk fast path through the buffer pool.
package pario

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/metrics"
	"github.com/cirrusfs/cirrus/pkg/storage/bufpool"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
)

const component = "ParallelIO"

// Options tunes an Engine.
type Options struct {
	// Planner controls when and how transfers are chunked.
	Planner bufpool.PlannerConfig
	// MaxInMemorySize rejects whole-file reads larger than this.
	MaxInMemorySize int64
	// IOSemaphore is the global limiter shared across the storage core;
	// every chunk task acquires one slot. Required.
	IOSemaphore *semaphore.Weighted
	// Pool supplies scratch buffers for single-chunk reads. Required.
	Pool    *bufpool.Pool
	Metrics metrics.StorageMetrics
}

// Engine performs chunked reads and writes of whole blobs.
type Engine struct {
	opts Options
}

// New creates an engine. IOSemaphore and Pool must be non-nil.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// ReadFile reads the whole file at absPath into memory. Files larger than
// the in-memory cap fail with ResourceExhausted. Transfers above the
// parallel threshold fan out into positioned chunk reads; disjoint
// destination slices make the copies race-free.
func (e *Engine) ReadFile(ctx context.Context, absPath string) ([]byte, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storerr.NewNotFoundError(component, "file", absPath)
		}
		return nil, storerr.NewIOError(component, "failed to stat file", absPath, err)
	}

	size := info.Size()
	if size > e.opts.MaxInMemorySize {
		return nil, storerr.NewResourceExhaustedError(component,
			fmt.Sprintf("file of %d bytes exceeds in-memory cap of %d bytes", size, e.opts.MaxInMemorySize))
	}

	chunks := bufpool.PlanChunks(size, e.opts.Planner)
	if len(chunks) == 1 {
		data, err := e.readSingle(ctx, absPath, size)
		if err != nil {
			return nil, err
		}
		e.recordRead(int64(len(data)), 1)
		return data, nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, storerr.NewIOError(component, "failed to open file", absPath, err)
	}
	defer f.Close()

	dest := make([]byte, size)
	g, ctx := errgroup.WithContext(ctx)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			if err := e.opts.IOSemaphore.Acquire(ctx, 1); err != nil {
				return err
			}
			defer e.opts.IOSemaphore.Release(1)

			if _, err := f.ReadAt(dest[chunk.Start:chunk.End()], chunk.Start); err != nil {
				return storerr.NewIOError(component,
					fmt.Sprintf("failed to read chunk %d", chunk.Index), absPath, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Debug("Read file in parallel chunks",
		logger.KeyPath, absPath,
		logger.KeySize, size,
		logger.KeyChunks, len(chunks))
	e.recordRead(size, len(chunks))
	return dest, nil
}

// readSingle reads the file in one pass, through a pooled buffer when the
// file fits in one.
func (e *Engine) readSingle(ctx context.Context, absPath string, size int64) ([]byte, error) {
	if err := e.opts.IOSemaphore.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.opts.IOSemaphore.Release(1)

	if size <= int64(e.opts.Pool.BufferSize()) {
		buf := e.opts.Pool.Get()
		f, err := os.Open(absPath)
		if err != nil {
			buf.Release()
			return nil, storerr.NewIOError(component, "failed to open file", absPath, err)
		}
		n, err := io.ReadFull(f, buf.Bytes()[:size])
		f.Close()
		if err != nil {
			buf.Release()
			return nil, storerr.NewIOError(component, "failed to read file", absPath, err)
		}
		buf.SetUsed(n)
		return buf.IntoBytes(), nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, storerr.NewIOError(component, "failed to read file", absPath, err)
	}
	return data, nil
}

// WriteFile writes data to absPath, fanning out into positioned chunk
// writes above the parallel threshold, then syncs.
func (e *Engine) WriteFile(ctx context.Context, absPath string, data []byte) error {
	size := int64(len(data))
	chunks := bufpool.PlanChunks(size, e.opts.Planner)

	if len(chunks) == 1 {
		if err := e.opts.IOSemaphore.Acquire(ctx, 1); err != nil {
			return err
		}
		defer e.opts.IOSemaphore.Release(1)

		if err := os.WriteFile(absPath, data, 0644); err != nil {
			return storerr.NewIOError(component, "failed to write file", absPath, err)
		}
		e.recordWrite(size, 1)
		return nil
	}

	f, err := os.Create(absPath)
	if err != nil {
		return storerr.NewIOError(component, "failed to create file", absPath, err)
	}
	defer f.Close()

	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range chunks {
		chunk := chunk
		part := data[chunk.Start:chunk.End()]
		g.Go(func() error {
			if err := e.opts.IOSemaphore.Acquire(gctx, 1); err != nil {
				return err
			}
			defer e.opts.IOSemaphore.Release(1)

			if _, err := f.WriteAt(part, chunk.Start); err != nil {
				return storerr.NewIOError(component,
					fmt.Sprintf("failed to write chunk %d", chunk.Index), absPath, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return storerr.NewIOError(component, "failed to sync file", absPath, err)
	}

	logger.Debug("Wrote file in parallel chunks",
		logger.KeyPath, absPath,
		logger.KeySize, size,
		logger.KeyChunks, len(chunks))
	e.recordWrite(size, len(chunks))
	return nil
}

func (e *Engine) recordRead(bytes int64, chunks int) {
	if e.opts.Metrics == nil {
		return
	}
	e.opts.Metrics.RecordBytesTransferred("read", bytes)
	e.opts.Metrics.RecordChunks("read", chunks)
}

func (e *Engine) recordWrite(bytes int64, chunks int) {
	if e.opts.Metrics == nil {
		return
	}
	e.opts.Metrics.RecordBytesTransferred("write", bytes)
	e.opts.Metrics.RecordChunks("write", chunks)
}
