// Package locking provides context-aware mutexes whose acquisition is
// bounded by a configured timeout. The id map, metadata cache and trash
// index all guard their state with these instead of bare sync primitives so
// a stuck writer surfaces as a Timeout error instead of a hung request.
package locking

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
)

// writerWeight is the full weight of an RWMutex semaphore. A writer takes
// all of it; each reader takes 1, so up to writerWeight readers may hold
// the lock at once.
const writerWeight = 1 << 30

// RWMutex is a reader-writer lock with timeout-bounded acquisition.
type RWMutex struct {
	sem       *semaphore.Weighted
	timeout   time.Duration
	component string
	name      string
}

// NewRWMutex creates an RWMutex for the given component. Every acquisition
// waits at most timeout; expiry returns a Timeout error and leaves the lock
// untouched.
func NewRWMutex(component, name string, timeout time.Duration) *RWMutex {
	return &RWMutex{
		sem:       semaphore.NewWeighted(writerWeight),
		timeout:   timeout,
		component: component,
		name:      name,
	}
}

// RLock acquires a read lock. Multiple readers may hold the lock
// concurrently; a pending writer blocks new readers.
func (m *RWMutex) RLock(ctx context.Context) error {
	return m.acquire(ctx, 1)
}

// RUnlock releases a read lock.
func (m *RWMutex) RUnlock() {
	m.sem.Release(1)
}

// Lock acquires the write lock, excluding all readers and writers.
func (m *RWMutex) Lock(ctx context.Context) error {
	return m.acquire(ctx, writerWeight)
}

// Unlock releases the write lock.
func (m *RWMutex) Unlock() {
	m.sem.Release(writerWeight)
}

func (m *RWMutex) acquire(ctx context.Context, weight int64) error {
	acquireCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.sem.Acquire(acquireCtx, weight); err != nil {
		// Caller cancellation and timeout both land here; the caller's
		// context error wins when it was the one that fired.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return storerr.NewTimeoutError(m.component, m.name+" lock")
	}
	return nil
}

// Mutex is an exclusive lock with timeout-bounded acquisition.
type Mutex struct {
	sem       *semaphore.Weighted
	timeout   time.Duration
	component string
	name      string
}

// NewMutex creates a Mutex for the given component.
func NewMutex(component, name string, timeout time.Duration) *Mutex {
	return &Mutex{
		sem:       semaphore.NewWeighted(1),
		timeout:   timeout,
		component: component,
		name:      name,
	}
}

// Lock acquires the lock, waiting at most the configured timeout.
func (m *Mutex) Lock(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return storerr.NewTimeoutError(m.component, m.name+" lock")
	}
	return nil
}

// TryLock acquires the lock without waiting. Returns false if it is held.
func (m *Mutex) TryLock() bool {
	return m.sem.TryAcquire(1)
}

// Unlock releases the lock.
func (m *Mutex) Unlock() {
	m.sem.Release(1)
}
