// Package bufpool provides reusable byte buffers for the I/O engine and
// the chunk planner that partitions large transfers.
package bufpool

import (
	"sync"
	"time"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/metrics"
)

const (
	DefaultBufferSize = 64 * 1024
	DefaultMaxBuffers = 100
	DefaultIdleTTL    = 60 * time.Second

	reapInterval = 30 * time.Second
)

// Stats is a snapshot of pool counters.
type Stats struct {
	Gets      uint64
	Hits      uint64
	Misses    uint64
	Returns   uint64
	Evictions uint64
	Discards  uint64
	Pooled    int
}

// HitRatio returns the percentage of gets served from the pool.
func (s Stats) HitRatio() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(s.Gets)
}

type idleBuffer struct {
	buf      []byte
	returned time.Time
}

// Pool hands out fixed-capacity byte buffers. Get never blocks: when the
// pool is empty a fresh buffer is allocated, and Release drops the buffer
// instead of growing the pool past its cap. Idle buffers are reaped after
// the configured TTL.
type Pool struct {
	bufferSize int
	maxBuffers int
	idleTTL    time.Duration
	metrics    metrics.StorageMetrics

	mu   sync.Mutex
	idle []idleBuffer

	statsMu sync.Mutex
	stats   Stats

	stopCh chan struct{}
	doneCh chan struct{}
}

// Options tunes a Pool. Zero values fall back to the package defaults.
type Options struct {
	BufferSize int
	MaxBuffers int
	IdleTTL    time.Duration
	Metrics    metrics.StorageMetrics
}

// New creates a buffer pool.
func New(opts Options) *Pool {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.MaxBuffers <= 0 {
		opts.MaxBuffers = DefaultMaxBuffers
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	return &Pool{
		bufferSize: opts.BufferSize,
		maxBuffers: opts.MaxBuffers,
		idleTTL:    opts.IdleTTL,
		metrics:    opts.Metrics,
		idle:       make([]idleBuffer, 0, opts.MaxBuffers),
	}
}

// BufferSize returns the capacity of buffers handed out by this pool.
func (p *Pool) BufferSize() int {
	return p.bufferSize
}

// Get returns a zeroed buffer of the pool's capacity. Expired idle buffers
// encountered on the way are discarded.
func (p *Pool) Get() *Buffer {
	p.statsMu.Lock()
	p.stats.Gets++
	p.statsMu.Unlock()

	now := time.Now()
	for {
		p.mu.Lock()
		if len(p.idle) == 0 {
			p.mu.Unlock()
			break
		}
		entry := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()

		if now.Sub(entry.returned) > p.idleTTL {
			p.statsMu.Lock()
			p.stats.Evictions++
			p.statsMu.Unlock()
			continue
		}

		for i := range entry.buf {
			entry.buf[i] = 0
		}
		p.statsMu.Lock()
		p.stats.Hits++
		p.statsMu.Unlock()
		return &Buffer{buf: entry.buf, pool: p}
	}

	p.statsMu.Lock()
	p.stats.Misses++
	p.statsMu.Unlock()
	return &Buffer{buf: make([]byte, p.bufferSize), pool: p}
}

func (p *Pool) put(buf []byte) {
	if cap(buf) != p.bufferSize {
		p.statsMu.Lock()
		p.stats.Discards++
		p.statsMu.Unlock()
		return
	}
	buf = buf[:p.bufferSize]

	p.mu.Lock()
	if len(p.idle) >= p.maxBuffers {
		p.mu.Unlock()
		p.statsMu.Lock()
		p.stats.Discards++
		p.statsMu.Unlock()
		return
	}
	p.idle = append(p.idle, idleBuffer{buf: buf, returned: time.Now()})
	pooled := len(p.idle)
	p.mu.Unlock()

	p.statsMu.Lock()
	p.stats.Returns++
	p.statsMu.Unlock()
	if p.metrics != nil {
		p.metrics.SetPooledBuffers(pooled)
	}
}

// ReapIdle drops buffers idle longer than the TTL and returns how many
// were removed.
func (p *Pool) ReapIdle() int {
	now := time.Now()

	p.mu.Lock()
	kept := p.idle[:0]
	removed := 0
	for _, entry := range p.idle {
		if now.Sub(entry.returned) > p.idleTTL {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	p.idle = kept
	pooled := len(p.idle)
	p.mu.Unlock()

	if removed > 0 {
		p.statsMu.Lock()
		p.stats.Evictions += uint64(removed)
		p.statsMu.Unlock()
		if p.metrics != nil {
			p.metrics.SetPooledBuffers(pooled)
		}
		logger.Debug("Reaped idle buffers", logger.KeyEvicted, removed)
	}
	return removed
}

// StatsSnapshot returns the counters with the current pooled count.
func (p *Pool) StatsSnapshot() Stats {
	p.statsMu.Lock()
	stats := p.stats
	p.statsMu.Unlock()

	p.mu.Lock()
	stats.Pooled = len(p.idle)
	p.mu.Unlock()
	return stats
}

// StartReaper launches the periodic idle sweep. Call Stop to shut it down.
func (p *Pool) StartReaper() {
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go func() {
		defer close(p.doneCh)
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.ReapIdle()
				stats := p.StatsSnapshot()
				logger.Debug("Buffer pool stats",
					"gets", stats.Gets,
					"hits", stats.Hits,
					"misses", stats.Misses,
					logger.KeyHitRatio, stats.HitRatio(),
					"returns", stats.Returns,
					"evictions", stats.Evictions,
					"pooled", stats.Pooled)
			}
		}
	}()
}

// Stop terminates the reaper and waits for it to exit.
func (p *Pool) Stop() {
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	<-p.doneCh
	p.stopCh = nil
	p.doneCh = nil
}

// Buffer is a pooled byte buffer with a recorded used length. Release
// returns it to the pool; a released buffer must not be touched again.
type Buffer struct {
	buf  []byte
	used int
	pool *Pool
}

// Bytes returns the full backing slice for filling.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// SetUsed records how many bytes of the buffer hold real data, clamped to
// the buffer capacity.
func (b *Buffer) SetUsed(n int) {
	if n > len(b.buf) {
		n = len(b.buf)
	}
	if n < 0 {
		n = 0
	}
	b.used = n
}

// Used returns the recorded data length.
func (b *Buffer) Used() int {
	return b.used
}

// Data returns the used portion of the buffer.
func (b *Buffer) Data() []byte {
	return b.buf[:b.used]
}

// CopyFrom copies data into the buffer, records the used length, and
// returns how many bytes were copied.
func (b *Buffer) CopyFrom(data []byte) int {
	n := copy(b.buf, data)
	b.used = n
	return n
}

// IntoBytes detaches the used portion as an owned slice. The buffer is not
// returned to the pool.
func (b *Buffer) IntoBytes() []byte {
	out := make([]byte, b.used)
	copy(out, b.buf[:b.used])
	b.buf = nil
	b.pool = nil
	return out
}

// Release returns the buffer to its pool. Safe to call once.
func (b *Buffer) Release() {
	if b.pool == nil || b.buf == nil {
		return
	}
	pool := b.pool
	buf := b.buf
	b.pool = nil
	b.buf = nil
	b.used = 0
	pool.put(buf)
}
