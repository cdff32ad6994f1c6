// Package prometheus implements the metrics interfaces with
// prometheus/client_golang collectors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cirrusfs/cirrus/pkg/metrics"
)

// storageMetrics is the Prometheus implementation of metrics.StorageMetrics.
type storageMetrics struct {
	operations    *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	cacheAccesses *prometheus.CounterVec
	cacheEntries  prometheus.Gauge
	cacheEvicted  prometheus.Counter
	bytesMoved    *prometheus.CounterVec
	chunksUsed    *prometheus.HistogramVec
	pooledBuffers prometheus.Gauge
	idmapFlushes  *prometheus.CounterVec
	idmapDuration prometheus.Histogram
}

// NewStorageMetrics creates a Prometheus-backed StorageMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// callers pass through to the repositories for zero overhead.
func NewStorageMetrics() metrics.StorageMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &storageMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cirrus_storage_operations_total",
				Help: "Total storage operations by component, operation and error kind",
			},
			[]string{"component", "operation", "error"},
		),
		opDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "cirrus_storage_operation_duration_milliseconds",
				Help: "Duration of storage operations in milliseconds",
				Buckets: []float64{
					0.5,  // fast metadata hits
					1,    // 1ms
					5,    // 5ms
					10,   // 10ms
					50,   // 50ms
					100,  // 100ms
					500,  // 500ms - large writes
					1000, // 1s
					5000, // 5s - tree deletes
				},
			},
			[]string{"component", "operation"},
		),
		cacheAccesses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cirrus_metadata_cache_accesses_total",
				Help: "Metadata cache lookups by outcome",
			},
			[]string{"outcome"}, // "hit", "miss"
		),
		cacheEntries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "cirrus_metadata_cache_entries",
				Help: "Current number of metadata cache entries",
			},
		),
		cacheEvicted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cirrus_metadata_cache_evictions_total",
				Help: "Total metadata cache entries evicted",
			},
		),
		bytesMoved: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cirrus_io_bytes_total",
				Help: "Bytes moved by the parallel I/O engine by direction",
			},
			[]string{"direction"}, // "read", "write"
		),
		chunksUsed: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cirrus_io_chunks_per_operation",
				Help:    "Chunks used per large-file operation",
				Buckets: []float64{1, 2, 4, 8, 16, 32},
			},
			[]string{"direction"},
		),
		pooledBuffers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "cirrus_buffer_pool_buffers",
				Help: "Buffers currently held in the pool",
			},
		),
		idmapFlushes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cirrus_idmap_flushes_total",
				Help: "Durable id-map writes by outcome",
			},
			[]string{"outcome"}, // "ok", "error"
		),
		idmapDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cirrus_idmap_flush_duration_milliseconds",
				Help:    "Duration of durable id-map writes in milliseconds",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
			},
		),
	}
}

func (m *storageMetrics) RecordOperation(component, operation string, duration time.Duration, errKind string) {
	m.operations.WithLabelValues(component, operation, errKind).Inc()
	m.opDuration.WithLabelValues(component, operation).Observe(durationMs(duration))
}

func (m *storageMetrics) RecordCacheAccess(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheAccesses.WithLabelValues(outcome).Inc()
}

func (m *storageMetrics) SetCacheEntries(count int) {
	m.cacheEntries.Set(float64(count))
}

func (m *storageMetrics) RecordCacheEvictions(count int) {
	m.cacheEvicted.Add(float64(count))
}

func (m *storageMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesMoved.WithLabelValues(direction).Add(float64(bytes))
}

func (m *storageMetrics) RecordChunks(direction string, chunks int) {
	m.chunksUsed.WithLabelValues(direction).Observe(float64(chunks))
}

func (m *storageMetrics) SetPooledBuffers(count int) {
	m.pooledBuffers.Set(float64(count))
}

func (m *storageMetrics) RecordIdMapFlush(duration time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.idmapFlushes.WithLabelValues(outcome).Inc()
	m.idmapDuration.Observe(durationMs(duration))
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
