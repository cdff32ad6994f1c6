// Package metrics provides optional Prometheus instrumentation for the
// storage core.
//
// The interface-plus-nil pattern keeps the hot paths allocation-free when
// metrics are disabled: callers hold a StorageMetrics that may be nil and
// every recording helper tolerates that.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
)

// StorageMetrics provides observability for storage core operations.
//
// Implementations collect per-operation latency and outcome, cache
// efficiency, buffer pool pressure and I/O throughput. The interface is
// optional: pass nil to disable collection with zero overhead.
type StorageMetrics interface {
	// RecordOperation records a completed repository operation.
	//
	// Parameters:
	//   - component: storage layer name (folder, file, trash, idmap, batch)
	//   - operation: operation name (create, save, move, restore, ...)
	//   - duration: time taken
	//   - errKind: error kind string if the operation failed, empty on success
	RecordOperation(component, operation string, duration time.Duration, errKind string)

	// RecordCacheAccess records a metadata cache lookup outcome.
	RecordCacheAccess(hit bool)

	// SetCacheEntries updates the current metadata cache entry count.
	SetCacheEntries(count int)

	// RecordCacheEvictions adds to the eviction counter.
	RecordCacheEvictions(count int)

	// RecordBytesTransferred records bytes moved by the I/O engine.
	// Direction is "read" or "write".
	RecordBytesTransferred(direction string, bytes int64)

	// RecordChunks records the number of chunks a large-file operation used.
	RecordChunks(direction string, chunks int)

	// SetPooledBuffers updates the current buffer pool occupancy.
	SetPooledBuffers(count int)

	// RecordIdMapFlush records a durable id-map write and its outcome.
	RecordIdMapFlush(duration time.Duration, err bool)
}

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide Prometheus registry. Until it is
// called, IsEnabled reports false and New returns nil.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
}

// IsEnabled reports whether metrics collection is active.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil when disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// NewServer returns an HTTP server exposing /metrics on the given port, or
// nil when metrics are disabled.
func NewServer(port int) *http.Server {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
}

// ============================================================================
// Nil-safe recording helpers
// ============================================================================

// ObserveOperation records an operation on m, tolerating a nil receiver.
func ObserveOperation(m StorageMetrics, component, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	errKind := ""
	if err != nil {
		errKind = storerr.KindOf(err).String()
	}
	m.RecordOperation(component, operation, time.Since(start), errKind)
}

// ObserveCacheAccess records a cache lookup outcome, tolerating nil.
func ObserveCacheAccess(m StorageMetrics, hit bool) {
	if m != nil {
		m.RecordCacheAccess(hit)
	}
}

// ObserveBytes records transferred bytes, tolerating nil.
func ObserveBytes(m StorageMetrics, direction string, bytes int64) {
	if m != nil {
		m.RecordBytesTransferred(direction, bytes)
	}
}
