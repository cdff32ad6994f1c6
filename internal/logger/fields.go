package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so output stays queryable.
const (
	// ========================================================================
	// Request Correlation
	// ========================================================================
	KeyTraceID   = "trace_id"  // Request correlation ID
	KeyPrincipal = "principal" // Resolved principal (user) id
	KeyOperation = "operation" // Storage operation: save, move, restore, etc.
	KeyComponent = "component" // Storage layer: idmap, folder, trash, etc.

	// ========================================================================
	// Namespace Operations
	// ========================================================================
	KeyPath       = "path"        // Logical or physical path
	KeyName       = "name"        // File or folder name
	KeyParentPath = "parent_path" // Parent directory path
	KeyOldPath    = "old_path"    // Source path for rename/move
	KeyNewPath    = "new_path"    // Destination path for rename/move
	KeyID         = "id"          // Opaque file/folder id
	KeyTrashID    = "trash_id"    // Trash entry id
	KeyKind       = "kind"        // Entry kind: file, folder
	KeySize       = "size"        // Size in bytes
	KeyMime       = "mime"        // MIME type

	// ========================================================================
	// I/O Engine
	// ========================================================================
	KeyChunks       = "chunks"        // Number of chunks in a plan
	KeyChunkSize    = "chunk_size"    // Chunk size in bytes
	KeyBytesRead    = "bytes_read"    // Actual bytes read
	KeyBytesWritten = "bytes_written" // Actual bytes written

	// ========================================================================
	// Caches & Pools
	// ========================================================================
	KeyCacheHit  = "cache_hit"  // Cache hit indicator
	KeyCacheSize = "cache_size" // Current cache size
	KeyEvicted   = "evicted"    // Number of entries evicted
	KeyHitRatio  = "hit_ratio"  // Cache hit ratio
	KeyPending   = "pending"    // Pending batch entries

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyEntries    = "entries"     // Number of directory/index entries
	KeyVersion    = "version"     // Id-map document version
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for the request correlation id.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// Principal returns a slog.Attr for the resolved principal id.
func Principal(id string) slog.Attr {
	return slog.String(KeyPrincipal, id)
}

// Operation returns a slog.Attr for the storage operation name.
func Operation(name string) slog.Attr {
	return slog.String(KeyOperation, name)
}

// Component returns a slog.Attr for the storage layer name.
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Path returns a slog.Attr for a logical or physical path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Name returns a slog.Attr for a file or folder name.
func Name(n string) slog.Attr {
	return slog.String(KeyName, n)
}

// OldPath returns a slog.Attr for the source path of a rename/move.
func OldPath(p string) slog.Attr {
	return slog.String(KeyOldPath, p)
}

// NewPath returns a slog.Attr for the destination path of a rename/move.
func NewPath(p string) slog.Attr {
	return slog.String(KeyNewPath, p)
}

// ID returns a slog.Attr for an opaque entity id.
func ID(id string) slog.Attr {
	return slog.String(KeyID, id)
}

// Size returns a slog.Attr for a size in bytes.
func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// Err returns a slog.Attr for an error message.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr with the elapsed time since start in
// milliseconds.
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}
