// Package idmap maintains the persistent bidirectional mapping between
// opaque ids and logical paths. Mutations mark the map dirty; a debounced
// background flush makes them durable with a temp-file-and-rename protocol.
package idmap

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/metrics"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/locking"
	"github.com/cirrusfs/cirrus/pkg/storage/path"
)

const component = "IdMapping"

// document is the on-disk shape of the id map.
type document struct {
	PathToID map[string]string `json:"path_to_id"`
	IDToPath map[string]string `json:"id_to_path"`
	Version  uint32            `json:"version"`
}

// Options tunes a Service. Zero values fall back to the defaults used by
// config.ApplyDefaults.
type Options struct {
	LockTimeout  time.Duration
	SaveDebounce time.Duration
	Metrics      metrics.StorageMetrics
}

func (o *Options) applyDefaults() {
	if o.LockTimeout == 0 {
		o.LockTimeout = 5 * time.Second
	}
	if o.SaveDebounce == 0 {
		o.SaveDebounce = 300 * time.Millisecond
	}
}

// Service is the id<->path mapper. All methods are safe for concurrent use;
// every lock acquisition is bounded by the configured timeout.
type Service struct {
	mapPath string
	opts    Options

	mu    *locking.RWMutex // guards state
	state document

	saveMu *locking.Mutex // serializes durable writes

	// mutations counts map changes; a flush clears dirty only when no
	// newer mutation happened between snapshot and rename.
	mutations atomic.Uint64
	flushed   atomic.Uint64
	dirty     atomic.Bool

	scheduled atomic.Bool
	wg        sync.WaitGroup
}

// New loads (or initializes) the id map stored at mapPath.
//
// A missing file yields an empty map which is written out immediately. A
// corrupt file is renamed aside with a .bak suffix and replaced by an empty
// map so the service always starts. If the inverse map is empty while the
// forward map is not, the inverse is rebuilt.
func New(mapPath string, opts Options) (*Service, error) {
	opts.applyDefaults()

	s := &Service{
		mapPath: mapPath,
		opts:    opts,
		mu:      locking.NewRWMutex(component, "state", opts.LockTimeout),
		saveMu:  locking.NewMutex(component, "save", opts.LockTimeout),
	}

	doc, err := load(mapPath)
	if err != nil {
		return nil, err
	}
	s.state = doc

	return s, nil
}

// NewInMemory creates a mapper that never persists. Used by tests and by
// callers that manage durability themselves.
func NewInMemory(opts Options) *Service {
	opts.applyDefaults()
	return &Service{
		mapPath: "",
		opts:    opts,
		mu:      locking.NewRWMutex(component, "state", opts.LockTimeout),
		saveMu:  locking.NewMutex(component, "save", opts.LockTimeout),
		state:   emptyDocument(),
	}
}

func emptyDocument() document {
	return document{
		PathToID: make(map[string]string),
		IDToPath: make(map[string]string),
		Version:  1,
	}
}

func load(mapPath string) (document, error) {
	data, err := os.ReadFile(mapPath)
	if os.IsNotExist(err) {
		logger.Info("No existing id map found, creating empty map", logger.KeyPath, mapPath)
		doc := emptyDocument()
		if writeErr := persist(mapPath, doc); writeErr != nil {
			logger.Error("Failed to write initial id map", logger.KeyPath, mapPath, logger.KeyError, writeErr.Error())
		}
		return doc, nil
	}
	if err != nil {
		return document{}, storerr.NewIOError(component, "failed to read id map", mapPath, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		// Keep the corrupt file for forensics and continue empty
		backupPath := mapPath + ".bak"
		if renameErr := os.Rename(mapPath, backupPath); renameErr != nil {
			logger.Error("Failed to back up corrupt id map", logger.KeyPath, mapPath, logger.KeyError, renameErr.Error())
		} else {
			logger.Warn("Backed up corrupt id map", logger.KeyPath, backupPath)
		}
		return emptyDocument(), nil
	}

	if doc.PathToID == nil {
		doc.PathToID = make(map[string]string)
	}
	if doc.IDToPath == nil {
		doc.IDToPath = make(map[string]string)
	}
	if doc.Version == 0 {
		doc.Version = 1
	}

	if len(doc.IDToPath) == 0 && len(doc.PathToID) > 0 {
		for p, id := range doc.PathToID {
			doc.IDToPath[id] = p
		}
		logger.Info("Rebuilt inverse id mapping", logger.KeyEntries, len(doc.IDToPath))
	}

	logger.Info("Loaded id map",
		logger.KeyPath, mapPath,
		logger.KeyEntries, len(doc.PathToID),
		logger.KeyVersion, doc.Version)
	return doc, nil
}

// GetOrCreateID returns the existing id for path, or allocates a fresh
// random id and inserts both directions.
func (s *Service) GetOrCreateID(ctx context.Context, p path.Logical) (string, error) {
	pathStr := p.String()

	// Fast path under the read lock
	if err := s.mu.RLock(ctx); err != nil {
		return "", err
	}
	id, ok := s.state.PathToID[pathStr]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	if err := s.mu.Lock(ctx); err != nil {
		return "", err
	}
	// Re-check: another writer may have inserted while we waited
	if id, ok := s.state.PathToID[pathStr]; ok {
		s.mu.Unlock()
		return id, nil
	}

	id = uuid.NewString()
	s.state.PathToID[pathStr] = id
	s.state.IDToPath[id] = pathStr
	s.mu.Unlock()
	s.markDirty()

	logger.Debug("Created id mapping", logger.KeyPath, pathStr, logger.KeyID, id)
	return id, nil
}

// Assign force-inserts the id<->path pair, displacing any existing mapping
// for either side. Used when a caller supplies the id, as in
// overwrite-in-place saves.
func (s *Service) Assign(ctx context.Context, id string, p path.Logical) error {
	pathStr := p.String()

	if err := s.mu.Lock(ctx); err != nil {
		return err
	}
	if oldPath, ok := s.state.IDToPath[id]; ok && oldPath != pathStr {
		delete(s.state.PathToID, oldPath)
	}
	if oldID, ok := s.state.PathToID[pathStr]; ok && oldID != id {
		delete(s.state.IDToPath, oldID)
	}
	s.state.PathToID[pathStr] = id
	s.state.IDToPath[id] = pathStr
	s.mu.Unlock()
	s.markDirty()

	logger.Debug("Assigned id mapping", logger.KeyID, id, logger.KeyPath, pathStr)
	return nil
}

// PathByID resolves an id to its logical path. Returns NotFound when the
// id has no mapping.
func (s *Service) PathByID(ctx context.Context, id string) (path.Logical, error) {
	if err := s.mu.RLock(ctx); err != nil {
		return path.Logical{}, err
	}
	pathStr, ok := s.state.IDToPath[id]
	s.mu.RUnlock()

	if !ok {
		return path.Logical{}, storerr.NewNotFoundError(component, "id mapping", id)
	}
	return path.Parse(pathStr), nil
}

// IDByPath returns the id mapped to path, if any.
func (s *Service) IDByPath(ctx context.Context, p path.Logical) (string, bool, error) {
	if err := s.mu.RLock(ctx); err != nil {
		return "", false, err
	}
	id, ok := s.state.PathToID[p.String()]
	s.mu.RUnlock()
	return id, ok, nil
}

// UpdatePath remaps id to newPath, removing the previous path entry.
// Returns NotFound when the id has no mapping.
func (s *Service) UpdatePath(ctx context.Context, id string, newPath path.Logical) error {
	if err := s.mu.Lock(ctx); err != nil {
		return err
	}

	oldPath, ok := s.state.IDToPath[id]
	if !ok {
		s.mu.Unlock()
		return storerr.NewNotFoundError(component, "id mapping", id)
	}

	delete(s.state.PathToID, oldPath)
	newPathStr := newPath.String()
	s.state.PathToID[newPathStr] = id
	s.state.IDToPath[id] = newPathStr
	s.mu.Unlock()
	s.markDirty()

	logger.Debug("Updated id mapping",
		logger.KeyID, id,
		logger.KeyOldPath, oldPath,
		logger.KeyNewPath, newPathStr)
	return nil
}

// RemoveID removes both directions of the mapping for id. Returns NotFound
// when the id has no mapping.
func (s *Service) RemoveID(ctx context.Context, id string) error {
	if err := s.mu.Lock(ctx); err != nil {
		return err
	}

	pathStr, ok := s.state.IDToPath[id]
	if !ok {
		s.mu.Unlock()
		return storerr.NewNotFoundError(component, "id mapping", id)
	}

	delete(s.state.IDToPath, id)
	delete(s.state.PathToID, pathStr)
	s.mu.Unlock()
	s.markDirty()

	logger.Debug("Removed id mapping", logger.KeyID, id, logger.KeyPath, pathStr)
	return nil
}

// ChildrenOf returns a path->id snapshot of every mapping whose parent is
// exactly parent. Used by the file repository's two-pass listing.
func (s *Service) ChildrenOf(ctx context.Context, parent path.Logical) (map[string]string, error) {
	if err := s.mu.RLock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	children := make(map[string]string)
	for pathStr, id := range s.state.PathToID {
		p := path.Parse(pathStr)
		if pp, ok := p.Parent(); ok && pp.Equal(parent) {
			children[pathStr] = id
		}
	}
	return children, nil
}

// Snapshot returns a copy of the forward map. Used by the cold scan.
func (s *Service) Snapshot(ctx context.Context) (map[string]string, error) {
	if err := s.mu.RLock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.state.PathToID))
	for p, id := range s.state.PathToID {
		out[p] = id
	}
	return out, nil
}

// Len returns the number of mappings.
func (s *Service) Len(ctx context.Context) (int, error) {
	if err := s.mu.RLock(ctx); err != nil {
		return 0, err
	}
	defer s.mu.RUnlock()
	return len(s.state.PathToID), nil
}

func (s *Service) markDirty() {
	s.mutations.Add(1)
	s.dirty.Store(true)
}

// Dirty reports whether unflushed mutations exist.
func (s *Service) Dirty() bool {
	return s.dirty.Load()
}

// SaveChanges schedules a durable write after the debounce delay. Repeated
// calls within the window coalesce into a single write. In-memory services
// treat this as a no-op.
func (s *Service) SaveChanges() {
	if s.mapPath == "" || !s.dirty.Load() {
		return
	}
	if !s.scheduled.CompareAndSwap(false, true) {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		time.Sleep(s.opts.SaveDebounce)
		s.scheduled.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 2*s.opts.LockTimeout)
		defer cancel()
		if err := s.Flush(ctx); err != nil {
			logger.Error("Failed to save id map",
				logger.KeyPath, s.mapPath,
				logger.KeyError, err.Error())
		}
	}()
}

// Flush performs an immediate durable write if the map is dirty.
//
// Protocol: take the save mutex, snapshot the maps under the state lock and
// bump the version, serialize, write to <map>.tmp, fsync, rename over the
// real file. The dirty flag is cleared only when no newer mutation happened
// while the write was in flight.
func (s *Service) Flush(ctx context.Context) error {
	if s.mapPath == "" {
		return nil
	}

	if err := s.saveMu.Lock(ctx); err != nil {
		return err
	}
	defer s.saveMu.Unlock()

	if !s.dirty.Load() {
		return nil
	}

	start := time.Now()

	if err := s.mu.Lock(ctx); err != nil {
		return err
	}
	s.state.Version++
	snapshot := document{
		PathToID: make(map[string]string, len(s.state.PathToID)),
		IDToPath: make(map[string]string, len(s.state.IDToPath)),
		Version:  s.state.Version,
	}
	for p, id := range s.state.PathToID {
		snapshot.PathToID[p] = id
	}
	for id, p := range s.state.IDToPath {
		snapshot.IDToPath[id] = p
	}
	seen := s.mutations.Load()
	s.mu.Unlock()

	err := retry.Do(
		func() error { return persist(s.mapPath, snapshot) },
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordIdMapFlush(time.Since(start), err != nil)
	}
	if err != nil {
		return err
	}

	s.flushed.Store(seen)
	if s.mutations.Load() == seen {
		s.dirty.Store(false)
	}

	logger.Debug("Saved id map",
		logger.KeyPath, s.mapPath,
		logger.KeyEntries, len(snapshot.PathToID),
		logger.KeyVersion, snapshot.Version,
		logger.KeyDurationMs, logger.Duration(start))
	return nil
}

// Close flushes pending changes and waits for any scheduled save.
func (s *Service) Close(ctx context.Context) error {
	s.wg.Wait()
	return s.Flush(ctx)
}

// persist writes doc to mapPath via temp-file-and-rename, fsyncing before
// the rename so a crash never exposes a torn document.
func persist(mapPath string, doc document) error {
	if dir := filepath.Dir(mapPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return storerr.NewIOError(component, "failed to create id map directory", dir, err)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return storerr.NewInternalError(component, "failed to serialize id map", err)
	}

	tmpPath := mapPath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return storerr.NewIOError(component, "failed to create temp id map", tmpPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return storerr.NewIOError(component, "failed to write temp id map", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return storerr.NewIOError(component, "failed to sync temp id map", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return storerr.NewIOError(component, "failed to close temp id map", tmpPath, err)
	}

	if err := os.Rename(tmpPath, mapPath); err != nil {
		return storerr.NewIOError(component, "failed to rename id map into place", mapPath, err)
	}
	return nil
}

// IsMapFile reports whether name is one of the id-map artifacts that the
// cold scan and listings must skip.
func IsMapFile(name string) bool {
	return strings.HasSuffix(name, ".json") &&
		(strings.HasPrefix(name, "folder_ids") || strings.HasPrefix(name, "file_ids")) ||
		strings.HasSuffix(name, ".json.tmp") || strings.HasSuffix(name, ".json.bak")
}
