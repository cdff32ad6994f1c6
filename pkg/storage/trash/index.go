package trash

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/storage/domain"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/locking"
)

// indexFileName is the trash index inside the trash directory.
const indexFileName = "trash_index.json"

// index serializes all access to the on-disk trash index: a JSON list of
// TrashedItem records rewritten whole on every mutation.
type index struct {
	path string
	mu   *locking.Mutex
}

func newIndex(trashDir string, lockTimeout time.Duration) *index {
	return &index{
		path: filepath.Join(trashDir, indexFileName),
		mu:   locking.NewMutex(component, "trash index", lockTimeout),
	}
}

// load reads the index. Missing file means an empty trash; a corrupt file
// is backed up and the trash starts empty rather than failing every
// operation.
func (ix *index) load() ([]domain.TrashedItem, error) {
	data, err := os.ReadFile(ix.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storerr.NewIOError(component, "failed to read trash index", ix.path, err)
	}

	var items []domain.TrashedItem
	if err := json.Unmarshal(data, &items); err != nil {
		backup := ix.path + ".bak"
		logger.Error("Trash index corrupt, backing up and starting empty",
			logger.KeyPath, ix.path,
			logger.KeyError, err.Error())
		if renameErr := os.Rename(ix.path, backup); renameErr != nil {
			return nil, storerr.NewIOError(component, "failed to back up corrupt trash index", ix.path, renameErr)
		}
		return nil, nil
	}
	return items, nil
}

// save rewrites the whole index atomically.
func (ix *index) save(items []domain.TrashedItem) error {
	if err := os.MkdirAll(filepath.Dir(ix.path), 0o755); err != nil {
		return storerr.NewIOError(component, "failed to create trash directory", filepath.Dir(ix.path), err)
	}

	if items == nil {
		items = []domain.TrashedItem{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return storerr.NewInternalError(component, "failed to serialize trash index", err)
	}

	tmp := ix.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return storerr.NewIOError(component, "failed to create temp trash index", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return storerr.NewIOError(component, "failed to write trash index", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return storerr.NewIOError(component, "failed to sync trash index", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return storerr.NewIOError(component, "failed to close trash index", tmp, err)
	}
	if err := os.Rename(tmp, ix.path); err != nil {
		os.Remove(tmp)
		return storerr.NewIOError(component, "failed to replace trash index", ix.path, err)
	}
	return nil
}

// append adds one record under the index lock.
func (ix *index) append(ctx context.Context, item domain.TrashedItem) error {
	if err := ix.mu.Lock(ctx); err != nil {
		return err
	}
	defer ix.mu.Unlock()

	items, err := ix.load()
	if err != nil {
		return err
	}
	return ix.save(append(items, item))
}

// remove drops the record with the given trash id, scoped to the
// principal. Removing an absent record is a no-op.
func (ix *index) remove(ctx context.Context, trashID, principalID string) error {
	if err := ix.mu.Lock(ctx); err != nil {
		return err
	}
	defer ix.mu.Unlock()

	items, err := ix.load()
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, item := range items {
		if item.TrashID == trashID && item.PrincipalID == principalID {
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == len(items) {
		return nil
	}
	return ix.save(kept)
}

// find returns the record with the given trash id for the principal.
func (ix *index) find(ctx context.Context, trashID, principalID string) (domain.TrashedItem, bool, error) {
	if err := ix.mu.Lock(ctx); err != nil {
		return domain.TrashedItem{}, false, err
	}
	defer ix.mu.Unlock()

	items, err := ix.load()
	if err != nil {
		return domain.TrashedItem{}, false, err
	}
	for _, item := range items {
		if item.TrashID == trashID && item.PrincipalID == principalID {
			return item, true, nil
		}
	}
	return domain.TrashedItem{}, false, nil
}

// list returns records matching the filter, which may be nil for all.
func (ix *index) list(ctx context.Context, keep func(domain.TrashedItem) bool) ([]domain.TrashedItem, error) {
	if err := ix.mu.Lock(ctx); err != nil {
		return nil, err
	}
	defer ix.mu.Unlock()

	items, err := ix.load()
	if err != nil {
		return nil, err
	}
	if keep == nil {
		return items, nil
	}
	matched := make([]domain.TrashedItem, 0, len(items))
	for _, item := range items {
		if keep(item) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}
