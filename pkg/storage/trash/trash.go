// Package trash implements reversible deletion. Payloads are staged into a
// per-principal area under the storage root and tracked in a JSON index
// with a deletion deadline; a periodic sweeper purges what callers never
// restore.
package trash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/metrics"
	"github.com/cirrusfs/cirrus/pkg/storage/domain"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/mediator"
	"github.com/cirrusfs/cirrus/pkg/storage/metacache"
	"github.com/cirrusfs/cirrus/pkg/storage/path"
	"github.com/cirrusfs/cirrus/pkg/storage/txn"
)

const component = "Trash"

// trashDirName is the reserved directory under the storage root.
const trashDirName = ".trash"

const (
	defaultRetentionDays = 30
	defaultLockTimeout   = 5 * time.Second
	minSweepInterval     = time.Hour
)

// Options configures the trash repository.
type Options struct {
	// RetentionDays is how long staged items survive before the sweeper
	// purges them. Defaults to 30.
	RetentionDays int

	// LockTimeout bounds index lock acquisition. Defaults to 5s.
	LockTimeout time.Duration

	Metrics metrics.StorageMetrics
}

// Repository stages, restores and purges trashed payloads.
type Repository struct {
	med     *mediator.Mediator
	folders mediator.Mapper
	files   mediator.Mapper
	cache   *metacache.Cache
	idx     *index
	opts    Options

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a trash repository over the mediator's storage root.
func New(med *mediator.Mediator, folders, files mediator.Mapper, cache *metacache.Cache, opts Options) *Repository {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = defaultRetentionDays
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	return &Repository{
		med:     med,
		folders: folders,
		files:   files,
		cache:   cache,
		idx:     newIndex(filepath.Join(med.Root(), trashDirName), opts.LockTimeout),
		opts:    opts,
	}
}

func (r *Repository) mapperFor(kind domain.ItemKind) (mediator.Mapper, error) {
	switch kind {
	case domain.ItemFile:
		return r.files, nil
	case domain.ItemFolder:
		return r.folders, nil
	default:
		return nil, storerr.NewInvalidInputError(component, fmt.Sprintf("unknown item kind %q", kind))
	}
}

// stagedPath is the logical path of a staged payload.
func stagedPath(principalID, trashID string) path.Logical {
	return path.New(trashDirName, principalID, trashID)
}

// MoveToTrash stages the item's payload under the principal's trash area
// and records it in the index. The id keeps resolving, now to the staged
// path, so a later restore can find the payload.
func (r *Repository) MoveToTrash(ctx context.Context, itemID string, kind domain.ItemKind, principalID string) (domain.TrashedItem, error) {
	start := time.Now()
	mapper, err := r.mapperFor(kind)
	if err != nil {
		return domain.TrashedItem{}, err
	}

	originalPath, err := mapper.PathByID(ctx, itemID)
	if err != nil {
		return domain.TrashedItem{}, err
	}
	name, ok := originalPath.FileName()
	if !ok {
		return domain.TrashedItem{}, storerr.NewInvalidInputError(component, "cannot trash the storage root")
	}

	now := time.Now().UTC()
	entry := domain.TrashedItem{
		TrashID:      uuid.NewString(),
		OriginalID:   itemID,
		PrincipalID:  principalID,
		Kind:         kind,
		Name:         name,
		OriginalPath: originalPath.String(),
		TrashedAt:    now,
		DeletionDue:  now.Add(time.Duration(r.opts.RetentionDays) * 24 * time.Hour),
	}

	staged := stagedPath(principalID, entry.TrashID)
	oldAbs := r.med.Resolve(originalPath)
	stagedAbs := r.med.Resolve(staged)

	tx := txn.New("move to trash")
	tx.Add("index insert",
		func(ctx context.Context) error {
			return r.idx.append(ctx, entry)
		},
		func(ctx context.Context) error {
			return r.idx.remove(ctx, entry.TrashID, principalID)
		})
	tx.Add("stage payload",
		func(ctx context.Context) error {
			if err := os.MkdirAll(filepath.Dir(stagedAbs), 0o755); err != nil {
				return storerr.NewIOError(component, "failed to create trash area", filepath.Dir(stagedAbs), err)
			}
			if err := os.Rename(oldAbs, stagedAbs); err != nil {
				if os.IsNotExist(err) {
					return storerr.NewNotFoundError(component, string(kind), originalPath.String())
				}
				return storerr.NewIOError(component, "failed to stage payload", oldAbs, err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return os.Rename(stagedAbs, oldAbs)
		})
	tx.Add("mapping update",
		func(ctx context.Context) error {
			return r.rebase(ctx, mapper, itemID, originalPath, staged, kind)
		},
		nil)
	if err := tx.Commit(ctx); err != nil {
		metrics.ObserveOperation(r.opts.Metrics, component, "move_to_trash", start, err)
		return domain.TrashedItem{}, err
	}

	r.cache.InvalidatePrefix(oldAbs)
	r.saveMappings()

	logger.InfoCtx(ctx, "Moved item to trash",
		logger.KeyTrashID, entry.TrashID,
		logger.KeyID, itemID,
		logger.KeyKind, string(kind),
		logger.KeyPrincipal, principalID,
		logger.KeyPath, entry.OriginalPath)
	metrics.ObserveOperation(r.opts.Metrics, component, "move_to_trash", start, nil)
	return entry, nil
}

// Restore moves a staged payload back to its original path, or to a
// timestamp-suffixed sibling when the original path is occupied. A missing
// payload drops the index entry and still succeeds.
func (r *Repository) Restore(ctx context.Context, trashID, principalID string) error {
	start := time.Now()
	entry, found, err := r.idx.find(ctx, trashID, principalID)
	if err != nil {
		return err
	}
	if !found {
		return storerr.NewNotFoundError(component, "trash entry", trashID)
	}
	mapper, err := r.mapperFor(entry.Kind)
	if err != nil {
		return err
	}

	staged := stagedPath(principalID, trashID)
	stagedAbs := r.med.Resolve(staged)
	if !r.med.ExistsFile(stagedAbs) && !r.med.ExistsDir(stagedAbs) {
		logger.WarnCtx(ctx, "Staged payload missing, dropping trash entry",
			logger.KeyTrashID, trashID,
			logger.KeyPath, stagedAbs)
		return r.idx.remove(ctx, trashID, principalID)
	}

	target := path.Parse(entry.OriginalPath)
	if r.med.ExistsLogical(target) {
		target = collisionSibling(target, time.Now().Unix())
	}

	if parent, ok := target.Parent(); ok {
		if err := r.med.EnsureDir(ctx, parent); err != nil {
			return err
		}
	}

	targetAbs := r.med.Resolve(target)
	if err := os.Rename(stagedAbs, targetAbs); err != nil {
		return storerr.NewIOError(component, "failed to restore payload", stagedAbs, err)
	}
	if err := r.rebase(ctx, mapper, entry.OriginalID, staged, target, entry.Kind); err != nil {
		return err
	}
	if err := r.idx.remove(ctx, trashID, principalID); err != nil {
		return err
	}

	r.cache.InvalidatePrefix(stagedAbs)
	if _, err := r.cache.Refresh(targetAbs); err != nil {
		logger.WarnCtx(ctx, "Failed to refresh metadata after restore",
			logger.KeyPath, targetAbs,
			logger.KeyError, err.Error())
	}
	r.saveMappings()

	logger.InfoCtx(ctx, "Restored item from trash",
		logger.KeyTrashID, trashID,
		logger.KeyID, entry.OriginalID,
		logger.KeyPath, target.String())
	metrics.ObserveOperation(r.opts.Metrics, component, "restore", start, nil)
	return nil
}

// Purge permanently removes a staged payload, its mapping and its index
// entry. Every "not found" on the way is an idempotent success.
func (r *Repository) Purge(ctx context.Context, trashID, principalID string) error {
	start := time.Now()
	entry, found, err := r.idx.find(ctx, trashID, principalID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	mapper, err := r.mapperFor(entry.Kind)
	if err != nil {
		return err
	}

	staged := stagedPath(principalID, trashID)
	stagedAbs := r.med.Resolve(staged)
	if err := os.RemoveAll(stagedAbs); err != nil {
		return storerr.NewIOError(component, "failed to remove staged payload", stagedAbs, err)
	}

	if err := mapper.RemoveID(ctx, entry.OriginalID); err != nil && !storerr.IsNotFound(err) {
		return err
	}
	if entry.Kind == domain.ItemFolder {
		if err := r.unmapStaged(ctx, staged); err != nil {
			return err
		}
	}
	if err := r.idx.remove(ctx, trashID, principalID); err != nil {
		return err
	}

	r.cache.InvalidatePrefix(stagedAbs)
	r.saveMappings()

	logger.InfoCtx(ctx, "Purged trash entry",
		logger.KeyTrashID, trashID,
		logger.KeyID, entry.OriginalID,
		logger.KeyPrincipal, principalID)
	metrics.ObserveOperation(r.opts.Metrics, component, "purge", start, nil)
	return nil
}

// Empty purges every trashed item of the principal. Per-item failures are
// logged and the loop continues; the principal's trash directory is
// removed at the end.
func (r *Repository) Empty(ctx context.Context, principalID string) error {
	items, err := r.List(ctx, principalID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := r.Purge(ctx, item.TrashID, principalID); err != nil {
			logger.ErrorCtx(ctx, "Failed to purge trash entry",
				logger.KeyTrashID, item.TrashID,
				logger.KeyError, err.Error())
		}
	}

	principalDir := filepath.Join(r.med.Root(), trashDirName, principalID)
	if err := os.RemoveAll(principalDir); err != nil {
		return storerr.NewIOError(component, "failed to remove trash area", principalDir, err)
	}

	logger.InfoCtx(ctx, "Emptied trash",
		logger.KeyPrincipal, principalID,
		logger.KeyEntries, len(items))
	return nil
}

// List returns the principal's trashed items.
func (r *Repository) List(ctx context.Context, principalID string) ([]domain.TrashedItem, error) {
	return r.idx.list(ctx, func(item domain.TrashedItem) bool {
		return item.PrincipalID == principalID
	})
}

// Get returns one of the principal's trashed items by trash id.
func (r *Repository) Get(ctx context.Context, trashID, principalID string) (domain.TrashedItem, error) {
	entry, found, err := r.idx.find(ctx, trashID, principalID)
	if err != nil {
		return domain.TrashedItem{}, err
	}
	if !found {
		return domain.TrashedItem{}, storerr.NewNotFoundError(component, "trash entry", trashID)
	}
	return entry, nil
}

// Expired returns every item whose retention lapsed.
func (r *Repository) Expired(ctx context.Context) ([]domain.TrashedItem, error) {
	now := time.Now().UTC()
	return r.idx.list(ctx, func(item domain.TrashedItem) bool {
		return item.Expired(now)
	})
}

// StartSweeper launches the expiry sweeper: one immediate sweep, then one
// per interval (clamped to at least an hour). Stop terminates it.
func (r *Repository) StartSweeper(interval time.Duration) {
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go func() {
		defer close(r.doneCh)
		r.sweep()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the sweeper. Safe to call when it never started.
func (r *Repository) Stop() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
	r.stopCh = nil
}

func (r *Repository) sweep() {
	ctx := context.Background()
	expired, err := r.Expired(ctx)
	if err != nil {
		logger.Error("Trash expiry sweep failed", logger.KeyError, err.Error())
		return
	}
	if len(expired) == 0 {
		return
	}

	purged := 0
	for _, item := range expired {
		if err := r.Purge(ctx, item.TrashID, item.PrincipalID); err != nil {
			logger.Error("Failed to purge expired trash entry",
				logger.KeyTrashID, item.TrashID,
				logger.KeyError, err.Error())
			continue
		}
		purged++
	}
	logger.Info("Trash expiry sweep complete",
		logger.KeyEntries, len(expired),
		logger.KeyEvicted, purged)
}

// rebase repoints id from oldPath to newPath; for folders every staged
// descendant mapping in both maps follows the payload.
func (r *Repository) rebase(ctx context.Context, mapper mediator.Mapper, id string, oldPath, newPath path.Logical, kind domain.ItemKind) error {
	if err := mapper.UpdatePath(ctx, id, newPath); err != nil {
		return err
	}
	if kind != domain.ItemFolder {
		return nil
	}
	for _, m := range []mediator.Mapper{r.folders, r.files} {
		if m == nil {
			continue
		}
		snapshot, err := m.Snapshot(ctx)
		if err != nil {
			return err
		}
		for pathStr, mappedID := range snapshot {
			p := path.Parse(pathStr)
			if !oldPath.IsAncestorOf(p) {
				continue
			}
			rebased, ok := p.Rebase(oldPath, newPath)
			if !ok {
				continue
			}
			if err := m.UpdatePath(ctx, mappedID, rebased); err != nil {
				return err
			}
		}
	}
	return nil
}

// unmapStaged drops every mapping under a staged folder payload.
func (r *Repository) unmapStaged(ctx context.Context, staged path.Logical) error {
	for _, m := range []mediator.Mapper{r.folders, r.files} {
		if m == nil {
			continue
		}
		snapshot, err := m.Snapshot(ctx)
		if err != nil {
			return err
		}
		for pathStr, mappedID := range snapshot {
			if !staged.IsAncestorOf(path.Parse(pathStr)) {
				continue
			}
			if err := m.RemoveID(ctx, mappedID); err != nil && !storerr.IsNotFound(err) {
				return err
			}
		}
	}
	return nil
}

func (r *Repository) saveMappings() {
	r.folders.SaveChanges()
	if r.files != nil {
		r.files.SaveChanges()
	}
}

// collisionSibling derives the fallback restore path: the original name
// with a unix timestamp wedged between stem and extension.
func collisionSibling(target path.Logical, ts int64) path.Logical {
	name, _ := target.FileName()
	parent, _ := target.Parent()
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return parent.Join(fmt.Sprintf("%s_%d%s", stem, ts, ext))
}
