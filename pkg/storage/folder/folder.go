// Package folder is the filesystem-backed folder repository. Directory
// mutations keep the id map and metadata cache consistent, with rename and
// move protected by compensating transactions.
package folder

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/storage/domain"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/mediator"
	"github.com/cirrusfs/cirrus/pkg/storage/metacache"
	"github.com/cirrusfs/cirrus/pkg/storage/path"
	"github.com/cirrusfs/cirrus/pkg/storage/txn"
)

const component = "Folder"

// largeTreeThreshold is the entry count above which deletion is offloaded
// to a background worker with a bounded wait.
const largeTreeThreshold = 1000

// Options tunes a Repository.
type Options struct {
	// DeleteTimeout bounds how long Delete waits for a large tree removal
	// before letting it finish in the background.
	DeleteTimeout time.Duration

	// ScanTimeout bounds directory listing scans.
	ScanTimeout time.Duration
}

// Repository implements folder operations over the physical filesystem.
type Repository struct {
	med     *mediator.Mediator
	folders mediator.Mapper
	files   mediator.Mapper // file mappings rebased on rename/move, may be nil
	cache   *metacache.Cache
	opts    Options
}

// New creates a folder repository. files may be nil when file mappings are
// managed elsewhere.
func New(med *mediator.Mediator, folders, files mediator.Mapper, cache *metacache.Cache, opts Options) *Repository {
	if opts.DeleteTimeout == 0 {
		opts.DeleteTimeout = 60 * time.Second
	}
	if opts.ScanTimeout == 0 {
		opts.ScanTimeout = 30 * time.Second
	}
	return &Repository{med: med, folders: folders, files: files, cache: cache, opts: opts}
}

// Create makes a directory named name under the parent folder (root when
// parentID is empty), allocates its id, and returns the folder entity.
func (r *Repository) Create(ctx context.Context, name, parentID string) (domain.Folder, error) {
	if err := path.ValidateSegment(name); err != nil {
		return domain.Folder{}, err
	}

	parentPath := path.Root()
	if parentID != "" {
		var err error
		parentPath, err = r.folders.PathByID(ctx, parentID)
		if err != nil {
			return domain.Folder{}, err
		}
	}

	target := parentPath.Join(name)
	if r.med.ExistsLogical(target) {
		return domain.Folder{}, storerr.NewAlreadyExistsError(component, target.String())
	}

	absPath := r.med.Resolve(target)
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return domain.Folder{}, storerr.NewIOError(component, "failed to create directory", absPath, err)
	}

	id, err := r.folders.GetOrCreateID(ctx, target)
	if err != nil {
		return domain.Folder{}, err
	}
	r.folders.SaveChanges()

	if _, err := r.cache.Refresh(absPath); err != nil {
		logger.WarnCtx(ctx, "Failed to cache new folder metadata",
			logger.KeyPath, absPath, logger.KeyError, err.Error())
	}

	logger.InfoCtx(ctx, "Created folder",
		logger.KeyID, id, logger.KeyPath, target.String())

	now := time.Now()
	return domain.Folder{
		ID:         id,
		Name:       name,
		ParentID:   parentID,
		Path:       target,
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// Get returns the folder for id.
func (r *Repository) Get(ctx context.Context, id string) (domain.Folder, error) {
	return r.med.FolderOf(ctx, id)
}

// GetByPath returns the folder at p, allocating an id if the directory
// exists but was never mapped.
func (r *Repository) GetByPath(ctx context.Context, p path.Logical) (domain.Folder, error) {
	absPath := r.med.Resolve(p)
	if !r.med.ExistsDir(absPath) {
		return domain.Folder{}, storerr.NewNotFoundError(component, "folder", p.String())
	}
	id, err := r.folders.GetOrCreateID(ctx, p)
	if err != nil {
		return domain.Folder{}, err
	}
	return r.med.FolderOf(ctx, id)
}

// GetPath resolves a folder id to its logical path.
func (r *Repository) GetPath(ctx context.Context, id string) (path.Logical, error) {
	return r.folders.PathByID(ctx, id)
}

// FolderExists reports whether p exists as a directory.
func (r *Repository) FolderExists(p path.Logical) bool {
	return r.med.ExistsDir(r.med.Resolve(p))
}

// List returns the folders directly under the parent (root when parentID
// is empty).
func (r *Repository) List(ctx context.Context, parentID string) ([]domain.Folder, error) {
	folders, _, err := r.ListPaginated(ctx, parentID, 0, 0, false)
	return folders, err
}

// ListPaginated lists child folders with offset/limit applied; limit 0
// means unbounded. The total child count is computed only when wantTotal.
// The whole scan runs under the repository's scan timeout.
func (r *Repository) ListPaginated(ctx context.Context, parentID string, offset, limit int, wantTotal bool) ([]domain.Folder, int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.ScanTimeout)
	defer cancel()

	parentPath := path.Root()
	if parentID != "" {
		var err error
		parentPath, err = r.folders.PathByID(ctx, parentID)
		if err != nil {
			return nil, 0, err
		}
	}

	absPath := r.med.Resolve(parentPath)
	entries, err := os.ReadDir(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, storerr.NewNotFoundError(component, "folder", parentPath.String())
		}
		return nil, 0, storerr.NewIOError(component, "failed to read directory", absPath, err)
	}

	var folders []domain.Folder
	total := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, 0, storerr.NewTimeoutError(component, "directory scan")
		}
		if !entry.IsDir() || isReservedName(entry.Name()) {
			continue
		}
		total++

		if total-1 < offset {
			continue
		}
		if limit > 0 && len(folders) >= limit {
			if !wantTotal {
				break
			}
			continue
		}

		folder, err := r.GetByPath(ctx, parentPath.Join(entry.Name()))
		if err != nil {
			logger.WarnCtx(ctx, "Skipping unreadable folder entry",
				logger.KeyName, entry.Name(), logger.KeyError, err.Error())
			continue
		}
		folders = append(folders, folder)
	}

	if !wantTotal {
		total = 0
	}
	return folders, total, nil
}

// Rename changes a folder's name in place. A same-name rename is a no-op.
// The filesystem rename and mapping update run in a transaction: a mapping
// failure renames the directory back.
func (r *Repository) Rename(ctx context.Context, id, newName string) (domain.Folder, error) {
	if err := path.ValidateSegment(newName); err != nil {
		return domain.Folder{}, err
	}

	oldPath, err := r.folders.PathByID(ctx, id)
	if err != nil {
		return domain.Folder{}, err
	}
	currentName, ok := oldPath.FileName()
	if !ok {
		return domain.Folder{}, storerr.NewInvalidInputError(component, "cannot rename the root folder")
	}
	if currentName == newName {
		return r.med.FolderOf(ctx, id)
	}

	parent, _ := oldPath.Parent()
	newPath := parent.Join(newName)
	if r.med.ExistsLogical(newPath) {
		return domain.Folder{}, storerr.NewAlreadyExistsError(component, newPath.String())
	}

	if err := r.relocate(ctx, id, oldPath, newPath, "rename folder"); err != nil {
		return domain.Folder{}, err
	}

	logger.InfoCtx(ctx, "Renamed folder",
		logger.KeyID, id,
		logger.KeyOldPath, oldPath.String(),
		logger.KeyNewPath, newPath.String())
	return r.med.FolderOf(ctx, id)
}

// Move reparents a folder (to root when newParentID is empty). Moving a
// folder into itself or a descendant fails with InvalidInput.
func (r *Repository) Move(ctx context.Context, id, newParentID string) (domain.Folder, error) {
	oldPath, err := r.folders.PathByID(ctx, id)
	if err != nil {
		return domain.Folder{}, err
	}
	name, ok := oldPath.FileName()
	if !ok {
		return domain.Folder{}, storerr.NewInvalidInputError(component, "cannot move the root folder")
	}

	newParentPath := path.Root()
	if newParentID != "" {
		if newParentID == id {
			return domain.Folder{}, storerr.NewInvalidInputError(component, "cannot move a folder into itself")
		}
		newParentPath, err = r.folders.PathByID(ctx, newParentID)
		if err != nil {
			return domain.Folder{}, err
		}
		if oldPath.Equal(newParentPath) || oldPath.IsAncestorOf(newParentPath) {
			return domain.Folder{}, storerr.NewInvalidInputError(component, "cannot move a folder into its own subtree")
		}
	}

	newPath := newParentPath.Join(name)
	if newPath.Equal(oldPath) {
		return r.med.FolderOf(ctx, id)
	}
	if r.med.ExistsLogical(newPath) {
		return domain.Folder{}, storerr.NewAlreadyExistsError(component, newPath.String())
	}

	if err := r.relocate(ctx, id, oldPath, newPath, "move folder"); err != nil {
		return domain.Folder{}, err
	}

	logger.InfoCtx(ctx, "Moved folder",
		logger.KeyID, id,
		logger.KeyOldPath, oldPath.String(),
		logger.KeyNewPath, newPath.String())
	return r.med.FolderOf(ctx, id)
}

// relocate performs the shared rename/move machinery: transactional
// filesystem rename plus mapping rebase, then cache invalidation.
func (r *Repository) relocate(ctx context.Context, id string, oldPath, newPath path.Logical, operation string) error {
	oldAbs := r.med.Resolve(oldPath)
	newAbs := r.med.Resolve(newPath)

	tx := txn.New(operation)
	tx.Add("filesystem rename",
		func(ctx context.Context) error {
			if err := os.Rename(oldAbs, newAbs); err != nil {
				return storerr.NewIOError(component, "failed to rename directory", oldAbs, err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return os.Rename(newAbs, oldAbs)
		})
	tx.Add("mapping update",
		func(ctx context.Context) error {
			return r.rebaseMappings(ctx, id, oldPath, newPath)
		},
		nil)
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.cache.InvalidatePrefix(oldAbs)
	r.cache.InvalidatePrefix(newAbs)
	r.folders.SaveChanges()
	if r.files != nil {
		r.files.SaveChanges()
	}
	return nil
}

// rebaseMappings points id at newPath and rewrites every descendant
// mapping, in both the folder and file maps.
func (r *Repository) rebaseMappings(ctx context.Context, id string, oldPath, newPath path.Logical) error {
	if err := r.folders.UpdatePath(ctx, id, newPath); err != nil {
		return err
	}
	if err := rebasePrefix(ctx, r.folders, oldPath, newPath); err != nil {
		return err
	}
	if r.files != nil {
		if err := rebasePrefix(ctx, r.files, oldPath, newPath); err != nil {
			return err
		}
	}
	return nil
}

func rebasePrefix(ctx context.Context, mapper mediator.Mapper, oldPrefix, newPrefix path.Logical) error {
	snapshot, err := mapper.Snapshot(ctx)
	if err != nil {
		return err
	}
	for pathStr, mappedID := range snapshot {
		p := path.Parse(pathStr)
		if !oldPrefix.IsAncestorOf(p) {
			continue
		}
		rebased, ok := p.Rebase(oldPrefix, newPrefix)
		if !ok {
			continue
		}
		if err := mapper.UpdatePath(ctx, mappedID, rebased); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the folder's directory tree and every mapping under it.
// Trees above the large-tree threshold are removed by a background worker
// with a bounded wait; on timeout the removal continues off-path and the
// mappings are still dropped, restored to consistency by the next cold
// scan.
func (r *Repository) Delete(ctx context.Context, id string) error {
	p, err := r.folders.PathByID(ctx, id)
	if err != nil {
		return err
	}
	absPath := r.med.Resolve(p)

	if err := r.removeTree(ctx, absPath); err != nil {
		return err
	}

	if err := r.folders.RemoveID(ctx, id); err != nil && !storerr.IsNotFound(err) {
		return err
	}
	if err := unmapPrefix(ctx, r.folders, p); err != nil {
		return err
	}
	if r.files != nil {
		if err := unmapPrefix(ctx, r.files, p); err != nil {
			return err
		}
	}

	r.cache.InvalidatePrefix(absPath)
	r.folders.SaveChanges()
	if r.files != nil {
		r.files.SaveChanges()
	}

	logger.InfoCtx(ctx, "Deleted folder", logger.KeyID, id, logger.KeyPath, p.String())
	return nil
}

func (r *Repository) removeTree(ctx context.Context, absPath string) error {
	entries, err := countEntries(absPath, largeTreeThreshold+1)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storerr.NewIOError(component, "failed to scan directory", absPath, err)
	}

	if entries <= largeTreeThreshold {
		if err := os.RemoveAll(absPath); err != nil {
			return storerr.NewIOError(component, "failed to remove directory", absPath, err)
		}
		return nil
	}

	logger.InfoCtx(ctx, "Removing large directory tree in background worker",
		logger.KeyPath, absPath, logger.KeyEntries, entries)

	done := make(chan error, 1)
	go func() {
		done <- os.RemoveAll(absPath)
	}()

	select {
	case err := <-done:
		if err != nil {
			return storerr.NewIOError(component, "failed to remove directory tree", absPath, err)
		}
		return nil
	case <-time.After(r.opts.DeleteTimeout):
		// The worker keeps removing; the id is unmapped regardless.
		logger.WarnCtx(ctx, "Directory removal exceeded timeout, continuing in background",
			logger.KeyPath, absPath)
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Directory removal cancelled by caller, continuing in background",
			logger.KeyPath, absPath)
		return nil
	}
}

// countEntries counts tree entries, short-circuiting once limit is reached.
func countEntries(absPath string, limit int) (int, error) {
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return 0, err
	}
	count := len(entries)
	for _, entry := range entries {
		if count >= limit {
			return count, nil
		}
		if entry.IsDir() {
			sub, err := countEntries(filepath.Join(absPath, entry.Name()), limit-count)
			if err != nil {
				continue
			}
			count += sub
		}
	}
	return count, nil
}

func unmapPrefix(ctx context.Context, mapper mediator.Mapper, prefix path.Logical) error {
	snapshot, err := mapper.Snapshot(ctx)
	if err != nil {
		return err
	}
	for pathStr, mappedID := range snapshot {
		if !prefix.IsAncestorOf(path.Parse(pathStr)) {
			continue
		}
		if err := mapper.RemoveID(ctx, mappedID); err != nil && !storerr.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// isReservedName filters storage-core artifacts and namespace-invalid
// entries out of listings, so the adoption pass never maps them.
func isReservedName(name string) bool {
	return path.ValidateSegment(name) != nil
}
