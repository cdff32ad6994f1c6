// Package file is the filesystem-backed file repository. Content moves
// through the parallel I/O engine; ids and cached metadata stay consistent
// with every mutation.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/storage/domain"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/idmap"
	"github.com/cirrusfs/cirrus/pkg/storage/mediator"
	"github.com/cirrusfs/cirrus/pkg/storage/metacache"
	"github.com/cirrusfs/cirrus/pkg/storage/pario"
	"github.com/cirrusfs/cirrus/pkg/storage/path"
	"github.com/cirrusfs/cirrus/pkg/storage/txn"
)

const component = "File"

// Repository implements file operations over the physical filesystem.
type Repository struct {
	med     *mediator.Mediator
	folders mediator.Mapper
	files   mediator.Mapper
	cache   *metacache.Cache
	engine  *pario.Engine

	// streamChunkSize is the fixed chunk length handed to stream readers.
	streamChunkSize int
}

// New creates a file repository.
func New(med *mediator.Mediator, folders, files mediator.Mapper, cache *metacache.Cache, engine *pario.Engine, streamChunkSize int) *Repository {
	if streamChunkSize <= 0 {
		streamChunkSize = 64 * 1024
	}
	return &Repository{
		med:             med,
		folders:         folders,
		files:           files,
		cache:           cache,
		engine:          engine,
		streamChunkSize: streamChunkSize,
	}
}

// Save writes a new file named name under the folder (root when folderID
// is empty). Fails AlreadyExists when the target path is occupied.
func (r *Repository) Save(ctx context.Context, name, folderID, contentType string, content []byte) (domain.File, error) {
	if err := path.ValidateSegment(name); err != nil {
		return domain.File{}, err
	}

	parentPath, err := r.parentPath(ctx, folderID)
	if err != nil {
		return domain.File{}, err
	}
	target := parentPath.Join(name)
	if r.med.ExistsLogical(target) {
		return domain.File{}, storerr.NewAlreadyExistsError(component, target.String())
	}

	return r.write(ctx, target, folderID, contentType, content, "")
}

// SaveWithID writes content for an existing id, overwriting any file at
// the target path and dropping a stale mapping the id may still hold
// elsewhere. Used for updates and move-style reuse.
func (r *Repository) SaveWithID(ctx context.Context, id, name, folderID, contentType string, content []byte) (domain.File, error) {
	if err := path.ValidateSegment(name); err != nil {
		return domain.File{}, err
	}

	parentPath, err := r.parentPath(ctx, folderID)
	if err != nil {
		return domain.File{}, err
	}
	return r.write(ctx, parentPath.Join(name), folderID, contentType, content, id)
}

func (r *Repository) write(ctx context.Context, target path.Logical, folderID, contentType string, content []byte, reuseID string) (domain.File, error) {
	parent, _ := target.Parent()
	if err := r.med.EnsureDir(ctx, parent); err != nil {
		return domain.File{}, err
	}

	absPath := r.med.Resolve(target)
	if err := r.engine.WriteFile(ctx, absPath, content); err != nil {
		return domain.File{}, err
	}

	id := reuseID
	if id == "" {
		var err error
		id, err = r.files.GetOrCreateID(ctx, target)
		if err != nil {
			return domain.File{}, err
		}
	} else if err := r.files.Assign(ctx, id, target); err != nil {
		return domain.File{}, err
	}
	r.files.SaveChanges()

	meta, err := r.cache.Refresh(absPath)
	if err != nil {
		return domain.File{}, storerr.NewIOError(component, "failed to stat written file", absPath, err)
	}

	mime := contentType
	if mime == "" {
		mime = metacache.DetectMime(absPath)
	}

	name, _ := target.FileName()
	logger.InfoCtx(ctx, "Saved file",
		logger.KeyID, id,
		logger.KeyPath, target.String(),
		logger.KeySize, meta.Size)

	return domain.File{
		ID:         id,
		Name:       name,
		FolderID:   folderID,
		Path:       target,
		Size:       meta.Size,
		MimeType:   mime,
		CreatedAt:  meta.CreatedAt,
		ModifiedAt: meta.ModifiedAt,
	}, nil
}

// Get returns the file entity for id.
func (r *Repository) Get(ctx context.Context, id string) (domain.File, error) {
	p, err := r.files.PathByID(ctx, id)
	if err != nil {
		return domain.File{}, err
	}
	return r.entityAt(ctx, id, p)
}

func (r *Repository) entityAt(ctx context.Context, id string, p path.Logical) (domain.File, error) {
	absPath := r.med.Resolve(p)

	meta, ok := r.cache.Get(absPath)
	if !ok {
		var err error
		meta, err = r.cache.Refresh(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				return domain.File{}, storerr.NewNotFoundError(component, "file", p.String())
			}
			return domain.File{}, storerr.NewIOError(component, "failed to stat file", absPath, err)
		}
	}
	if meta.Kind != metacache.KindFile {
		return domain.File{}, storerr.NewNotFoundError(component, "file", p.String())
	}

	name, _ := p.FileName()
	folderID := ""
	if parent, ok := p.Parent(); ok && !parent.IsRoot() {
		if pid, found, err := r.folders.IDByPath(ctx, parent); err == nil && found {
			folderID = pid
		}
	}

	return domain.File{
		ID:         id,
		Name:       name,
		FolderID:   folderID,
		Path:       p,
		Size:       meta.Size,
		MimeType:   meta.MimeType,
		CreatedAt:  meta.CreatedAt,
		ModifiedAt: meta.ModifiedAt,
	}, nil
}

// List returns the files directly under the folder (root when folderID is
// empty). Two passes: mapped paths whose on-disk file still exists, then a
// directory scan adopting unmapped files; duplicates collapse by
// case-insensitive name.
func (r *Repository) List(ctx context.Context, folderID string) ([]domain.File, error) {
	parentPath, err := r.parentPath(ctx, folderID)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]domain.File)

	// Pass one: mapped children that still exist on disk
	mapped, err := r.files.ChildrenOf(ctx, parentPath)
	if err != nil {
		return nil, err
	}
	for pathStr, id := range mapped {
		p := path.Parse(pathStr)
		if !r.med.ExistsFile(r.med.Resolve(p)) {
			continue
		}
		entity, err := r.entityAt(ctx, id, p)
		if err != nil {
			continue
		}
		byName[strings.ToLower(entity.Name)] = entity
	}

	// Pass two: on-disk files, adopting any that were never mapped
	absParent := r.med.Resolve(parentPath)
	entries, err := os.ReadDir(absParent)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storerr.NewNotFoundError(component, "folder", parentPath.String())
		}
		return nil, storerr.NewIOError(component, "failed to read directory", absParent, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || isReservedName(entry.Name()) {
			continue
		}
		key := strings.ToLower(entry.Name())
		if _, ok := byName[key]; ok {
			continue
		}
		p := parentPath.Join(entry.Name())
		id, err := r.files.GetOrCreateID(ctx, p)
		if err != nil {
			return nil, err
		}
		entity, err := r.entityAt(ctx, id, p)
		if err != nil {
			continue
		}
		byName[key] = entity
	}

	files := make([]domain.File, 0, len(byName))
	for _, f := range byName {
		files = append(files, f)
	}
	return files, nil
}

// Content reads the whole file into memory through the parallel engine.
func (r *Repository) Content(ctx context.Context, id string) ([]byte, error) {
	p, err := r.files.PathByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.engine.ReadFile(ctx, r.med.Resolve(p))
}

// Stream opens a chunked reader over the file's content. The caller owns
// the reader and must close it.
func (r *Repository) Stream(ctx context.Context, id string) (*pario.ChunkReader, error) {
	p, err := r.files.PathByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return pario.OpenStream(r.med.Resolve(p), r.streamChunkSize)
}

// Exists reports whether p exists as a regular file.
func (r *Repository) Exists(p path.Logical) bool {
	return r.med.ExistsFile(r.med.Resolve(p))
}

// Move relocates the file under a new folder (root when newFolderID is
// empty) via a directory-level rename; the mapping update is transactional
// with a rename-back on failure.
func (r *Repository) Move(ctx context.Context, id, newFolderID string) (domain.File, error) {
	oldPath, err := r.files.PathByID(ctx, id)
	if err != nil {
		return domain.File{}, err
	}
	name, ok := oldPath.FileName()
	if !ok {
		return domain.File{}, storerr.NewInvalidInputError(component, "file path has no name")
	}

	newParent, err := r.parentPath(ctx, newFolderID)
	if err != nil {
		return domain.File{}, err
	}
	newPath := newParent.Join(name)
	if newPath.Equal(oldPath) {
		return r.entityAt(ctx, id, oldPath)
	}
	if r.med.ExistsLogical(newPath) {
		return domain.File{}, storerr.NewAlreadyExistsError(component, newPath.String())
	}

	oldAbs := r.med.Resolve(oldPath)
	newAbs := r.med.Resolve(newPath)

	tx := txn.New("move file")
	tx.Add("filesystem rename",
		func(ctx context.Context) error {
			if err := os.Rename(oldAbs, newAbs); err != nil {
				return storerr.NewIOError(component, "failed to move file", oldAbs, err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return os.Rename(newAbs, oldAbs)
		})
	tx.Add("mapping update",
		func(ctx context.Context) error {
			return r.files.UpdatePath(ctx, id, newPath)
		},
		nil)
	if err := tx.Commit(ctx); err != nil {
		return domain.File{}, err
	}

	r.cache.Invalidate(oldAbs)
	r.files.SaveChanges()

	logger.InfoCtx(ctx, "Moved file",
		logger.KeyID, id,
		logger.KeyOldPath, oldPath.String(),
		logger.KeyNewPath, newPath.String())
	return r.entityAt(ctx, id, newPath)
}

// Delete removes the file and its mapping. A missing physical file with a
// live mapping still succeeds: the mapping is dropped.
func (r *Repository) Delete(ctx context.Context, id string) error {
	p, err := r.files.PathByID(ctx, id)
	if err != nil {
		return err
	}
	absPath := r.med.Resolve(p)

	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return storerr.NewIOError(component, "failed to remove file", absPath, err)
	}

	if err := r.files.RemoveID(ctx, id); err != nil && !storerr.IsNotFound(err) {
		return err
	}
	r.cache.Invalidate(absPath)
	r.files.SaveChanges()

	logger.InfoCtx(ctx, "Deleted file", logger.KeyID, id, logger.KeyPath, p.String())
	return nil
}

func (r *Repository) parentPath(ctx context.Context, folderID string) (path.Logical, error) {
	if folderID == "" {
		return path.Root(), nil
	}
	return r.folders.PathByID(ctx, folderID)
}

// isReservedName filters storage-core artifacts and namespace-invalid
// entries out of listings, so the adoption pass never maps them.
func isReservedName(name string) bool {
	return idmap.IsMapFile(name) || path.ValidateSegment(name) != nil
}
