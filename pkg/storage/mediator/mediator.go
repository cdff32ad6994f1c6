// Package mediator resolves opaque ids to physical locations under the
// storage root. It is the read-only seam between the id mapper and the
// repositories: repositories depend on it, never the reverse.
package mediator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cirrusfs/cirrus/pkg/storage/domain"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/path"
)

const component = "Mediator"

// Mapper is the id<->path surface the mediator needs. Both the plain
// mapper and its optimizer overlay satisfy it.
type Mapper interface {
	GetOrCreateID(ctx context.Context, p path.Logical) (string, error)
	PathByID(ctx context.Context, id string) (path.Logical, error)
	IDByPath(ctx context.Context, p path.Logical) (string, bool, error)
	Assign(ctx context.Context, id string, p path.Logical) error
	ChildrenOf(ctx context.Context, parent path.Logical) (map[string]string, error)
	Snapshot(ctx context.Context) (map[string]string, error)
	UpdatePath(ctx context.Context, id string, newPath path.Logical) error
	RemoveID(ctx context.Context, id string) error
	SaveChanges()
}

// Mediator derives absolute paths by joining the storage root with logical
// segments. It never trusts caller-provided absolute paths.
type Mediator struct {
	root    string
	folders Mapper
}

// New creates a mediator over the folder mapper rooted at root.
func New(root string, folders Mapper) *Mediator {
	return &Mediator{root: root, folders: folders}
}

// Root returns the storage root.
func (m *Mediator) Root() string {
	return m.root
}

// Resolve maps a logical path to its absolute physical path. Pure.
func (m *Mediator) Resolve(p path.Logical) string {
	segments := p.Segments()
	if len(segments) == 0 {
		return m.root
	}
	return filepath.Join(append([]string{m.root}, segments...)...)
}

// LogicalOf resolves a folder id to its logical path.
func (m *Mediator) LogicalOf(ctx context.Context, id string) (path.Logical, error) {
	return m.folders.PathByID(ctx, id)
}

// PhysicalOf resolves a folder id to its absolute physical path.
func (m *Mediator) PhysicalOf(ctx context.Context, id string) (string, error) {
	p, err := m.folders.PathByID(ctx, id)
	if err != nil {
		return "", err
	}
	return m.Resolve(p), nil
}

// FolderOf builds a folder entity from the mapping and a stat of its
// directory. NotFound when the id is unmapped or the directory is gone.
func (m *Mediator) FolderOf(ctx context.Context, id string) (domain.Folder, error) {
	p, err := m.folders.PathByID(ctx, id)
	if err != nil {
		return domain.Folder{}, err
	}

	absPath := m.Resolve(p)
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Folder{}, storerr.NewNotFoundError(component, "folder", p.String())
		}
		return domain.Folder{}, storerr.NewIOError(component, "failed to stat folder", absPath, err)
	}
	if !info.IsDir() {
		return domain.Folder{}, storerr.NewNotFoundError(component, "folder", p.String())
	}

	folder := domain.Folder{
		ID:         id,
		Path:       p,
		CreatedAt:  info.ModTime(),
		ModifiedAt: info.ModTime(),
	}
	if name, ok := p.FileName(); ok {
		folder.Name = name
	}
	if parent, ok := p.Parent(); ok && !parent.IsRoot() {
		parentID, found, err := m.folders.IDByPath(ctx, parent)
		if err != nil {
			return domain.Folder{}, err
		}
		if found {
			folder.ParentID = parentID
		}
	}
	return folder, nil
}

// ExistsFile reports whether absPath exists as a regular file.
func (m *Mediator) ExistsFile(absPath string) bool {
	info, err := os.Stat(absPath)
	return err == nil && info.Mode().IsRegular()
}

// ExistsDir reports whether absPath exists as a directory.
func (m *Mediator) ExistsDir(absPath string) bool {
	info, err := os.Stat(absPath)
	return err == nil && info.IsDir()
}

// ExistsLogical reports whether the logical path exists on disk as any
// kind of entry.
func (m *Mediator) ExistsLogical(p path.Logical) bool {
	_, err := os.Stat(m.Resolve(p))
	return err == nil
}

// EnsureDir idempotently creates the directory for p including parents.
// Fails with InvalidInput when the path exists as a non-directory.
func (m *Mediator) EnsureDir(ctx context.Context, p path.Logical) error {
	absPath := m.Resolve(p)
	if info, err := os.Stat(absPath); err == nil {
		if info.IsDir() {
			return nil
		}
		return storerr.NewInvalidInputError(component,
			"path exists and is not a directory: "+p.String())
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return storerr.NewIOError(component, "failed to create directory", absPath, err)
	}
	return nil
}
