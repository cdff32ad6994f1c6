package mediator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/idmap"
	"github.com/cirrusfs/cirrus/pkg/storage/path"
)

func newTestMediator(t *testing.T) (*Mediator, string) {
	t.Helper()
	root := t.TempDir()
	return New(root, idmap.NewInMemory(idmap.Options{})), root
}

func TestResolve(t *testing.T) {
	m, root := newTestMediator(t)

	assert.Equal(t, root, m.Resolve(path.Root()))
	assert.Equal(t, filepath.Join(root, "a", "b.txt"), m.Resolve(path.Parse("/a/b.txt")))
}

func TestPhysicalOfRoundTrip(t *testing.T) {
	m, root := newTestMediator(t)
	ctx := context.Background()

	p := path.Parse("/docs/reports")
	id, err := m.folders.GetOrCreateID(ctx, p)
	require.NoError(t, err)

	abs, err := m.PhysicalOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "docs", "reports"), abs)

	logical, err := m.LogicalOf(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.Equal(logical))
}

func TestPhysicalOfUnknownID(t *testing.T) {
	m, _ := newTestMediator(t)

	_, err := m.PhysicalOf(context.Background(), "nope")
	assert.True(t, storerr.IsNotFound(err))
}

func TestFolderOf(t *testing.T) {
	m, root := newTestMediator(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "parent", "child"), 0755))
	parentID, err := m.folders.GetOrCreateID(ctx, path.Parse("/parent"))
	require.NoError(t, err)
	childID, err := m.folders.GetOrCreateID(ctx, path.Parse("/parent/child"))
	require.NoError(t, err)

	folder, err := m.FolderOf(ctx, childID)
	require.NoError(t, err)
	assert.Equal(t, "child", folder.Name)
	assert.Equal(t, parentID, folder.ParentID)
	assert.Equal(t, "/parent/child", folder.Path.String())
}

func TestFolderOfMissingDirectory(t *testing.T) {
	m, _ := newTestMediator(t)
	ctx := context.Background()

	id, err := m.folders.GetOrCreateID(ctx, path.Parse("/ghost"))
	require.NoError(t, err)

	_, err = m.FolderOf(ctx, id)
	assert.True(t, storerr.IsNotFound(err))
}

func TestExistsPredicates(t *testing.T) {
	m, root := newTestMediator(t)

	filePath := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0644))
	dirPath := filepath.Join(root, "d")
	require.NoError(t, os.Mkdir(dirPath, 0755))

	assert.True(t, m.ExistsFile(filePath))
	assert.False(t, m.ExistsFile(dirPath))
	assert.True(t, m.ExistsDir(dirPath))
	assert.False(t, m.ExistsDir(filePath))
	assert.True(t, m.ExistsLogical(path.Parse("/f.txt")))
	assert.False(t, m.ExistsLogical(path.Parse("/missing")))
}

func TestEnsureDir(t *testing.T) {
	m, root := newTestMediator(t)
	ctx := context.Background()

	p := path.Parse("/deeply/nested/dir")
	require.NoError(t, m.EnsureDir(ctx, p))
	assert.DirExists(t, filepath.Join(root, "deeply", "nested", "dir"))

	// Idempotent
	require.NoError(t, m.EnsureDir(ctx, p))

	// Path occupied by a file
	require.NoError(t, os.WriteFile(filepath.Join(root, "occupied"), []byte("x"), 0644))
	err := m.EnsureDir(ctx, path.Parse("/occupied"))
	assert.True(t, storerr.IsInvalidInput(err))
}
