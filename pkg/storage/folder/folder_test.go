package folder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/idmap"
	"github.com/cirrusfs/cirrus/pkg/storage/mediator"
	"github.com/cirrusfs/cirrus/pkg/storage/metacache"
	"github.com/cirrusfs/cirrus/pkg/storage/path"
)

type fixture struct {
	repo    *Repository
	med     *mediator.Mediator
	folders *idmap.Service
	files   *idmap.Service
	root    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	folders := idmap.NewInMemory(idmap.Options{})
	files := idmap.NewInMemory(idmap.Options{})
	med := mediator.New(root, folders)
	cache := metacache.New(metacache.Options{})
	return &fixture{
		repo:    New(med, folders, files, cache, Options{}),
		med:     med,
		folders: folders,
		files:   files,
		root:    root,
	}
}

func TestListScanTimeoutBoundsScan(t *testing.T) {
	root := t.TempDir()
	folders := idmap.NewInMemory(idmap.Options{})
	files := idmap.NewInMemory(idmap.Options{})
	med := mediator.New(root, folders)
	// An already-expired deadline makes the scan abort on its first entry.
	repo := New(med, folders, files, metacache.New(metacache.Options{}),
		Options{ScanTimeout: -time.Millisecond})

	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))

	_, err := repo.List(context.Background(), "")
	require.Error(t, err)
	assert.True(t, storerr.IsTimeout(err))
}

func TestCreateListDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, "Docs", "")
	require.NoError(t, err)
	assert.Equal(t, "Docs", created.Name)
	assert.Empty(t, created.ParentID)
	assert.DirExists(t, filepath.Join(f.root, "Docs"))

	listed, err := f.repo.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	require.NoError(t, f.repo.Delete(ctx, created.ID))

	listed, err = f.repo.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = f.repo.Get(ctx, created.ID)
	assert.True(t, storerr.IsNotFound(err))
}

func TestCreateRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Create(ctx, "Dup", "")
	require.NoError(t, err)

	_, err = f.repo.Create(ctx, "Dup", "")
	assert.True(t, storerr.IsAlreadyExists(err))
}

func TestCreateRejectsInvalidName(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"", "..", "bad:name", "a/b", ".hidden"} {
		_, err := f.repo.Create(context.Background(), name, "")
		assert.True(t, storerr.IsInvalidInput(err), "name %q should be rejected", name)
	}
}

func TestCreateNested(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.repo.Create(ctx, "parent", "")
	require.NoError(t, err)

	child, err := f.repo.Create(ctx, "child", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, "/parent/child", child.Path.String())
	assert.Equal(t, parent.ID, child.ParentID)
}

func TestRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	folder, err := f.repo.Create(ctx, "old", "")
	require.NoError(t, err)

	renamed, err := f.repo.Rename(ctx, folder.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", renamed.Name)
	assert.DirExists(t, filepath.Join(f.root, "new"))
	assert.NoDirExists(t, filepath.Join(f.root, "old"))

	// Previous logical path is gone from the map
	_, ok, err := f.folders.IDByPath(ctx, path.Parse("/old"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenameConflictLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.repo.Create(ctx, "A", "")
	require.NoError(t, err)
	_, err = f.repo.Create(ctx, "B", "")
	require.NoError(t, err)

	_, err = f.repo.Rename(ctx, a.ID, "B")
	assert.True(t, storerr.IsAlreadyExists(err))

	got, err := f.repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
	assert.DirExists(t, filepath.Join(f.root, "A"))
	assert.DirExists(t, filepath.Join(f.root, "B"))
}

func TestRenameSameNameIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	folder, err := f.repo.Create(ctx, "same", "")
	require.NoError(t, err)

	got, err := f.repo.Rename(ctx, folder.ID, "same")
	require.NoError(t, err)
	assert.Equal(t, folder.ID, got.ID)
}

func TestRenameRebasesDescendantMappings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.repo.Create(ctx, "parent", "")
	require.NoError(t, err)
	child, err := f.repo.Create(ctx, "child", parent.ID)
	require.NoError(t, err)

	fileID, err := f.files.GetOrCreateID(ctx, path.Parse("/parent/child/doc.txt"))
	require.NoError(t, err)

	_, err = f.repo.Rename(ctx, parent.ID, "renamed")
	require.NoError(t, err)

	childPath, err := f.folders.PathByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "/renamed/child", childPath.String())

	filePath, err := f.files.PathByID(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, "/renamed/child/doc.txt", filePath.String())
}

func TestMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	src, err := f.repo.Create(ctx, "src", "")
	require.NoError(t, err)
	dst, err := f.repo.Create(ctx, "dst", "")
	require.NoError(t, err)

	moved, err := f.repo.Move(ctx, src.ID, dst.ID)
	require.NoError(t, err)
	assert.Equal(t, "/dst/src", moved.Path.String())
	assert.DirExists(t, filepath.Join(f.root, "dst", "src"))
	assert.NoDirExists(t, filepath.Join(f.root, "src"))
}

func TestMoveCycleRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.repo.Create(ctx, "A", "")
	require.NoError(t, err)
	b, err := f.repo.Create(ctx, "B", a.ID)
	require.NoError(t, err)

	_, err = f.repo.Move(ctx, a.ID, b.ID)
	assert.True(t, storerr.IsInvalidInput(err))

	// Hierarchy unchanged
	got, err := f.repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "/A", got.Path.String())
	assert.DirExists(t, filepath.Join(f.root, "A", "B"))

	_, err = f.repo.Move(ctx, a.ID, a.ID)
	assert.True(t, storerr.IsInvalidInput(err))
}

func TestMoveToRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.repo.Create(ctx, "parent", "")
	require.NoError(t, err)
	child, err := f.repo.Create(ctx, "child", parent.ID)
	require.NoError(t, err)

	moved, err := f.repo.Move(ctx, child.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "/child", moved.Path.String())
	assert.Empty(t, moved.ParentID)
}

func TestDeleteUnmapsSubtree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.repo.Create(ctx, "parent", "")
	require.NoError(t, err)
	child, err := f.repo.Create(ctx, "child", parent.ID)
	require.NoError(t, err)
	fileID, err := f.files.GetOrCreateID(ctx, path.Parse("/parent/child/doc.txt"))
	require.NoError(t, err)

	require.NoError(t, f.repo.Delete(ctx, parent.ID))

	_, err = f.folders.PathByID(ctx, child.ID)
	assert.True(t, storerr.IsNotFound(err))
	_, err = f.files.PathByID(ctx, fileID)
	assert.True(t, storerr.IsNotFound(err))
}

func TestListPaginated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		_, err := f.repo.Create(ctx, name, "")
		require.NoError(t, err)
	}

	page, total, err := f.repo.ListPaginated(ctx, "", 1, 2, true)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, 5, total)
	assert.Equal(t, "b", page[0].Name)
	assert.Equal(t, "c", page[1].Name)

	// Without total the count is not computed
	page, total, err = f.repo.ListPaginated(ctx, "", 4, 10, false)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Zero(t, total)
}

func TestListSkipsTrashDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(f.root, ".trash"), 0755))
	_, err := f.repo.Create(ctx, "visible", "")
	require.NoError(t, err)

	listed, err := f.repo.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "visible", listed[0].Name)
}

func TestGetByPathAdoptsUnmappedDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "stray"), 0755))

	folder, err := f.repo.GetByPath(ctx, path.Parse("/stray"))
	require.NoError(t, err)
	assert.NotEmpty(t, folder.ID)
	assert.Equal(t, "stray", folder.Name)
}
