package trash

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirrusfs/cirrus/pkg/storage/domain"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/idmap"
	"github.com/cirrusfs/cirrus/pkg/storage/mediator"
	"github.com/cirrusfs/cirrus/pkg/storage/metacache"
	"github.com/cirrusfs/cirrus/pkg/storage/path"
)

const principal = "user-1"

type fixture struct {
	repo    *Repository
	med     *mediator.Mediator
	folders *idmap.Service
	files   *idmap.Service
	root    string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	root := t.TempDir()
	folders := idmap.NewInMemory(idmap.Options{})
	files := idmap.NewInMemory(idmap.Options{})
	med := mediator.New(root, folders)
	cache := metacache.New(metacache.Options{})
	return &fixture{
		repo:    New(med, folders, files, cache, opts),
		med:     med,
		folders: folders,
		files:   files,
		root:    root,
	}
}

// makeFile writes content at the logical path and maps it.
func (f *fixture) makeFile(t *testing.T, ctx context.Context, p path.Logical, content string) string {
	t.Helper()
	abs := f.med.Resolve(p)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	id, err := f.files.GetOrCreateID(ctx, p)
	require.NoError(t, err)
	return id
}

func (f *fixture) makeFolder(t *testing.T, ctx context.Context, p path.Logical) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(f.med.Resolve(p), 0o755))
	id, err := f.folders.GetOrCreateID(ctx, p)
	require.NoError(t, err)
	return id
}

func TestMoveToTrashAndRestore(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	notePath := path.Parse("/note.txt")
	id := f.makeFile(t, ctx, notePath, "hello")

	entry, err := f.repo.MoveToTrash(ctx, id, domain.ItemFile, principal)
	require.NoError(t, err)
	assert.Equal(t, id, entry.OriginalID)
	assert.Equal(t, "note.txt", entry.Name)
	assert.Equal(t, "/note.txt", entry.OriginalPath)
	assert.True(t, entry.DeletionDue.After(entry.TrashedAt))

	// Payload left the namespace and sits in the staging area
	assert.NoFileExists(t, filepath.Join(f.root, "note.txt"))
	assert.FileExists(t, filepath.Join(f.root, ".trash", principal, entry.TrashID))

	// The id now resolves to the staged path
	staged, err := f.files.PathByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/.trash/"+principal+"/"+entry.TrashID, staged.String())

	listed, err := f.repo.List(ctx, principal)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, f.repo.Restore(ctx, entry.TrashID, principal))

	assert.FileExists(t, filepath.Join(f.root, "note.txt"))
	data, err := os.ReadFile(filepath.Join(f.root, "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	restored, err := f.files.PathByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, notePath.Equal(restored))

	listed, err = f.repo.List(ctx, principal)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestRestoreOccupiedOriginalGetsSuffix(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	notePath := path.Parse("/note.txt")
	id := f.makeFile(t, ctx, notePath, "original")

	entry, err := f.repo.MoveToTrash(ctx, id, domain.ItemFile, principal)
	require.NoError(t, err)

	// A new file claims the original path before the restore
	f.makeFile(t, ctx, notePath, "newcomer")

	require.NoError(t, f.repo.Restore(ctx, entry.TrashID, principal))

	data, err := os.ReadFile(filepath.Join(f.root, "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "newcomer", string(data))

	restored, err := f.files.PathByID(ctx, id)
	require.NoError(t, err)
	name, _ := restored.FileName()
	assert.True(t, strings.HasPrefix(name, "note_"), "got %q", name)
	assert.True(t, strings.HasSuffix(name, ".txt"), "got %q", name)

	data, err = os.ReadFile(f.med.Resolve(restored))
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestRestoreMissingPayloadDropsEntry(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	id := f.makeFile(t, ctx, path.Parse("/gone.txt"), "x")
	entry, err := f.repo.MoveToTrash(ctx, id, domain.ItemFile, principal)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.root, ".trash", principal, entry.TrashID)))

	require.NoError(t, f.repo.Restore(ctx, entry.TrashID, principal))

	listed, err := f.repo.List(ctx, principal)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestRestoreUnknownEntry(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.repo.Restore(context.Background(), "no-such-id", principal)
	assert.True(t, storerr.IsNotFound(err))
}

func TestPurgeIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	id := f.makeFile(t, ctx, path.Parse("/doomed.txt"), "x")
	entry, err := f.repo.MoveToTrash(ctx, id, domain.ItemFile, principal)
	require.NoError(t, err)

	require.NoError(t, f.repo.Purge(ctx, entry.TrashID, principal))
	assert.NoFileExists(t, filepath.Join(f.root, ".trash", principal, entry.TrashID))

	_, err = f.files.PathByID(ctx, id)
	assert.True(t, storerr.IsNotFound(err))

	// Second purge of the same entry is a clean no-op
	require.NoError(t, f.repo.Purge(ctx, entry.TrashID, principal))
}

func TestEmpty(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		id := f.makeFile(t, ctx, path.Root().Join(name), name)
		_, err := f.repo.MoveToTrash(ctx, id, domain.ItemFile, principal)
		require.NoError(t, err)
	}

	require.NoError(t, f.repo.Empty(ctx, principal))

	listed, err := f.repo.List(ctx, principal)
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.NoDirExists(t, filepath.Join(f.root, ".trash", principal))
}

func TestEmptyScopedToPrincipal(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	mineID := f.makeFile(t, ctx, path.Parse("/mine.txt"), "a")
	_, err := f.repo.MoveToTrash(ctx, mineID, domain.ItemFile, principal)
	require.NoError(t, err)

	otherID := f.makeFile(t, ctx, path.Parse("/other.txt"), "b")
	otherEntry, err := f.repo.MoveToTrash(ctx, otherID, domain.ItemFile, "user-2")
	require.NoError(t, err)

	require.NoError(t, f.repo.Empty(ctx, principal))

	remaining, err := f.repo.List(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, otherEntry.TrashID, remaining[0].TrashID)
}

func TestMoveToTrashFolderCarriesDescendantMappings(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	folderPath := path.Parse("/projects")
	folderID := f.makeFolder(t, ctx, folderPath)
	filePath := folderPath.Join("plan.md")
	fileID := f.makeFile(t, ctx, filePath, "roadmap")

	entry, err := f.repo.MoveToTrash(ctx, folderID, domain.ItemFolder, principal)
	require.NoError(t, err)

	// The contained file's mapping followed the payload into staging
	stagedFile, err := f.files.PathByID(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, "/.trash/"+principal+"/"+entry.TrashID+"/plan.md", stagedFile.String())

	require.NoError(t, f.repo.Restore(ctx, entry.TrashID, principal))

	restoredFile, err := f.files.PathByID(ctx, fileID)
	require.NoError(t, err)
	assert.True(t, filePath.Equal(restoredFile))
	assert.FileExists(t, filepath.Join(f.root, "projects", "plan.md"))
}

func TestPurgeFolderUnmapsDescendants(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	folderID := f.makeFolder(t, ctx, path.Parse("/stuff"))
	fileID := f.makeFile(t, ctx, path.Parse("/stuff/junk.bin"), "junk")

	entry, err := f.repo.MoveToTrash(ctx, folderID, domain.ItemFolder, principal)
	require.NoError(t, err)
	require.NoError(t, f.repo.Purge(ctx, entry.TrashID, principal))

	_, err = f.folders.PathByID(ctx, folderID)
	assert.True(t, storerr.IsNotFound(err))
	_, err = f.files.PathByID(ctx, fileID)
	assert.True(t, storerr.IsNotFound(err))
}

func TestSweepPurgesExpired(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	freshID := f.makeFile(t, ctx, path.Parse("/fresh.txt"), "keep")
	_, err := f.repo.MoveToTrash(ctx, freshID, domain.ItemFile, principal)
	require.NoError(t, err)

	staleID := f.makeFile(t, ctx, path.Parse("/stale.txt"), "drop")
	stale, err := f.repo.MoveToTrash(ctx, staleID, domain.ItemFile, principal)
	require.NoError(t, err)

	// Backdate the second entry past its retention
	require.NoError(t, f.repo.idx.remove(ctx, stale.TrashID, principal))
	stale.DeletionDue = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.repo.idx.append(ctx, stale))

	expired, err := f.repo.Expired(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.TrashID, expired[0].TrashID)

	f.repo.sweep()

	listed, err := f.repo.List(ctx, principal)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.NotEqual(t, stale.TrashID, listed[0].TrashID)
}

func TestSweeperStartStop(t *testing.T) {
	f := newFixture(t, Options{})
	f.repo.StartSweeper(time.Hour)
	f.repo.Stop()
	f.repo.Stop()
}

func TestCorruptIndexBacksUpAndStartsEmpty(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	trashDir := filepath.Join(f.root, ".trash")
	require.NoError(t, os.MkdirAll(trashDir, 0o755))
	indexPath := filepath.Join(trashDir, "trash_index.json")
	require.NoError(t, os.WriteFile(indexPath, []byte("{not json"), 0o644))

	listed, err := f.repo.List(ctx, principal)
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.FileExists(t, indexPath+".bak")
}

func TestCollisionSibling(t *testing.T) {
	got := collisionSibling(path.Parse("/docs/note.txt"), 1700000000)
	assert.Equal(t, "/docs/note_1700000000.txt", got.String())

	got = collisionSibling(path.Parse("/archive"), 42)
	assert.Equal(t, "/archive_42", got.String())
}
