package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cirrusfs/cirrus/internal/logger"
	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
	"github.com/cirrusfs/cirrus/pkg/storage/idmap"
	"github.com/cirrusfs/cirrus/pkg/storage/path"
)

// ScanReport summarizes one cold scan.
type ScanReport struct {
	AdoptedFolders int
	AdoptedFiles   int
	DroppedFolders int
	DroppedFiles   int
	Elapsed        time.Duration
}

// Scan reconciles the id maps with the filesystem: every on-disk entry
// outside the trash area gets a mapping, and every mapping whose physical
// entry vanished (or changed kind) is dropped. Run it at startup, before
// serving requests, to repair whatever a crash or an out-of-band edit left
// behind.
func (c *Core) Scan(ctx context.Context) (ScanReport, error) {
	start := time.Now()
	var report ScanReport
	root := c.cfg.Storage.Root

	err := filepath.WalkDir(root, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if absPath == root {
			return nil
		}

		// Bookkeeping entries and names the namespace rules reject are
		// not user content; whole subtrees under them are skipped.
		name := d.Name()
		if IsReservedEntry(name) || path.ValidateSegment(name) != nil {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, absPath)
		if err != nil {
			return storerr.NewInternalError(component, "failed to relativize scan path", err)
		}
		logical := path.Parse(filepath.ToSlash(rel))

		mapper := c.fileOpt
		if d.IsDir() {
			mapper = c.folderOpt
		}
		if _, found, err := mapper.IDByPath(ctx, logical); err != nil {
			return err
		} else if found {
			return nil
		}

		if _, err := mapper.GetOrCreateID(ctx, logical); err != nil {
			return err
		}
		if d.IsDir() {
			report.AdoptedFolders++
		} else {
			report.AdoptedFiles++
		}
		logger.DebugCtx(ctx, "Adopted unmapped entry",
			logger.KeyPath, logical.String(),
			logger.KeyKind, kindOf(d.IsDir()))
		return nil
	})
	if err != nil {
		return report, storerr.NewIOError(component, "cold scan failed", root, err)
	}

	dropped, err := c.dropOrphans(ctx, c.folderOpt, true)
	if err != nil {
		return report, err
	}
	report.DroppedFolders = dropped

	dropped, err = c.dropOrphans(ctx, c.fileOpt, false)
	if err != nil {
		return report, err
	}
	report.DroppedFiles = dropped

	if err := c.folderMap.Flush(ctx); err != nil {
		return report, err
	}
	if err := c.fileMap.Flush(ctx); err != nil {
		return report, err
	}

	report.Elapsed = time.Since(start)
	logger.InfoCtx(ctx, "Cold scan complete",
		"adopted_folders", report.AdoptedFolders,
		"adopted_files", report.AdoptedFiles,
		"dropped_folders", report.DroppedFolders,
		"dropped_files", report.DroppedFiles,
		logger.KeyDurationMs, report.Elapsed.Milliseconds())
	return report, nil
}

// dropOrphans removes every mapping whose physical entry is gone or has
// the wrong kind. Staged trash payloads survive: they still exist on disk
// under the trash area.
func (c *Core) dropOrphans(ctx context.Context, mapper *idmap.Optimizer, wantDir bool) (int, error) {
	snapshot, err := mapper.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for pathStr, id := range snapshot {
		if ctx.Err() != nil {
			return dropped, ctx.Err()
		}
		absPath := c.med.Resolve(path.Parse(pathStr))
		info, err := os.Stat(absPath)
		alive := err == nil && info.IsDir() == wantDir
		if alive {
			continue
		}
		if err != nil && !os.IsNotExist(err) {
			return dropped, storerr.NewIOError(component, "failed to stat mapped entry", absPath, err)
		}
		if removeErr := mapper.RemoveID(ctx, id); removeErr != nil && !storerr.IsNotFound(removeErr) {
			return dropped, removeErr
		}
		dropped++
		logger.DebugCtx(ctx, "Dropped orphan mapping",
			logger.KeyID, id,
			logger.KeyPath, pathStr)
	}
	return dropped, nil
}

func kindOf(isDir bool) string {
	if isDir {
		return "folder"
	}
	return "file"
}

// IsReservedEntry reports whether a root-level name belongs to the core's
// own bookkeeping.
func IsReservedEntry(name string) bool {
	return name == ".trash" || name == lockFileName || idmap.IsMapFile(name)
}
