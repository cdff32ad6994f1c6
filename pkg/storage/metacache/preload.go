package metacache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cirrusfs/cirrus/internal/logger"
)

// PreloadDirectory walks dirPath and caches metadata for every entry, up to
// maxDepth levels deep when recursive. Returns how many entries were
// cached. The walk honors ctx cancellation between entries.
func (c *Cache) PreloadDirectory(ctx context.Context, dirPath string, recursive bool, maxDepth int) (int, error) {
	return c.preload(ctx, dirPath, recursive, maxDepth, 0)
}

func (c *Cache) preload(ctx context.Context, dirPath string, recursive bool, maxDepth, depth int) (int, error) {
	if depth > maxDepth {
		return 0, nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		absPath := filepath.Join(dirPath, entry.Name())
		if _, err := c.Refresh(absPath); err != nil {
			logger.Warn("Failed to preload metadata",
				logger.KeyPath, absPath, logger.KeyError, err.Error())
			continue
		}
		count++

		if recursive && entry.IsDir() {
			sub, err := c.preload(ctx, absPath, recursive, maxDepth, depth+1)
			count += sub
			if err != nil {
				return count, err
			}
		}
	}
	return count, nil
}
