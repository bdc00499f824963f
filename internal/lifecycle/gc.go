package lifecycle

// Cleanup of catalog state that no longer matches the filesystem.

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gftdcojp/tickstore/internal/catalog"
	"github.com/gftdcojp/tickstore/internal/quota"
	"go.uber.org/zap"
)

// CollectOrphans removes catalog entries whose files no longer exist. This
// can happen when a file is deleted outside the engine or a crash lands
// between a migration's commit and its catalog update. q may be nil.
func CollectOrphans(ctx context.Context, cat *catalog.Catalog, q *quota.Tracker, logger *zap.Logger) (int, error) {
	collected := 0
	for _, e := range cat.Entries() {
		if err := ctx.Err(); err != nil {
			return collected, err
		}
		full := filepath.Join(cat.Root(), filepath.FromSlash(e.RelativePath))
		_, err := os.Stat(full)
		if err == nil {
			continue
		}
		if !os.IsNotExist(err) {
			logger.Warn("error checking file existence",
				zap.String("path", e.RelativePath), zap.Error(err))
			continue
		}
		logger.Warn("orphaned catalog entry found, cleaning up",
			zap.String("path", e.RelativePath))
		if err := cat.RemoveFileEntry(e.RelativePath); err != nil {
			logger.Error("failed to remove orphan entry",
				zap.String("path", e.RelativePath), zap.Error(err))
			continue
		}
		if q != nil {
			q.ReleaseUsage(e.RelativePath, e.SizeBytes)
		}
		collected++
	}
	return collected, nil
}

// ActionPruner trims the action audit log.
type ActionPruner interface {
	PruneActions(ctx context.Context, keep int) (int, error)
}

// PruneActionLog keeps the newest keep action records.
func PruneActionLog(ctx context.Context, p ActionPruner, keep int, logger *zap.Logger) (int, error) {
	n, err := p.PruneActions(ctx, keep)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("pruned lifecycle action log", zap.Int("removed", n), zap.Int("kept", keep))
	}
	return n, nil
}
