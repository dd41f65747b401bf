package lifecycle

import (
	"context"
	"time"

	"github.com/gftdcojp/artgate/internal/blob"
	"github.com/gftdcojp/artgate/internal/meta"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

// Snapshotter uploads every region.
type Snapshotter interface {
	SnapshotRegions(ctx context.Context) ([]meta.SnapshotEntry, error)
}

// RunSnapshots takes a snapshot every interval and then prunes the manifest
// down to retain entries per region.
func RunSnapshots(ctx context.Context, snap Snapshotter, metaStore meta.Store, blobs *blob.Store, interval time.Duration, retain int, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := snap.SnapshotRegions(ctx); err != nil {
				logger.Error("scheduled snapshot failed", zap.Error(err))
				continue
			}
			if retain > 0 {
				if _, err := PruneSnapshots(ctx, metaStore, blobs, retain, logger); err != nil {
					logger.Error("snapshot pruning failed", zap.Error(err))
				}
			}
		}
	}
}

// PruneSnapshots deletes all but the newest retain snapshots of each region,
// object first and manifest entry second. A failed object delete leaves the
// entry in place for the next run.
func PruneSnapshots(ctx context.Context, metaStore meta.Store, blobs *blob.Store, retain int, logger *zap.Logger) (int, error) {
	deleted := 0
	for _, region := range types.Regions {
		entries, err := metaStore.ListSnapshots(ctx, &region)
		if err != nil {
			return deleted, err
		}
		// Entries are ordered oldest first.
		for len(entries) > retain {
			e := entries[0]
			entries = entries[1:]
			if err := blobs.Delete(ctx, e.Key); err != nil {
				logger.Warn("failed to delete snapshot object",
					zap.String("key", e.Key), zap.Error(err))
				continue
			}
			if err := metaStore.DeleteSnapshot(ctx, e); err != nil {
				logger.Error("failed to delete snapshot manifest entry",
					zap.String("key", e.Key), zap.Error(err))
				continue
			}
			deleted++
		}
	}
	if deleted > 0 {
		logger.Info("pruned snapshots", zap.Int("deleted", deleted), zap.Int("retain", retain))
	}
	return deleted, nil
}
