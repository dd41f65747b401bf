package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gftdcojp/artgate/internal/meta"
	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RegionInfo is one row of RegionStats.
type RegionInfo struct {
	ID     types.RegionID `json:"id"`
	Name   string         `json:"name"`
	Length uint64         `json:"length"`
	Pages  uint64         `json:"pages"`
}

// RegionStats reports every region in id order, including ones that were
// never written.
func (s *Service) RegionStats(ctx context.Context) (out []RegionInfo, err error) {
	defer pagestore.Recover(&err)
	out = make([]RegionInfo, 0, len(types.Regions))
	for _, id := range types.Regions {
		st, err := s.pages.Stats(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, RegionInfo{ID: id, Name: id.String(), Length: st.Length, Pages: st.Pages})
	}
	return out, nil
}

// SnapshotRegions uploads the logical contents of every region to object
// storage in parallel and records each upload in the manifest.
func (s *Service) SnapshotRegions(ctx context.Context) (entries []meta.SnapshotEntry, err error) {
	defer pagestore.Recover(&err)
	if s.snapshots == nil || s.meta == nil {
		return nil, fmt.Errorf("snapshots: %w", ErrUnavailable)
	}

	start := time.Now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range types.Regions {
		g.Go(func() error {
			data, err := s.pages.ReadAll(gctx, id)
			if err != nil {
				return err
			}
			snapID := uuid.NewString()
			obj, err := s.snapshots.Put(gctx, id, snapID, data)
			if err != nil {
				return err
			}
			entry := meta.SnapshotEntry{
				ID:        snapID,
				Region:    id,
				Key:       obj.Key,
				Length:    obj.Length,
				Stored:    obj.Stored,
				Codec:     obj.Codec,
				CreatedAt: time.Now(),
			}
			if err := s.meta.RecordSnapshot(gctx, entry); err != nil {
				return err
			}
			mu.Lock()
			entries = append(entries, entry)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("region snapshot failed", zap.Error(err))
		return nil, err
	}
	metrics.SnapshotDuration.WithLabelValues("snapshot").Observe(time.Since(start).Seconds())

	sort.Slice(entries, func(i, j int) bool { return entries[i].Region < entries[j].Region })
	s.logger.Info("regions snapshotted", zap.Int("regions", len(entries)), zap.Duration("took", time.Since(start)))
	return entries, nil
}

// ListSnapshots returns the manifest, optionally filtered to one region.
func (s *Service) ListSnapshots(ctx context.Context, region *types.RegionID) ([]meta.SnapshotEntry, error) {
	if s.meta == nil {
		return nil, fmt.Errorf("snapshots: %w", ErrUnavailable)
	}
	return s.meta.ListSnapshots(ctx, region)
}

// RestoreRegion replaces region id with its latest snapshot and rebuilds
// any in-memory view derived from it.
func (s *Service) RestoreRegion(ctx context.Context, id types.RegionID) (entry *meta.SnapshotEntry, err error) {
	defer pagestore.Recover(&err)
	if s.snapshots == nil || s.meta == nil {
		return nil, fmt.Errorf("snapshots: %w", ErrUnavailable)
	}

	start := time.Now()
	entry, err = s.meta.LatestSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.snapshots.Get(ctx, entry.Key)
	if err != nil {
		metrics.SnapshotErrors.WithLabelValues("restore", id.String()).Inc()
		return nil, err
	}
	if _, err := s.pages.Replace(ctx, id, data); err != nil {
		return nil, err
	}

	switch id {
	case types.RegionEmbeddings:
		err = s.faces.Reload(ctx)
	case types.RegionRecords:
		err = s.records.Reload(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("reloading %s after restore: %w", id, err)
	}
	metrics.SnapshotDuration.WithLabelValues("restore").Observe(time.Since(start).Seconds())

	s.logger.Info("region restored",
		zap.Stringer("region", id),
		zap.String("key", entry.Key),
		zap.Uint64("length", entry.Length),
	)
	return entry, nil
}
