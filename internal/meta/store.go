package meta

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/gftdcojp/artgate/internal/types"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Store provides durable metadata: region headers, id sequences and the
// snapshot manifest.
type Store interface {
	LoadRegion(ctx context.Context, id types.RegionID) (types.RegionStats, bool, error)
	SaveRegion(ctx context.Context, stats types.RegionStats) error

	// NextSequence returns the next value of the named counter, starting at 1.
	// Values are never reused, even across restarts.
	NextSequence(ctx context.Context, name string) (uint64, error)

	RecordSnapshot(ctx context.Context, entry SnapshotEntry) error
	LatestSnapshot(ctx context.Context, region types.RegionID) (*SnapshotEntry, error)
	ListSnapshots(ctx context.Context, region *types.RegionID) ([]SnapshotEntry, error)
	DeleteSnapshot(ctx context.Context, entry SnapshotEntry) error

	Ping() error
	Close() error
}

// BoltStore implements Store using bbolt (BoltDB).
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewBoltStore opens or creates a BoltDB metadata store.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	return NewBoltStoreWithOptions(path, false, logger)
}

// NewBoltStoreWithOptions is NewBoltStore with fsync control.
func NewBoltStoreWithOptions(path string, noSync bool, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second, NoSync: noSync})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &BoltStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) initSchema() error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		sys, err := tx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketRegions); err != nil {
			return err
		}
		if sys.Get(keySchemaVersion) == nil {
			for _, name := range [][]byte{bucketSequences, bucketSnapshots} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return err
				}
			}
			return sys.Put(keySchemaVersion, uint64ToBytes(currentSchemaVersion))
		}
		return nil
	}); err != nil {
		return err
	}
	return s.Migrate()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (s *BoltStore) LoadRegion(_ context.Context, id types.RegionID) (types.RegionStats, bool, error) {
	var (
		stats types.RegionStats
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketRegions).Get(regionKey(id))
		if raw == nil {
			return nil
		}
		var entry RegionEntry
		if err := decodeGob(raw, &entry); err != nil {
			return fmt.Errorf("decoding region %s header: %w", id, err)
		}
		stats = types.RegionStats{Region: entry.Region, Length: entry.Length, Pages: entry.Pages}
		found = true
		return nil
	})
	return stats, found, err
}

func (s *BoltStore) SaveRegion(_ context.Context, stats types.RegionStats) error {
	data, err := encodeGob(&RegionEntry{
		Region:    stats.Region,
		Length:    stats.Length,
		Pages:     stats.Pages,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRegions).Put(regionKey(stats.Region), data)
	})
}

func (s *BoltStore) NextSequence(_ context.Context, name string) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketSequences).CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		seq, err = b.NextSequence()
		return err
	})
	return seq, err
}

func (s *BoltStore) RecordSnapshot(_ context.Context, entry SnapshotEntry) error {
	data, err := encodeGob(&entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(snapshotKey(&entry), data)
	})
}

func (s *BoltStore) LatestSnapshot(_ context.Context, region types.RegionID) (*SnapshotEntry, error) {
	var entry *SnapshotEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		prefix := regionKey(region)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e SnapshotEntry
			if err := decodeGob(v, &e); err != nil {
				return err
			}
			entry = &e
		}
		if entry == nil {
			return fmt.Errorf("no snapshot for region %s: %w", region, types.ErrNotFound)
		}
		return nil
	})
	return entry, err
}

func (s *BoltStore) ListSnapshots(_ context.Context, region *types.RegionID) ([]SnapshotEntry, error) {
	var entries []SnapshotEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			if region != nil && types.RegionID(k[0]) != *region {
				return nil
			}
			var e SnapshotEntry
			if err := decodeGob(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) DeleteSnapshot(_ context.Context, entry SnapshotEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete(snapshotKey(&entry))
	})
}

func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
