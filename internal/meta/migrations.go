package meta

import (
	"fmt"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Migrate runs any pending schema migrations.
func (s *BoltStore) Migrate() error {
	var version uint64
	s.db.View(func(tx *bbolt.Tx) error {
		sys := tx.Bucket(bucketSystem)
		if sys == nil {
			return nil
		}
		v := sys.Get(keySchemaVersion)
		if v != nil {
			version = bytesToUint64(v)
		}
		return nil
	})

	if version < 2 {
		if err := s.migrateV1toV2(); err != nil {
			return fmt.Errorf("migration v1→v2: %w", err)
		}
		s.logger.Info("metadata schema migrated", zap.Uint64("from", version), zap.Uint64("to", 2))
	}

	return nil
}

// migrateV1toV2 adds the id sequence and snapshot manifest buckets.
func (s *BoltStore) migrateV1toV2() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSequences, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		sys := tx.Bucket(bucketSystem)
		if sys == nil {
			return fmt.Errorf("system bucket not found")
		}
		return sys.Put(keySchemaVersion, uint64ToBytes(2))
	})
}
