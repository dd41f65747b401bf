package meta

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gftdcojp/artgate/internal/types"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

func TestMigrateV1toV2(t *testing.T) {
	// Create a v1 database manually (headers only, no sequences or manifest)
	tmpFile, err := os.CreateTemp("", "artgate-migrate-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	db, err := bbolt.Open(tmpFile.Name(), 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		sys, err := tx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return err
		}
		if err := sys.Put(keySchemaVersion, uint64ToBytes(1)); err != nil {
			return err
		}
		regions, err := tx.CreateBucketIfNotExists(bucketRegions)
		if err != nil {
			return err
		}
		data, err := encodeGob(&RegionEntry{Region: types.RegionRecords, Length: 5, Pages: 1})
		if err != nil {
			return err
		}
		return regions.Put(regionKey(types.RegionRecords), data)
	})
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	// Now open with NewBoltStore which should trigger migration
	store, err := NewBoltStore(tmpFile.Name(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltStore after migration: %v", err)
	}
	defer store.Close()

	var version uint64
	store.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSystem).Get(keySchemaVersion)
		if v != nil {
			version = bytesToUint64(v)
		}
		for _, name := range [][]byte{bucketSequences, bucketSnapshots} {
			if tx.Bucket(name) == nil {
				t.Errorf("bucket %q not found after migration", string(name))
			}
		}
		return nil
	})
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}

	// v1 headers survive.
	stats, found, err := store.LoadRegion(context.Background(), types.RegionRecords)
	if err != nil || !found {
		t.Fatalf("header lost in migration: found=%v err=%v", found, err)
	}
	if stats.Length != 5 {
		t.Errorf("length = %d, want 5", stats.Length)
	}

	if seq, err := store.NextSequence(context.Background(), "submissions"); err != nil || seq != 1 {
		t.Errorf("NextSequence after migration = %d, %v", seq, err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	store := newTestStore(t)

	// Running migrate again should be a no-op (already at v2)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var version uint64
	store.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSystem).Get(keySchemaVersion)
		if v != nil {
			version = bytesToUint64(v)
		}
		return nil
	})
	if version != 2 {
		t.Errorf("schema version = %d after idempotent migrate, want 2", version)
	}
}
