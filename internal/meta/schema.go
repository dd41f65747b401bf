package meta

import (
	"encoding/binary"
	"time"

	"github.com/gftdcojp/artgate/internal/types"
)

// Bucket names in BoltDB.
var (
	bucketSystem     = []byte("system")
	bucketRegions    = []byte("regions")
	keySchemaVersion = []byte("schema_version")

	// Schema v2: id sequences and the snapshot manifest
	bucketSequences = []byte("sequences")
	bucketSnapshots = []byte("snapshots")
)

const currentSchemaVersion = 2

// RegionEntry is the persisted header of one page store region.
type RegionEntry struct {
	Region    types.RegionID
	Length    uint64
	Pages     uint64
	UpdatedAt time.Time
}

// SnapshotEntry records one region image uploaded to object storage.
type SnapshotEntry struct {
	ID        string
	Region    types.RegionID
	Key       string
	Length    uint64
	Stored    int64 // bytes after compression
	Codec     string
	CreatedAt time.Time
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func int64ToBytes(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func regionKey(id types.RegionID) []byte {
	return []byte{byte(id)}
}

// snapshotKey orders the manifest by region, then creation time.
func snapshotKey(e *SnapshotEntry) []byte {
	k := make([]byte, 0, 1+8+len(e.ID))
	k = append(k, byte(e.Region))
	k = append(k, int64ToBytes(e.CreatedAt.UnixNano())...)
	return append(k, e.ID...)
}
