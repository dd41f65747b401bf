package pagestore

import (
	"context"

	"github.com/gftdcojp/artgate/internal/types"
)

// Memory is the physical, page-granular storage behind one region.
// Implementations report their size in pages and never shrink.
type Memory interface {
	Pages() uint64
	Grow(delta uint64) error
	ReadAt(p []byte, off uint64) error
	WriteAt(p []byte, off uint64) error
}

// Backend opens the physical memory for a region. Opening the same id twice
// must yield the same underlying storage.
type Backend interface {
	Open(id types.RegionID) (Memory, error)
	Close() error
}

// HeaderStore persists the logical length and page count of each region so
// that region contents survive a restart.
type HeaderStore interface {
	LoadRegion(ctx context.Context, id types.RegionID) (types.RegionStats, bool, error)
	SaveRegion(ctx context.Context, stats types.RegionStats) error
}
