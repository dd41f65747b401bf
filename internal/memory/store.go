package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

// ErrOutOfPages is returned by Grow when the configured page budget is spent.
var ErrOutOfPages = errors.New("memory backend: page budget exhausted")

// Backend implements pagestore.Backend with in-process byte slices. Content
// lives for the lifetime of the Backend value.
type Backend struct {
	mu       sync.Mutex
	regions  map[types.RegionID]*Region
	maxPages uint64
	logger   *zap.Logger
}

// NewBackend creates an in-process backend. maxPages bounds each region;
// zero means unbounded.
func NewBackend(maxPages uint64, logger *zap.Logger) *Backend {
	return &Backend{
		regions:  make(map[types.RegionID]*Region),
		maxPages: maxPages,
		logger:   logger,
	}
}

func (b *Backend) Open(id types.RegionID) (pagestore.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.regions[id]; ok {
		return r, nil
	}
	r := &Region{id: id, maxPages: b.maxPages}
	b.regions[id] = r
	b.logger.Debug("memory region created", zap.Stringer("region", id))
	return r, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regions = make(map[types.RegionID]*Region)
	return nil
}

// Region is one growable span of in-process memory.
type Region struct {
	mu       sync.RWMutex
	id       types.RegionID
	data     []byte
	maxPages uint64
}

func (r *Region) Pages() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.data)) / types.PageSize
}

func (r *Region) Grow(delta uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pages := uint64(len(r.data)) / types.PageSize
	if r.maxPages > 0 && pages+delta > r.maxPages {
		return fmt.Errorf("region %s: %d + %d pages: %w", r.id, pages, delta, ErrOutOfPages)
	}
	r.data = append(r.data, make([]byte, delta*types.PageSize)...)
	return nil
}

func (r *Region) ReadAt(p []byte, off uint64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if off+uint64(len(p)) > uint64(len(r.data)) {
		return fmt.Errorf("region %s: read [%d, %d) out of bounds (%d bytes)", r.id, off, off+uint64(len(p)), len(r.data))
	}
	copy(p, r.data[off:])
	return nil
}

func (r *Region) WriteAt(p []byte, off uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if off+uint64(len(p)) > uint64(len(r.data)) {
		return fmt.Errorf("region %s: write [%d, %d) out of bounds (%d bytes)", r.id, off, off+uint64(len(p)), len(r.data))
	}
	copy(r.data[off:], p)
	return nil
}
