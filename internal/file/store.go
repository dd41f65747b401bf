package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

// Backend implements pagestore.Backend using one file per region on the
// local filesystem. Growth extends the file by whole pages.
type Backend struct {
	mu      sync.Mutex
	cfg     config.StoreConfig
	dataDir string
	regions map[types.RegionID]*Region
	logger  *zap.Logger
}

func NewBackend(cfg config.StoreConfig, logger *zap.Logger) (*Backend, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}
	return &Backend{
		cfg:     cfg,
		dataDir: cfg.DataDir,
		regions: make(map[types.RegionID]*Region),
		logger:  logger,
	}, nil
}

func (b *Backend) regionPath(id types.RegionID) string {
	return filepath.Join(b.dataDir, fmt.Sprintf("region-%03d.pages", uint8(id)))
}

func (b *Backend) Open(id types.RegionID) (pagestore.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.regions[id]; ok {
		return r, nil
	}

	path := b.regionPath(id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening region file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	// A torn growth can leave a partial page; round up so the page count
	// stays a whole number.
	size := info.Size()
	if rem := size % types.PageSize; rem != 0 {
		size += types.PageSize - rem
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("aligning region file %s: %w", path, err)
		}
	}

	r := &Region{
		id:       id,
		f:        f,
		path:     path,
		pages:    uint64(size) / types.PageSize,
		maxPages: uint64(b.cfg.MaxPages),
		sync:     b.cfg.SyncWrites,
	}
	b.regions[id] = r

	b.logger.Debug("region file opened",
		zap.Stringer("region", id),
		zap.String("path", path),
		zap.Uint64("pages", r.pages),
	)
	return r, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for id, r := range b.regions {
		if err := r.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing region %s: %w", id, err)
		}
	}
	b.regions = make(map[types.RegionID]*Region)
	return firstErr
}

// Region is a page-granular view of one file.
type Region struct {
	mu       sync.RWMutex
	id       types.RegionID
	f        *os.File
	path     string
	pages    uint64
	maxPages uint64
	sync     bool
}

func (r *Region) Pages() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pages
}

func (r *Region) Grow(delta uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPages > 0 && r.pages+delta > r.maxPages {
		return fmt.Errorf("region %s: %d + %d pages exceeds limit %d", r.id, r.pages, delta, r.maxPages)
	}
	newSize := int64((r.pages + delta) * types.PageSize)
	if err := r.f.Truncate(newSize); err != nil {
		return fmt.Errorf("extending %s to %d bytes: %w", r.path, newSize, err)
	}
	r.pages += delta
	return nil
}

func (r *Region) ReadAt(p []byte, off uint64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if off+uint64(len(p)) > r.pages*types.PageSize {
		return fmt.Errorf("region %s: read [%d, %d) out of bounds", r.id, off, off+uint64(len(p)))
	}
	if _, err := r.f.ReadAt(p, int64(off)); err != nil {
		return fmt.Errorf("reading %s: %w", r.path, err)
	}
	return nil
}

func (r *Region) WriteAt(p []byte, off uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if off+uint64(len(p)) > r.pages*types.PageSize {
		return fmt.Errorf("region %s: write [%d, %d) out of bounds", r.id, off, off+uint64(len(p)))
	}
	if _, err := r.f.WriteAt(p, int64(off)); err != nil {
		return fmt.Errorf("writing %s: %w", r.path, err)
	}
	if r.sync {
		return r.f.Sync()
	}
	return nil
}
