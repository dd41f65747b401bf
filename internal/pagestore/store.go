package pagestore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

// Config holds dependencies for the page store.
type Config struct {
	Backend Backend
	Headers HeaderStore // optional; nil keeps headers in memory only
	// MaxPages caps every region. Zero means the backend decides.
	MaxPages uint64
	Logger   *zap.Logger
}

// Store multiplexes independently addressed, page-growable regions over a
// Backend. Each region tracks its logical length separately from its
// allocated pages; clearing a region never releases pages.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	headers  HeaderStore
	maxPages uint64
	regions  map[types.RegionID]*region
	logger   *zap.Logger
}

type region struct {
	id     types.RegionID
	mem    Memory
	length uint64
	pages  uint64
}

func (r *region) stats() types.RegionStats {
	return types.RegionStats{Region: r.id, Length: r.length, Pages: r.pages}
}

// New creates a page store. Regions are opened lazily on first use.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:  cfg.Backend,
		headers:  cfg.Headers,
		maxPages: cfg.MaxPages,
		regions:  make(map[types.RegionID]*region),
		logger:   logger,
	}
}

// Append writes p immediately after the region's current end and returns the
// new logical length. If the region needs more pages it grows first; a
// failed growth traps (see Recover) and leaves the logical length untouched.
// A failed header save also leaves the logical length untouched.
func (s *Store) Append(ctx context.Context, id types.RegionID, p []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open(ctx, id)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return r.length, nil
	}

	newLen := r.length + uint64(len(p))
	s.ensureCapacity(r, newLen)

	if err := r.mem.WriteAt(p, r.length); err != nil {
		return r.length, fmt.Errorf("writing %d bytes to region %s at %d: %w", len(p), id, r.length, err)
	}
	prevLen := r.length
	r.length = newLen

	if err := s.persist(ctx, r); err != nil {
		s.rollback(r, prevLen)
		return r.length, err
	}

	s.logger.Debug("region appended",
		zap.Stringer("region", id),
		zap.Int("bytes", len(p)),
		zap.Uint64("length", r.length),
		zap.Uint64("pages", r.pages),
	)
	return r.length, nil
}

// ReadAll returns a copy of exactly the region's logical bytes.
func (s *Store) ReadAll(ctx context.Context, id types.RegionID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.length == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, r.length)
	if err := r.mem.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("reading region %s: %w", id, err)
	}
	return buf, nil
}

// ReadAt returns a copy of n bytes starting at off. The range must lie
// within the logical length.
func (s *Store) ReadAt(ctx context.Context, id types.RegionID, off, n uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	if off+n < off || off+n > r.length {
		return nil, fmt.Errorf("read [%d, %d) beyond region %s length %d", off, off+n, id, r.length)
	}

	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if err := r.mem.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("reading region %s at %d: %w", id, off, err)
	}
	return buf, nil
}

// Clear truncates the region to zero logical bytes. Allocated pages are kept
// so a later re-append does not pay for growth again.
func (s *Store) Clear(ctx context.Context, id types.RegionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open(ctx, id)
	if err != nil {
		return err
	}
	prevLen := r.length
	r.length = 0
	if err := s.persist(ctx, r); err != nil {
		s.rollback(r, prevLen)
		return err
	}
	s.logger.Debug("region cleared", zap.Stringer("region", id), zap.Uint64("pages", r.pages))
	return nil
}

// Replace swaps the region's content for p. Growth happens before the
// logical truncate, so a trap leaves the previous content intact. A failed
// header save restores the overwritten prefix and the previous length.
func (s *Store) Replace(ctx context.Context, id types.RegionID, p []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open(ctx, id)
	if err != nil {
		return 0, err
	}
	s.ensureCapacity(r, uint64(len(p)))

	prevLen := r.length
	var overwritten []byte
	if n := min(uint64(len(p)), prevLen); n > 0 {
		overwritten = make([]byte, n)
		if err := r.mem.ReadAt(overwritten, 0); err != nil {
			return r.length, fmt.Errorf("reading region %s: %w", id, err)
		}
	}

	if len(p) > 0 {
		if err := r.mem.WriteAt(p, 0); err != nil {
			return r.length, fmt.Errorf("writing region %s: %w", id, err)
		}
	}
	r.length = uint64(len(p))
	if err := s.persist(ctx, r); err != nil {
		if len(overwritten) > 0 {
			if werr := r.mem.WriteAt(overwritten, 0); werr != nil {
				s.logger.Error("restoring region after failed header save",
					zap.Stringer("region", id), zap.Error(werr))
			}
		}
		s.rollback(r, prevLen)
		return r.length, err
	}

	s.logger.Debug("region replaced",
		zap.Stringer("region", id),
		zap.Uint64("length", r.length),
		zap.Uint64("pages", r.pages),
	)
	return r.length, nil
}

// Stats reports the logical length and allocated pages of a region.
func (s *Store) Stats(ctx context.Context, id types.RegionID) (types.RegionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open(ctx, id)
	if err != nil {
		return types.RegionStats{}, err
	}
	return r.stats(), nil
}

// AllStats reports every region opened so far, in id order.
func (s *Store) AllStats() []types.RegionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.RegionStats, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// Close releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = make(map[types.RegionID]*region)
	return s.backend.Close()
}

func (s *Store) open(ctx context.Context, id types.RegionID) (*region, error) {
	if r, ok := s.regions[id]; ok {
		return r, nil
	}

	mem, err := s.backend.Open(id)
	if err != nil {
		return nil, fmt.Errorf("opening region %s: %w", id, err)
	}
	r := &region{id: id, mem: mem, pages: mem.Pages()}

	if s.headers != nil {
		hdr, found, err := s.headers.LoadRegion(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading header for region %s: %w", id, err)
		}
		if found {
			if hdr.Length > r.pages*types.PageSize {
				return nil, fmt.Errorf("region %s header length %d exceeds %d allocated pages", id, hdr.Length, r.pages)
			}
			r.length = hdr.Length
		}
	}

	s.regions[id] = r
	s.observe(r)
	s.logger.Info("region opened",
		zap.Stringer("region", id),
		zap.Uint64("length", r.length),
		zap.Uint64("pages", r.pages),
	)
	return r, nil
}

// ensureCapacity grows r so that length bytes fit. Growth failure traps.
func (s *Store) ensureCapacity(r *region, length uint64) {
	required := PagesFor(length)
	if required <= r.pages {
		return
	}
	if s.maxPages > 0 && required > s.maxPages {
		s.trap(&types.ResourceExhaustedError{Region: r.id, Requested: required, Limit: s.maxPages})
	}

	delta := required - r.pages
	if err := r.mem.Grow(delta); err != nil {
		s.trap(&types.ResourceExhaustedError{Region: r.id, Requested: required, Cause: err})
	}
	r.pages = required

	metrics.RegionGrowths.WithLabelValues(r.id.String()).Inc()
	metrics.RegionPages.WithLabelValues(r.id.String()).Set(float64(r.pages))
	s.logger.Debug("region grown",
		zap.Stringer("region", r.id),
		zap.Uint64("delta_pages", delta),
		zap.Uint64("pages", r.pages),
	)
}

func (s *Store) persist(ctx context.Context, r *region) error {
	s.observe(r)
	if s.headers == nil {
		return nil
	}
	if err := s.headers.SaveRegion(ctx, r.stats()); err != nil {
		return fmt.Errorf("saving header for region %s: %w", r.id, err)
	}
	return nil
}

// rollback restores the logical length after a failed header save so the
// call leaves no partial write behind.
func (s *Store) rollback(r *region, length uint64) {
	r.length = length
	s.observe(r)
	s.logger.Warn("region header save failed, change rolled back",
		zap.Stringer("region", r.id),
		zap.Uint64("length", r.length),
	)
}

func (s *Store) observe(r *region) {
	metrics.RegionBytes.WithLabelValues(r.id.String()).Set(float64(r.length))
	metrics.RegionPages.WithLabelValues(r.id.String()).Set(float64(r.pages))
}

func (s *Store) trap(err *types.ResourceExhaustedError) {
	metrics.Traps.WithLabelValues(err.Region.String()).Inc()
	s.logger.Error("region growth failed, aborting call", zap.Error(err))
	panic(trapSignal{err: err})
}

// PagesFor returns the number of pages needed to hold length bytes.
func PagesFor(length uint64) uint64 {
	return (length + types.PageSize - 1) / types.PageSize
}
