package pagestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gftdcojp/artgate/internal/types"
)

var (
	errInjected     = errors.New("injected growth failure")
	errHeaderFailed = errors.New("bolt: disk full")
)

// mockBackend is an in-memory Backend whose growth can be made to fail.
type mockBackend struct {
	mu       sync.Mutex
	regions  map[types.RegionID]*mockMemory
	failGrow bool
}

func newMockBackend() *mockBackend {
	return &mockBackend{regions: make(map[types.RegionID]*mockMemory)}
}

func (b *mockBackend) Open(id types.RegionID) (Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.regions[id]; ok {
		return m, nil
	}
	m := &mockMemory{backend: b}
	b.regions[id] = m
	return m, nil
}

func (b *mockBackend) Close() error { return nil }

func (b *mockBackend) setFailGrow(v bool) {
	b.mu.Lock()
	b.failGrow = v
	b.mu.Unlock()
}

type mockMemory struct {
	backend *mockBackend
	data    []byte
	grows   int
}

func (m *mockMemory) Pages() uint64 { return uint64(len(m.data)) / types.PageSize }

func (m *mockMemory) Grow(delta uint64) error {
	m.backend.mu.Lock()
	fail := m.backend.failGrow
	m.backend.mu.Unlock()
	if fail {
		return errInjected
	}
	m.data = append(m.data, make([]byte, delta*types.PageSize)...)
	m.grows++
	return nil
}

func (m *mockMemory) ReadAt(p []byte, off uint64) error {
	if off+uint64(len(p)) > uint64(len(m.data)) {
		return fmt.Errorf("read out of bounds")
	}
	copy(p, m.data[off:])
	return nil
}

func (m *mockMemory) WriteAt(p []byte, off uint64) error {
	if off+uint64(len(p)) > uint64(len(m.data)) {
		return fmt.Errorf("write out of bounds")
	}
	copy(m.data[off:], p)
	return nil
}

// mockHeaders is an in-memory HeaderStore whose saves can be made to fail.
type mockHeaders struct {
	mu       sync.Mutex
	headers  map[types.RegionID]types.RegionStats
	failSave bool
}

func (h *mockHeaders) setFailSave(v bool) {
	h.mu.Lock()
	h.failSave = v
	h.mu.Unlock()
}

func newMockHeaders() *mockHeaders {
	return &mockHeaders{headers: make(map[types.RegionID]types.RegionStats)}
}

func (h *mockHeaders) LoadRegion(_ context.Context, id types.RegionID) (types.RegionStats, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.headers[id]
	return s, ok, nil
}

func (h *mockHeaders) SaveRegion(_ context.Context, s types.RegionStats) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failSave {
		return errHeaderFailed
	}
	h.headers[s.Region] = s
	return nil
}
