package pagestore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, *mockBackend) {
	t.Helper()
	backend := newMockBackend()
	return New(Config{Backend: backend, Logger: zap.NewNop()}), backend
}

// appendRecovering runs Append the way a service entry point would.
func appendRecovering(s *Store, id types.RegionID, p []byte) (n uint64, err error) {
	defer Recover(&err)
	return s.Append(context.Background(), id, p)
}

func TestAppendGrowsByWholePages(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	n, err := s.Append(ctx, types.RegionDetectionModel, make([]byte, 70000))
	if err != nil {
		t.Fatal(err)
	}
	if n != 70000 {
		t.Fatalf("length = %d, want 70000", n)
	}
	stats, _ := s.Stats(ctx, types.RegionDetectionModel)
	if stats.Pages != 2 {
		t.Fatalf("pages = %d, want 2", stats.Pages)
	}

	mem := backend.regions[types.RegionDetectionModel]
	growsBefore := mem.grows

	if _, err := s.Append(ctx, types.RegionDetectionModel, make([]byte, 10)); err != nil {
		t.Fatal(err)
	}
	stats, _ = s.Stats(ctx, types.RegionDetectionModel)
	if stats.Length != 70010 {
		t.Errorf("length = %d, want 70010", stats.Length)
	}
	if stats.Pages != 2 {
		t.Errorf("pages = %d, want 2", stats.Pages)
	}
	if mem.grows != growsBefore {
		t.Error("small append within capacity must not grow the region")
	}
}

func TestAppendConcatenates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := bytes.Repeat([]byte("a"), types.PageSize-1)
	b := []byte("bcd")
	c := bytes.Repeat([]byte("e"), 3*types.PageSize)

	var want []byte
	for _, p := range [][]byte{a, b, c} {
		if _, err := s.Append(ctx, types.RegionEmbeddings, p); err != nil {
			t.Fatal(err)
		}
		want = append(want, p...)
	}

	got, err := s.ReadAll(ctx, types.RegionEmbeddings)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadAll returned %d bytes, want concatenation of %d", len(got), len(want))
	}
}

func TestAppendZeroBytesIsNoop(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	n, err := s.Append(ctx, types.RegionRecords, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("length = %d, want 0", n)
	}
	if backend.regions[types.RegionRecords].grows != 0 {
		t.Error("empty append must not grow")
	}
}

func TestReadAllEmptyRegion(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.ReadAll(context.Background(), types.RegionRecognitionModel)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestClearKeepsPages(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	s.Append(ctx, types.RegionDetectionModel, make([]byte, 2*types.PageSize))
	if err := s.Clear(ctx, types.RegionDetectionModel); err != nil {
		t.Fatal(err)
	}

	stats, _ := s.Stats(ctx, types.RegionDetectionModel)
	if stats.Length != 0 {
		t.Errorf("length after clear = %d", stats.Length)
	}
	if stats.Pages != 2 {
		t.Errorf("pages after clear = %d, want 2", stats.Pages)
	}

	got, _ := s.ReadAll(ctx, types.RegionDetectionModel)
	if len(got) != 0 {
		t.Errorf("ReadAll after clear returned %d bytes", len(got))
	}

	// Re-append reuses the retained pages.
	mem := backend.regions[types.RegionDetectionModel]
	grows := mem.grows
	s.Append(ctx, types.RegionDetectionModel, []byte("fresh"))
	if mem.grows != grows {
		t.Error("append after clear should reuse retained pages")
	}
	got, _ = s.ReadAll(ctx, types.RegionDetectionModel)
	if string(got) != "fresh" {
		t.Errorf("got %q after re-append", got)
	}
}

func TestRegionsAreIndependent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Append(ctx, types.RegionDetectionModel, []byte("det"))
	s.Append(ctx, types.RegionRecognitionModel, []byte("rec"))
	s.Clear(ctx, types.RegionDetectionModel)

	got, _ := s.ReadAll(ctx, types.RegionRecognitionModel)
	if string(got) != "rec" {
		t.Errorf("clearing one region affected another: %q", got)
	}
}

func TestGrowthFailureTraps(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	s.Append(ctx, types.RegionRecords, []byte("kept"))
	backend.setFailGrow(true)

	_, err := appendRecovering(s, types.RegionRecords, make([]byte, types.PageSize))
	if err == nil {
		t.Fatal("expected a trap")
	}
	if !types.IsResourceExhausted(err) {
		t.Fatalf("expected ResourceExhaustedError, got %T: %v", err, err)
	}
	if !errors.Is(err, errInjected) {
		t.Errorf("trap should wrap the backend cause: %v", err)
	}

	stats, _ := s.Stats(ctx, types.RegionRecords)
	if stats.Length != 4 {
		t.Errorf("length after trap = %d, want 4", stats.Length)
	}
	got, _ := s.ReadAll(ctx, types.RegionRecords)
	if string(got) != "kept" {
		t.Errorf("content after trap = %q", got)
	}

	// The store remains usable once growth succeeds again.
	backend.setFailGrow(false)
	if _, err := appendRecovering(s, types.RegionRecords, make([]byte, types.PageSize)); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
}

func TestMaxPagesTraps(t *testing.T) {
	s := New(Config{Backend: newMockBackend(), MaxPages: 1, Logger: zap.NewNop()})

	if _, err := appendRecovering(s, types.RegionEmbeddings, make([]byte, types.PageSize)); err != nil {
		t.Fatalf("append within limit: %v", err)
	}
	_, err := appendRecovering(s, types.RegionEmbeddings, []byte{1})
	var re *types.ResourceExhaustedError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResourceExhaustedError, got %v", err)
	}
	if re.Limit != 1 || re.Requested != 2 {
		t.Errorf("unexpected trap detail: %+v", re)
	}
}

func TestRecoverReraisesForeignPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != "boom" {
			t.Errorf("expected foreign panic to propagate, got %v", r)
		}
	}()
	func() (err error) {
		defer Recover(&err)
		panic("boom")
	}()
}

func TestReplace(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	s.Append(ctx, types.RegionEmbeddings, bytes.Repeat([]byte("x"), 100))
	n, err := s.Replace(ctx, types.RegionEmbeddings, []byte("short"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("length = %d, want 5", n)
	}
	got, _ := s.ReadAll(ctx, types.RegionEmbeddings)
	if string(got) != "short" {
		t.Errorf("got %q", got)
	}

	// A trapped replace leaves the old content.
	backend.setFailGrow(true)
	err = func() (err error) {
		defer Recover(&err)
		_, err = s.Replace(ctx, types.RegionEmbeddings, make([]byte, 2*types.PageSize))
		return err
	}()
	if !types.IsResourceExhausted(err) {
		t.Fatalf("expected trap, got %v", err)
	}
	got, _ = s.ReadAll(ctx, types.RegionEmbeddings)
	if string(got) != "short" {
		t.Errorf("content after trapped replace = %q", got)
	}
}

func TestReadAt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Append(ctx, types.RegionRecords, []byte("0123456789"))
	got, err := s.ReadAt(ctx, types.RegionRecords, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "3456" {
		t.Errorf("got %q", got)
	}
	if _, err := s.ReadAt(ctx, types.RegionRecords, 8, 5); err == nil {
		t.Error("expected error reading beyond logical length")
	}
}

func TestHeadersSurviveReopen(t *testing.T) {
	backend := newMockBackend()
	headers := newMockHeaders()
	ctx := context.Background()

	s1 := New(Config{Backend: backend, Headers: headers, Logger: zap.NewNop()})
	s1.Append(ctx, types.RegionRecords, []byte("durable"))

	s2 := New(Config{Backend: backend, Headers: headers, Logger: zap.NewNop()})
	got, err := s2.ReadAll(ctx, types.RegionRecords)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "durable" {
		t.Errorf("got %q after reopen", got)
	}
}

func TestHeaderBeyondCapacityRejected(t *testing.T) {
	headers := newMockHeaders()
	headers.SaveRegion(context.Background(), types.RegionStats{Region: types.RegionRecords, Length: 10, Pages: 1})

	s := New(Config{Backend: newMockBackend(), Headers: headers, Logger: zap.NewNop()})
	if _, err := s.ReadAll(context.Background(), types.RegionRecords); err == nil {
		t.Fatal("expected error when header exceeds allocated pages")
	}
}

func TestAllStats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Append(ctx, types.RegionRecords, []byte("r"))
	s.Append(ctx, types.RegionDetectionModel, []byte("dd"))

	stats := s.AllStats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(stats))
	}
	if stats[0].Region != types.RegionDetectionModel || stats[1].Region != types.RegionRecords {
		t.Errorf("stats not in id order: %+v", stats)
	}
}

func TestPagesFor(t *testing.T) {
	tests := []struct {
		length, want uint64
	}{
		{0, 0},
		{1, 1},
		{types.PageSize, 1},
		{types.PageSize + 1, 2},
		{70000, 2},
	}
	for _, tt := range tests {
		if got := PagesFor(tt.length); got != tt.want {
			t.Errorf("PagesFor(%d) = %d, want %d", tt.length, got, tt.want)
		}
	}
}

func TestFailedHeaderSaveRollsBackAppend(t *testing.T) {
	backend := newMockBackend()
	headers := newMockHeaders()
	ctx := context.Background()
	s := New(Config{Backend: backend, Headers: headers, Logger: zap.NewNop()})

	if _, err := s.Append(ctx, types.RegionRecords, []byte("first")); err != nil {
		t.Fatal(err)
	}

	headers.setFailSave(true)
	n, err := s.Append(ctx, types.RegionRecords, []byte("lost"))
	if !errors.Is(err, errHeaderFailed) {
		t.Fatalf("expected header save error, got %v", err)
	}
	if n != 5 {
		t.Errorf("length after failed append = %d, want 5", n)
	}
	stats, _ := s.Stats(ctx, types.RegionRecords)
	if stats.Length != 5 {
		t.Errorf("stats length = %d, want 5", stats.Length)
	}

	headers.setFailSave(false)
	if _, err := s.Append(ctx, types.RegionRecords, []byte("second")); err != nil {
		t.Fatal(err)
	}
	got, _ := s.ReadAll(ctx, types.RegionRecords)
	if string(got) != "firstsecond" {
		t.Errorf("got %q, want %q", got, "firstsecond")
	}

	reopened := New(Config{Backend: backend, Headers: headers, Logger: zap.NewNop()})
	got, err = reopened.ReadAll(ctx, types.RegionRecords)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "firstsecond" {
		t.Errorf("got %q after reopen, want %q", got, "firstsecond")
	}
}

func TestFailedHeaderSaveRollsBackClear(t *testing.T) {
	headers := newMockHeaders()
	ctx := context.Background()
	s := New(Config{Backend: newMockBackend(), Headers: headers, Logger: zap.NewNop()})

	s.Append(ctx, types.RegionRecognitionModel, []byte("weights"))
	headers.setFailSave(true)
	if err := s.Clear(ctx, types.RegionRecognitionModel); !errors.Is(err, errHeaderFailed) {
		t.Fatalf("expected header save error, got %v", err)
	}
	got, _ := s.ReadAll(ctx, types.RegionRecognitionModel)
	if string(got) != "weights" {
		t.Errorf("content after failed clear = %q", got)
	}
}

func TestFailedHeaderSaveRollsBackReplace(t *testing.T) {
	headers := newMockHeaders()
	ctx := context.Background()
	s := New(Config{Backend: newMockBackend(), Headers: headers, Logger: zap.NewNop()})

	s.Append(ctx, types.RegionEmbeddings, []byte("original content"))
	headers.setFailSave(true)
	n, err := s.Replace(ctx, types.RegionEmbeddings, []byte("new"))
	if !errors.Is(err, errHeaderFailed) {
		t.Fatalf("expected header save error, got %v", err)
	}
	if n != 16 {
		t.Errorf("length after failed replace = %d, want 16", n)
	}
	got, _ := s.ReadAll(ctx, types.RegionEmbeddings)
	if string(got) != "original content" {
		t.Errorf("content after failed replace = %q", got)
	}
}
