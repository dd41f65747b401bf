package internal_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/memory"
	"github.com/gftdcojp/artgate/internal/meta"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/service"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

func newMemoryService(t *testing.T, maxPages uint64) *service.Service {
	t.Helper()
	logger := zap.NewNop()
	ms, err := meta.NewBoltStore(filepath.Join(t.TempDir(), "meta.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ms.Close() })

	pages := pagestore.New(pagestore.Config{
		Backend:  memory.NewBackend(0, logger),
		Headers:  ms,
		MaxPages: maxPages,
		Logger:   logger,
	})
	svc, err := service.New(context.Background(), config.DefaultConfig(), service.Deps{
		Pages:      pages,
		Meta:       ms,
		Detector:   labelDetector{},
		Recognizer: labelRecognizer{},
		Logger:     logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

// TestStress_ConcurrentSubmissions uploads and verifies many submissions in
// parallel, each split into out-of-order chunks.
func TestStress_ConcurrentSubmissions(t *testing.T) {
	dir := t.TempDir()
	n := openNode(t, dir)
	defer n.close()
	ctx := context.Background()

	const (
		workers    = 16
		perWorker  = 10
		chunkCount = 8
	)

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := n.svc.StartSubmission(ctx, types.Principal(fmt.Sprintf("worker-%d", w)))
				if err != nil {
					errs <- err
					return
				}
				image := fmt.Sprintf("lain:%d-%d:%s", w, i, strings.Repeat("x", 1000))
				size := (len(image) + chunkCount - 1) / chunkCount
				for c := chunkCount - 1; c >= 0; c-- {
					lo, hi := c*size, (c+1)*size
					if lo > len(image) {
						lo = len(image)
					}
					if hi > len(image) {
						hi = len(image)
					}
					if _, err := n.svc.PutChunk(ctx, id, c, []byte(image[lo:hi])); err != nil {
						errs <- err
						return
					}
				}
				recordID, err := n.svc.VerifyAndStore(ctx, id)
				if err != nil {
					errs <- fmt.Errorf("verify %d: %w", id, err)
					return
				}
				rec, err := n.svc.GetRecord(ctx, recordID)
				if err != nil {
					errs <- err
					return
				}
				if string(rec.Image) != image {
					errs <- fmt.Errorf("record %d holds another image", recordID)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	if got := n.svc.RecordCount(ctx); got != workers*perWorker {
		t.Fatalf("expected %d records, got %d", workers*perWorker, got)
	}
}

// TestStress_ConcurrentEnrollment mixes upserts, removals and reads of a
// small label set.
func TestStress_ConcurrentEnrollment(t *testing.T) {
	svc := newMemoryService(t, 0)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				label := fmt.Sprintf("label-%d", i%10)
				switch i % 3 {
				case 0, 1:
					svc.EnrollVector(ctx, label, []float32{float32(w), float32(i), 1})
				case 2:
					svc.RemoveFace(ctx, label)
				}
				svc.ListFaces(ctx)
			}
		}()
	}
	wg.Wait()

	for _, label := range svc.ListFaces(ctx) {
		v, err := svc.Face(ctx, label)
		if err != nil {
			t.Fatalf("listed label %s cannot be read: %v", label, err)
		}
		if len(v) != 3 {
			t.Fatalf("label %s has a torn vector: %v", label, v)
		}
	}
	if svc.FaceCount(ctx) != len(svc.ListFaces(ctx)) {
		t.Fatal("face count disagrees with label listing")
	}
}

// TestStress_ExhaustionUnderLoad fills the records region from many
// goroutines. Calls that cannot grow the region fail cleanly and every
// record that was admitted stays readable.
func TestStress_ExhaustionUnderLoad(t *testing.T) {
	svc := newMemoryService(t, 1)
	ctx := context.Background()

	var admitted, exhausted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				id, err := svc.StartSubmission(ctx, "painter")
				if err != nil {
					t.Error(err)
					return
				}
				svc.PutChunk(ctx, id, 0, []byte("lain:"+strings.Repeat("y", 8*1024)))
				_, err = svc.VerifyAndStore(ctx, id)
				switch {
				case err == nil:
					admitted.Add(1)
				case types.IsResourceExhausted(err):
					exhausted.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if exhausted.Load() == 0 {
		t.Fatal("expected some submissions to exhaust the region")
	}
	if admitted.Load() == 0 {
		t.Fatal("expected some submissions to fit in one page")
	}
	if got := int64(svc.RecordCount(ctx)); got != admitted.Load() {
		t.Fatalf("record count %d, admitted %d", got, admitted.Load())
	}
	recs, err := svc.ListRecords(ctx)
	if err != nil {
		t.Fatalf("listing records after exhaustion: %v", err)
	}
	for _, rec := range recs {
		if len(rec.Image) != 5+8*1024 {
			t.Fatalf("record %d is damaged", rec.ID)
		}
	}
}
