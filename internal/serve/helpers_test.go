package serve

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/memory"
	"github.com/gftdcojp/artgate/internal/meta"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/service"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

type stubDetector struct{}

// Detect fails for images starting with "blank".
func (stubDetector) Detect(_ context.Context, image []byte) (types.BoundingBox, error) {
	if strings.HasPrefix(string(image), "blank") {
		return types.BoundingBox{}, &types.DetectionFailedError{Reason: "no face"}
	}
	return types.BoundingBox{Left: 1, Top: 2, Right: 3, Bottom: 4}, nil
}

// stubRecognizer answers with the label written before ":" in the image.
type stubRecognizer struct{}

func (stubRecognizer) Recognize(_ context.Context, image []byte) (types.Person, error) {
	label, _, _ := strings.Cut(string(image), ":")
	return types.Person{Label: label, Score: 0.9}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, image []byte) ([]float32, error) {
	switch string(image) {
	case "lain-photo":
		return []float32{1, 0, 0}, nil
	case "alice-photo":
		return []float32{0, 1, 0}, nil
	}
	return nil, errors.New("no face in image")
}

func newTestMeta(t *testing.T) meta.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := meta.NewBoltStore(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	logger := zap.NewNop()
	ms := newTestMeta(t)
	pages := pagestore.New(pagestore.Config{
		Backend: memory.NewBackend(0, logger),
		Headers: ms,
		Logger:  logger,
	})
	svc, err := service.New(context.Background(), config.DefaultConfig(), service.Deps{
		Pages:      pages,
		Meta:       ms,
		Detector:   stubDetector{},
		Recognizer: stubRecognizer{},
		Embedder:   stubEmbedder{},
		Logger:     logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	return svc
}
