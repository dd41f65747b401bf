package inference

import (
	"context"
	"fmt"

	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

// Gallery finds the enrolled label closest to a query vector.
type Gallery interface {
	Nearest(query []float32) (string, float32, error)
}

// NearestRecognizer recognizes a face by embedding the image and picking the
// enrolled label with the highest cosine similarity.
type NearestRecognizer struct {
	embedder Embedder
	gallery  Gallery
	logger   *zap.Logger
}

func NewNearestRecognizer(embedder Embedder, gallery Gallery, logger *zap.Logger) *NearestRecognizer {
	return &NearestRecognizer{embedder: embedder, gallery: gallery, logger: logger}
}

func (r *NearestRecognizer) Recognize(ctx context.Context, image []byte) (types.Person, error) {
	vec, err := r.embedder.Embed(ctx, image)
	if err != nil {
		return types.Person{}, &types.RecognitionFailedError{Reason: err.Error()}
	}
	label, score, err := r.gallery.Nearest(vec)
	if err != nil {
		return types.Person{}, &types.RecognitionFailedError{Reason: fmt.Sprintf("matching embedding: %v", err)}
	}
	r.logger.Debug("nearest embedding", zap.String("label", label), zap.Float32("score", score))
	return types.Person{Label: label, Score: score}, nil
}
