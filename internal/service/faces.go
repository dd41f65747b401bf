package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gftdcojp/artgate/internal/embedding"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

// EnrollVector upserts v under label verbatim and returns the stored vector.
func (s *Service) EnrollVector(ctx context.Context, label string, v []float32) (stored []float32, err error) {
	defer pagestore.Recover(&err)
	if label == "" {
		return nil, errors.New("label is required")
	}
	if err := s.faces.Upsert(ctx, label, v); err != nil {
		return nil, err
	}
	s.logger.Info("face enrolled", zap.String("label", label), zap.Int("dim", len(v)))
	return append([]float32(nil), v...), nil
}

// EnrollImage embeds image with the configured embedder and upserts the
// resulting vector under label.
func (s *Service) EnrollImage(ctx context.Context, label string, image []byte) (stored []float32, err error) {
	defer pagestore.Recover(&err)
	if s.embedder == nil {
		return nil, fmt.Errorf("enrolling by image: %w", ErrUnavailable)
	}
	if len(image) == 0 {
		return nil, types.ErrEmptyContent
	}
	v, err := s.embedder.Embed(ctx, image)
	if err != nil {
		return nil, &types.RecognitionFailedError{Reason: err.Error()}
	}
	return s.EnrollVector(ctx, label, v)
}

// RemoveFace deletes label. Unknown labels are ErrNotFound.
func (s *Service) RemoveFace(ctx context.Context, label string) (err error) {
	defer pagestore.Recover(&err)
	if err := s.faces.Remove(ctx, label); err != nil {
		return err
	}
	s.logger.Info("face removed", zap.String("label", label))
	return nil
}

// Face returns the vector enrolled under label.
func (s *Service) Face(ctx context.Context, label string) ([]float32, error) {
	v, ok := s.faces.Lookup(label)
	if !ok {
		return nil, fmt.Errorf("face %q: %w", label, types.ErrNotFound)
	}
	return v, nil
}

func (s *Service) ListFaces(ctx context.Context) []string {
	return s.faces.Labels()
}

// Faces returns every label with its vector, ordered by label.
func (s *Service) Faces(ctx context.Context) []embedding.Entry {
	return s.faces.List()
}

func (s *Service) FaceCount(ctx context.Context) int {
	return s.faces.Count()
}
