package service

import (
	"context"

	"github.com/gftdcojp/artgate/internal/models"
	"github.com/gftdcojp/artgate/internal/pagestore"
)

// AppendModel appends p to model k and returns the model's new size.
func (s *Service) AppendModel(ctx context.Context, k models.Kind, p []byte) (size uint64, err error) {
	defer pagestore.Recover(&err)
	return s.models.Append(ctx, k, p)
}

func (s *Service) ClearModel(ctx context.Context, k models.Kind) (err error) {
	defer pagestore.Recover(&err)
	return s.models.Clear(ctx, k)
}

func (s *Service) ModelBytes(ctx context.Context, k models.Kind) (p []byte, err error) {
	defer pagestore.Recover(&err)
	return s.models.Bytes(ctx, k)
}

func (s *Service) ModelStats(ctx context.Context) (st models.Stats, err error) {
	defer pagestore.Recover(&err)
	return s.models.Stats(ctx)
}

// SetupModels hands both stored models to the inference workers.
func (s *Service) SetupModels(ctx context.Context) (err error) {
	defer pagestore.Recover(&err)
	return s.models.Setup(ctx)
}
