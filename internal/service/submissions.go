package service

import (
	"context"

	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/submission"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

type sourceKey struct{}

// WithSource tags ctx with the transport a call arrived on. It only
// affects metrics labels.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceOf(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "direct"
}

// StartSubmission opens a submission owned by creator.
func (s *Service) StartSubmission(ctx context.Context, creator types.Principal) (id uint64, err error) {
	defer pagestore.Recover(&err)
	if creator == "" {
		creator = types.Anonymous
	}
	return s.subs.Start(ctx, creator)
}

// PutChunk stores chunk index of submission id. It reports false without
// error when the submission does not exist.
func (s *Service) PutChunk(ctx context.Context, id uint64, index int, data []byte) (stored bool, err error) {
	defer pagestore.Recover(&err)
	stored, err = s.subs.PutChunk(id, index, data)
	if err != nil {
		return false, err
	}
	if stored {
		src := sourceOf(ctx)
		metrics.ChunksReceived.WithLabelValues(src).Inc()
		metrics.ChunkBytes.WithLabelValues(src).Add(float64(len(data)))
	} else {
		s.logger.Debug("chunk for unknown submission dropped",
			zap.Uint64("submission", id), zap.Int("index", index))
	}
	return stored, nil
}

// Finalize attaches declared metadata to submission id.
func (s *Service) Finalize(ctx context.Context, id uint64, md submission.Metadata) (ok bool, err error) {
	defer pagestore.Recover(&err)
	return s.subs.Finalize(id, md), nil
}

func (s *Service) GetSubmission(ctx context.Context, id uint64) (info submission.Info, err error) {
	defer pagestore.Recover(&err)
	return s.subs.Info(id)
}

func (s *Service) ListSubmissions(ctx context.Context) []submission.Info {
	return s.subs.List()
}

// RunDetection assembles submission id and runs face detection on it.
func (s *Service) RunDetection(ctx context.Context, id uint64) (box types.BoundingBox, err error) {
	defer pagestore.Recover(&err)
	return s.pipeline.RunDetection(ctx, id)
}

// VerifyAndStore runs the verification pipeline and returns the new
// record id on admission.
func (s *Service) VerifyAndStore(ctx context.Context, id uint64) (recordID uint64, err error) {
	defer pagestore.Recover(&err)
	return s.pipeline.VerifyAndStore(ctx, id)
}
