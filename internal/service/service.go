// Package service wires the core components into one explicitly constructed
// context object. Every method is an externally observable operation: it
// runs to completion and turns a page store trap into its own error.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gftdcojp/artgate/internal/blob"
	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/embedding"
	"github.com/gftdcojp/artgate/internal/inference"
	"github.com/gftdcojp/artgate/internal/meta"
	"github.com/gftdcojp/artgate/internal/models"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/record"
	"github.com/gftdcojp/artgate/internal/submission"
	"github.com/gftdcojp/artgate/internal/types"
	"github.com/gftdcojp/artgate/internal/verify"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when an operation needs a collaborator that
// was not configured.
var ErrUnavailable = errors.New("capability not configured")

// Deps are the collaborators the service is built from. Only Pages is
// required.
type Deps struct {
	Pages *pagestore.Store
	// Meta provides durable submission ids and the snapshot manifest.
	Meta       meta.Store
	Detector   inference.Detector
	Recognizer inference.Recognizer // ignored when inference.recognizer is "embedding"
	Embedder   inference.Embedder
	Loader     inference.ModelLoader
	Snapshots  *blob.Store
	Now        func() time.Time
	Logger     *zap.Logger
}

// Service owns every piece of process-wide state. A restart rebuilds it
// with New, which replays the embeddings and records regions.
type Service struct {
	pages     *pagestore.Store
	meta      meta.Store
	subs      *submission.Registry
	faces     *embedding.Table
	records   *record.Store
	pipeline  *verify.Pipeline
	models    *models.Manager
	embedder  inference.Embedder
	snapshots *blob.Store
	logger    *zap.Logger
}

// New opens the persistent tables and assembles the service.
func New(ctx context.Context, cfg *config.Config, deps Deps) (svc *Service, err error) {
	defer pagestore.Recover(&err)

	if deps.Pages == nil {
		return nil, errors.New("service: page store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	faces, err := embedding.Open(ctx, deps.Pages, logger.Named("embedding"))
	if err != nil {
		return nil, fmt.Errorf("opening embedding table: %w", err)
	}
	records, err := record.Open(ctx, deps.Pages, logger.Named("records"))
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	var seq submission.Sequencer
	if deps.Meta != nil {
		seq = deps.Meta
	}
	subs := submission.NewRegistry(submission.Config{
		Sequencer: seq,
		MaxChunks: cfg.Submissions.MaxChunks,
		Now:       deps.Now,
		Logger:    logger.Named("submissions"),
	})

	recognizer := deps.Recognizer
	if cfg.Inference.Recognizer == "embedding" {
		if deps.Embedder == nil {
			return nil, fmt.Errorf("embedding recognizer needs an embedder: %w", ErrUnavailable)
		}
		recognizer = inference.NewNearestRecognizer(deps.Embedder, faces, logger.Named("nearest"))
	}

	pipeline := verify.New(verify.Config{
		Submissions: subs,
		Records:     records,
		Detector:    orDetector(deps.Detector),
		Recognizer:  orRecognizer(recognizer),
		TargetLabel: cfg.Verification.TargetLabel,
		DefaultMIME: cfg.Verification.DefaultMIME,
		Now:         deps.Now,
		Logger:      logger.Named("verify"),
	})

	return &Service{
		pages:     deps.Pages,
		meta:      deps.Meta,
		subs:      subs,
		faces:     faces,
		records:   records,
		pipeline:  pipeline,
		models:    models.NewManager(deps.Pages, deps.Loader, logger.Named("models")),
		embedder:  deps.Embedder,
		snapshots: deps.Snapshots,
		logger:    logger,
	}, nil
}

// Submissions exposes the registry to the reaper.
func (s *Service) Submissions() *submission.Registry { return s.subs }

// Ping reports whether the metadata store is usable.
func (s *Service) Ping() error {
	if s.meta == nil {
		return nil
	}
	return s.meta.Ping()
}

type missingDetector struct{}

func (missingDetector) Detect(context.Context, []byte) (types.BoundingBox, error) {
	return types.BoundingBox{}, &types.DetectionFailedError{Reason: ErrUnavailable.Error()}
}

type missingRecognizer struct{}

func (missingRecognizer) Recognize(context.Context, []byte) (types.Person, error) {
	return types.Person{}, &types.RecognitionFailedError{Reason: ErrUnavailable.Error()}
}

func orDetector(d inference.Detector) inference.Detector {
	if d == nil {
		return missingDetector{}
	}
	return d
}

func orRecognizer(r inference.Recognizer) inference.Recognizer {
	if r == nil {
		return missingRecognizer{}
	}
	return r
}
