// Package verify runs submissions through face detection and recognition
// and admits the ones that show the target identity.
package verify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gftdcojp/artgate/internal/inference"
	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/record"
	"github.com/gftdcojp/artgate/internal/submission"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

const (
	DefaultTargetLabel = "lain"
	DefaultMIMEType    = "image/jpeg"
)

// Outcome labels for metrics and logs.
const (
	OutcomeApproved          = "approved"
	OutcomeNotFound          = "not_found"
	OutcomeEmpty             = "empty"
	OutcomeDetectionFailed   = "detection_failed"
	OutcomeRecognitionFailed = "recognition_failed"
	OutcomeMismatch          = "identity_mismatch"
	OutcomeError             = "error"
)

// Config holds pipeline dependencies.
type Config struct {
	Submissions *submission.Registry
	Records     *record.Store
	Detector    inference.Detector
	Recognizer  inference.Recognizer

	TargetLabel string
	DefaultMIME string
	Now         func() time.Time
	Logger      *zap.Logger
}

// Pipeline is strictly linear: assemble, detect, recognize, decide, admit.
// Any failing stage ends the call and nothing from it is kept.
type Pipeline struct {
	subs        *submission.Registry
	records     *record.Store
	detector    inference.Detector
	recognizer  inference.Recognizer
	target      string
	defaultMIME string
	now         func() time.Time
	logger      *zap.Logger
}

func New(cfg Config) *Pipeline {
	p := &Pipeline{
		subs:        cfg.Submissions,
		records:     cfg.Records,
		detector:    cfg.Detector,
		recognizer:  cfg.Recognizer,
		target:      cfg.TargetLabel,
		defaultMIME: cfg.DefaultMIME,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}
	if p.target == "" {
		p.target = DefaultTargetLabel
	}
	if p.defaultMIME == "" {
		p.defaultMIME = DefaultMIMEType
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// RunDetection assembles id and returns the detected face.
func (p *Pipeline) RunDetection(ctx context.Context, id uint64) (types.BoundingBox, error) {
	logger := p.logger.With(zap.Uint64("submission", id))

	snap, err := p.subs.Snapshot(id)
	if err != nil {
		return types.BoundingBox{}, err
	}
	box, err := p.detect(ctx, snap.Content)
	if err != nil {
		logger.Warn("detection failed", zap.Error(err))
		return types.BoundingBox{}, err
	}
	logger.Debug("face detected", zap.Any("box", box))
	return box, nil
}

// VerifyAndStore runs the full pipeline on id and returns the new record id.
func (p *Pipeline) VerifyAndStore(ctx context.Context, id uint64) (recordID uint64, err error) {
	logger := p.logger.With(zap.Uint64("submission", id))
	outcome := OutcomeError
	defer func() {
		metrics.VerificationOutcomes.WithLabelValues(outcome).Inc()
	}()

	start := time.Now()
	snap, err := p.subs.Snapshot(id)
	metrics.VerificationDuration.WithLabelValues("assemble").Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, types.ErrNotFound):
			outcome = OutcomeNotFound
		case errors.Is(err, types.ErrEmptyContent):
			outcome = OutcomeEmpty
		}
		return 0, err
	}
	logger.Debug("submission assembled", zap.Int("bytes", len(snap.Content)))

	box, err := p.detect(ctx, snap.Content)
	if err != nil {
		outcome = OutcomeDetectionFailed
		logger.Warn("detection failed", zap.Error(err))
		return 0, err
	}
	logger.Debug("face detected", zap.Any("box", box))

	person, err := p.recognize(ctx, snap.Content)
	if err != nil {
		outcome = OutcomeRecognitionFailed
		logger.Warn("recognition failed", zap.Error(err))
		return 0, err
	}
	logger.Debug("face recognized", zap.String("label", person.Label), zap.Float32("score", person.Score))

	if !strings.EqualFold(person.Label, p.target) {
		outcome = OutcomeMismatch
		logger.Info("submission rejected", zap.String("label", person.Label), zap.String("want", p.target))
		return 0, &types.IdentityMismatchError{Got: person.Label, Want: p.target}
	}

	mime := snap.Metadata.MIMEType
	if mime == "" {
		mime = p.defaultMIME
	}
	recordID, err = p.records.Append(ctx, record.Record{
		Creator:      snap.Creator,
		Image:        snap.Content,
		MIMEType:     mime,
		ApprovedAt:   p.now(),
		Score:        person.Score,
		SubmissionID: snap.ID,
		RecognizedAs: person.Label,
	})
	if err != nil {
		return 0, err
	}

	outcome = OutcomeApproved
	logger.Info("submission approved",
		zap.Uint64("record", recordID),
		zap.String("creator", string(snap.Creator)),
		zap.Float32("score", person.Score),
	)
	return recordID, nil
}

func (p *Pipeline) detect(ctx context.Context, image []byte) (types.BoundingBox, error) {
	start := time.Now()
	defer func() {
		metrics.VerificationDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	}()
	box, err := p.detector.Detect(ctx, image)
	if err != nil {
		return types.BoundingBox{}, asDetectionFailure(err)
	}
	return box, nil
}

func (p *Pipeline) recognize(ctx context.Context, image []byte) (types.Person, error) {
	start := time.Now()
	defer func() {
		metrics.VerificationDuration.WithLabelValues("recognize").Observe(time.Since(start).Seconds())
	}()
	person, err := p.recognizer.Recognize(ctx, image)
	if err != nil {
		return types.Person{}, asRecognitionFailure(err)
	}
	return person, nil
}

func asDetectionFailure(err error) error {
	var dfe *types.DetectionFailedError
	if errors.As(err, &dfe) {
		return err
	}
	return &types.DetectionFailedError{Reason: err.Error()}
}

func asRecognitionFailure(err error) error {
	var rfe *types.RecognitionFailedError
	if errors.As(err, &rfe) {
		return err
	}
	return &types.RecognitionFailedError{Reason: err.Error()}
}
