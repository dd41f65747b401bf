// Package models stores the face detection and recognition model blobs in
// their own regions and hands them to the inference workers.
package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/gftdcojp/artgate/internal/inference"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

// Kind selects one of the two model blobs.
type Kind int

const (
	Detection Kind = iota
	Recognition
)

func (k Kind) String() string {
	switch k {
	case Detection:
		return "detection"
	case Recognition:
		return "recognition"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Region returns the page store region holding k.
func (k Kind) Region() types.RegionID {
	if k == Recognition {
		return types.RegionRecognitionModel
	}
	return types.RegionDetectionModel
}

// FileName returns the legacy file name of k.
func (k Kind) FileName() string {
	if k == Recognition {
		return inference.RecognitionModelObject
	}
	return inference.DetectionModelObject
}

// ParseKind accepts a kind name or a legacy model file name.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "detection", inference.DetectionModelObject:
		return Detection, nil
	case "recognition", inference.RecognitionModelObject:
		return Recognition, nil
	}
	return 0, fmt.Errorf("model %q: %w", name, types.ErrNotFound)
}

// Stats reports the stored size of each model.
type Stats struct {
	Detection   uint64 `json:"detection"`
	Recognition uint64 `json:"recognition"`
}

// Manager appends, reads and clears model bytes.
type Manager struct {
	store  *pagestore.Store
	loader inference.ModelLoader
	logger *zap.Logger
}

// NewManager creates a manager. loader may be nil when no workers are
// configured; Setup then fails.
func NewManager(store *pagestore.Store, loader inference.ModelLoader, logger *zap.Logger) *Manager {
	return &Manager{store: store, loader: loader, logger: logger}
}

// Append adds p to the end of model k and returns the new size.
func (m *Manager) Append(ctx context.Context, k Kind, p []byte) (uint64, error) {
	n, err := m.store.Append(ctx, k.Region(), p)
	if err != nil {
		return 0, fmt.Errorf("appending %s model: %w", k, err)
	}
	m.logger.Debug("model bytes appended", zap.Stringer("model", k), zap.Int("bytes", len(p)), zap.Uint64("size", n))
	return n, nil
}

// Clear empties model k. Its pages stay allocated.
func (m *Manager) Clear(ctx context.Context, k Kind) error {
	if err := m.store.Clear(ctx, k.Region()); err != nil {
		return fmt.Errorf("clearing %s model: %w", k, err)
	}
	m.logger.Info("model cleared", zap.Stringer("model", k))
	return nil
}

// Bytes returns a copy of model k.
func (m *Manager) Bytes(ctx context.Context, k Kind) ([]byte, error) {
	return m.store.ReadAll(ctx, k.Region())
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	det, err := m.store.Stats(ctx, Detection.Region())
	if err != nil {
		return Stats{}, err
	}
	rec, err := m.store.Stats(ctx, Recognition.Region())
	if err != nil {
		return Stats{}, err
	}
	return Stats{Detection: det.Length, Recognition: rec.Length}, nil
}

// Setup reads both models and passes them to the loader.
func (m *Manager) Setup(ctx context.Context) error {
	if m.loader == nil {
		return errors.New("no model loader configured")
	}
	det, err := m.Bytes(ctx, Detection)
	if err != nil {
		return err
	}
	rec, err := m.Bytes(ctx, Recognition)
	if err != nil {
		return err
	}
	if len(det) == 0 {
		return fmt.Errorf("detection model: %w", types.ErrEmptyContent)
	}
	if len(rec) == 0 {
		return fmt.Errorf("recognition model: %w", types.ErrEmptyContent)
	}

	m.logger.Info("setting up models", zap.Int("detection_bytes", len(det)), zap.Int("recognition_bytes", len(rec)))
	if err := m.loader.LoadModels(ctx, det, rec); err != nil {
		return fmt.Errorf("loading models: %w", err)
	}
	return nil
}
