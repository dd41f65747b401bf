// Package inference defines the capabilities the verification pipeline
// needs from the outside world and provides implementations of them.
package inference

import (
	"context"

	"github.com/gftdcojp/artgate/internal/types"
)

// Detector finds a face in an image. Failures are *types.DetectionFailedError.
type Detector interface {
	Detect(ctx context.Context, image []byte) (types.BoundingBox, error)
}

// Recognizer identifies the face in an image. Failures are
// *types.RecognitionFailedError.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (types.Person, error)
}

// Embedder turns an image into a feature vector.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
}

// ModelLoader installs the detection and recognition models in the
// inference workers.
type ModelLoader interface {
	LoadModels(ctx context.Context, detection, recognition []byte) error
}
