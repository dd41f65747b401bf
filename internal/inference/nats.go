package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/types"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Object names used when handing models to the workers.
const (
	DetectionModelObject   = "face-detection.onnx"
	RecognitionModelObject = "face-recognition.onnx"
)

// Reply is the envelope every inference worker answers with. Exactly one of
// OK or Err is set.
type Reply struct {
	OK  json.RawMessage `json:"ok,omitempty"`
	Err string          `json:"err,omitempty"`
}

// SetupRequest tells the workers where to fetch the models from.
type SetupRequest struct {
	Bucket      string `json:"bucket"`
	Detection   string `json:"detection"`
	Recognition string `json:"recognition"`
}

// Client talks to inference workers over NATS request/reply. Images are
// sent as the raw request body on {prefix}.detect, {prefix}.recognize and
// {prefix}.embed.
type Client struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	prefix  string
	timeout time.Duration
	bucket  string
	logger  *zap.Logger
}

// NewClient creates a NATS inference client.
func NewClient(nc *nats.Conn, js jetstream.JetStream, cfg config.InferenceConfig, logger *zap.Logger) *Client {
	return &Client{
		nc:      nc,
		js:      js,
		prefix:  cfg.SubjectPrefix,
		timeout: cfg.Timeout.Duration(),
		bucket:  cfg.ModelsBucket,
		logger:  logger,
	}
}

func (c *Client) Detect(ctx context.Context, image []byte) (types.BoundingBox, error) {
	var box types.BoundingBox
	if err := c.call(ctx, "detect", image, &box); err != nil {
		return types.BoundingBox{}, &types.DetectionFailedError{Reason: err.Error()}
	}
	return box, nil
}

func (c *Client) Recognize(ctx context.Context, image []byte) (types.Person, error) {
	var person types.Person
	if err := c.call(ctx, "recognize", image, &person); err != nil {
		return types.Person{}, &types.RecognitionFailedError{Reason: err.Error()}
	}
	return person, nil
}

func (c *Client) Embed(ctx context.Context, image []byte) ([]float32, error) {
	var vec []float32
	if err := c.call(ctx, "embed", image, &vec); err != nil {
		return nil, fmt.Errorf("embedding image: %w", err)
	}
	return vec, nil
}

// LoadModels uploads both models to the JetStream object store and asks the
// workers to load them.
func (c *Client) LoadModels(ctx context.Context, detection, recognition []byte) error {
	if c.js == nil {
		return errors.New("model hand-off requires JetStream")
	}
	obs, err := c.js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      c.bucket,
		Description: "artgate inference models",
	})
	if err != nil {
		return fmt.Errorf("opening object store %s: %w", c.bucket, err)
	}
	for name, data := range map[string][]byte{
		DetectionModelObject:   detection,
		RecognitionModelObject: recognition,
	} {
		if _, err := obs.PutBytes(ctx, name, data); err != nil {
			return fmt.Errorf("uploading %s: %w", name, err)
		}
		c.logger.Info("model uploaded", zap.String("object", name), zap.Int("bytes", len(data)))
	}

	req, err := json.Marshal(SetupRequest{
		Bucket:      c.bucket,
		Detection:   DetectionModelObject,
		Recognition: RecognitionModelObject,
	})
	if err != nil {
		return err
	}
	if err := c.call(ctx, "setup", req, nil); err != nil {
		return fmt.Errorf("setting up models: %w", err)
	}
	return nil
}

// call sends body to {prefix}.{op} and decodes the OK payload into out.
func (c *Client) call(ctx context.Context, op string, body []byte, out any) error {
	subject := c.prefix + "." + op
	start := time.Now()

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, subject, body)
	metrics.InferenceLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InferenceRequests.WithLabelValues(op, "transport_error").Inc()
		c.logger.Warn("inference request failed", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("request %s: %w", subject, err)
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		metrics.InferenceRequests.WithLabelValues(op, "bad_reply").Inc()
		return fmt.Errorf("decoding %s reply: %w", op, err)
	}
	if reply.Err != "" {
		metrics.InferenceRequests.WithLabelValues(op, "error").Inc()
		return errors.New(reply.Err)
	}
	metrics.InferenceRequests.WithLabelValues(op, "ok").Inc()

	if out == nil {
		return nil
	}
	if len(reply.OK) == 0 {
		return fmt.Errorf("empty %s reply", op)
	}
	if err := json.Unmarshal(reply.OK, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", op, err)
	}
	return nil
}
