package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultChunkSize keeps chunks well under the default NATS max payload.
const DefaultChunkSize = 256 * 1024

// Config configures the artgate client.
type Config struct {
	// NC is the NATS connection.
	NC *nats.Conn

	// JS, when set, makes Upload publish chunks to the durable chunk
	// stream instead of calling the responder.
	JS jetstream.JetStream

	// SubjectPrefix is the responder's subject prefix.
	// Defaults to "artgate.api".
	SubjectPrefix string

	// ChunkSubjectPrefix prefixes durable chunk subjects
	// ({prefix}.chunks.{id}.{index}). Defaults to "artgate".
	ChunkSubjectPrefix string

	// Principal is sent with every request. Empty means anonymous.
	Principal string

	// Timeout for requests whose context has no deadline. Defaults to 30s.
	Timeout time.Duration
}

// Client calls the artgate NATS responder.
type Client struct {
	nc          *nats.Conn
	js          jetstream.JetStream
	prefix      string
	chunkPrefix string
	principal   string
	timeout     time.Duration
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.NC == nil {
		return nil, fmt.Errorf("artgate: NC (NATS connection) is required")
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	chunkPrefix := cfg.ChunkSubjectPrefix
	if chunkPrefix == "" {
		chunkPrefix = "artgate"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		nc:          cfg.NC,
		js:          cfg.JS,
		prefix:      prefix,
		chunkPrefix: chunkPrefix,
		principal:   cfg.Principal,
		timeout:     timeout,
	}, nil
}

// Start opens a submission owned by the configured principal.
func (c *Client) Start(ctx context.Context) (uint64, error) {
	var res StartResult
	if err := c.call(ctx, OpStart, nil, &res); err != nil {
		return 0, err
	}
	return res.ID, nil
}

// PutChunk stores chunk index of submission id. It reports false when the
// server does not know the submission.
func (c *Client) PutChunk(ctx context.Context, id uint64, index int, data []byte) (bool, error) {
	msg := nats.NewMsg(c.subject(OpChunk))
	msg.Header.Set(HeaderSubmission, strconv.FormatUint(id, 10))
	msg.Header.Set(HeaderIndex, strconv.Itoa(index))
	msg.Data = data

	var res ChunkResult
	if err := c.request(ctx, msg, &res); err != nil {
		return false, err
	}
	return res.Stored, nil
}

// PublishChunk sends a chunk through the durable chunk stream. The server
// applies it asynchronously.
func (c *Client) PublishChunk(ctx context.Context, id uint64, index int, data []byte) error {
	if c.js == nil {
		return fmt.Errorf("artgate: JS (JetStream context) is required for durable chunks")
	}
	subject := fmt.Sprintf("%s.chunks.%d.%d", c.chunkPrefix, id, index)
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("artgate: publishing chunk %d of submission %d: %w", index, id, err)
	}
	return nil
}

// Finalize declares the submission's MIME type, size and SHA-256.
func (c *Client) Finalize(ctx context.Context, id uint64, mimeType string, size uint64, sum []byte) (bool, error) {
	req := FinalizeRequest{ID: id, MIMEType: mimeType, Size: size}
	if len(sum) > 0 {
		req.SHA256 = hex.EncodeToString(sum)
	}
	var res FinalizeResult
	if err := c.call(ctx, OpFinalize, req, &res); err != nil {
		return false, err
	}
	return res.Finalized, nil
}

// Upload starts a submission, sends r in chunks of chunkSize bytes and
// finalizes it. A chunkSize of zero uses DefaultChunkSize.
func (c *Client) Upload(ctx context.Context, r io.Reader, mimeType string, chunkSize int) (uint64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	id, err := c.Start(ctx)
	if err != nil {
		return 0, err
	}

	h := sha256.New()
	buf := make([]byte, chunkSize)
	var size uint64
	for index := 0; ; index++ {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			chunk := buf[:n]
			h.Write(chunk)
			size += uint64(n)
			if c.js != nil {
				err = c.PublishChunk(ctx, id, index, chunk)
			} else {
				_, err = c.PutChunk(ctx, id, index, chunk)
			}
			if err != nil {
				return id, err
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return id, fmt.Errorf("artgate: reading upload: %w", rerr)
		}
	}

	if _, err := c.Finalize(ctx, id, mimeType, size, h.Sum(nil)); err != nil {
		return id, err
	}
	return id, nil
}

func (c *Client) Submission(ctx context.Context, id uint64) (*Submission, error) {
	var res Submission
	if err := c.call(ctx, OpSubmission, IDRequest{ID: id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Detect runs face detection on submission id.
func (c *Client) Detect(ctx context.Context, id uint64) (BoundingBox, error) {
	var res BoundingBox
	err := c.call(ctx, OpDetect, IDRequest{ID: id}, &res)
	return res, err
}

// Verify runs the verification pipeline and returns the new record id.
func (c *Client) Verify(ctx context.Context, id uint64) (uint64, error) {
	var res VerifyResult
	if err := c.call(ctx, OpVerify, IDRequest{ID: id}, &res); err != nil {
		return 0, err
	}
	return res.RecordID, nil
}

// EnrollVector stores vector under label.
func (c *Client) EnrollVector(ctx context.Context, label string, vector []float32) ([]float32, error) {
	var res EnrollResult
	if err := c.call(ctx, OpEnroll, EnrollRequest{Label: label, Vector: vector}, &res); err != nil {
		return nil, err
	}
	return res.Vector, nil
}

// EnrollImage asks the server to embed image and store it under label.
func (c *Client) EnrollImage(ctx context.Context, label string, image []byte) ([]float32, error) {
	msg := nats.NewMsg(c.subject(OpEnrollImage))
	msg.Header.Set(HeaderLabel, label)
	msg.Data = image

	var res EnrollResult
	if err := c.request(ctx, msg, &res); err != nil {
		return nil, err
	}
	return res.Vector, nil
}

func (c *Client) RemoveFace(ctx context.Context, label string) error {
	return c.call(ctx, OpRemoveFace, LabelRequest{Label: label}, nil)
}

func (c *Client) Faces(ctx context.Context) ([]string, error) {
	var res LabelsResult
	if err := c.call(ctx, OpFaces, nil, &res); err != nil {
		return nil, err
	}
	return res.Labels, nil
}

func (c *Client) FaceCount(ctx context.Context) (int, error) {
	var res CountResult
	err := c.call(ctx, OpFaceCount, nil, &res)
	return res.Count, err
}

func (c *Client) Record(ctx context.Context, id uint64) (*Record, error) {
	var res Record
	if err := c.call(ctx, OpRecord, IDRequest{ID: id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Records lists approved records. Images are left out unless withImages.
func (c *Client) Records(ctx context.Context, withImages bool) ([]Record, error) {
	var res []Record
	if err := c.call(ctx, OpRecords, ListRecordsRequest{Images: withImages}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) RecordCount(ctx context.Context) (int, error) {
	var res CountResult
	err := c.call(ctx, OpRecordCount, nil, &res)
	return res.Count, err
}

func (c *Client) Regions(ctx context.Context) ([]Region, error) {
	var res []Region
	if err := c.call(ctx, OpRegions, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) subject(op string) string {
	return c.prefix + "." + op
}

// call sends req as JSON on op and decodes the result into out.
func (c *Client) call(ctx context.Context, op string, req, out any) error {
	msg := nats.NewMsg(c.subject(op))
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("artgate: encoding %s request: %w", op, err)
		}
		msg.Data = data
	}
	return c.request(ctx, msg, out)
}

func (c *Client) request(ctx context.Context, msg *nats.Msg, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.principal != "" {
		msg.Header.Set(HeaderPrincipal, c.principal)
	}

	reply, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("artgate: request %s: %w", msg.Subject, err)
	}

	var resp Response
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return fmt.Errorf("artgate: decoding response: %w", err)
	}
	if resp.Error != "" {
		return &Error{Code: resp.Code, Message: resp.Error}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("artgate: decoding result: %w", err)
	}
	return nil
}
