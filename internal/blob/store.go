package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/types"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// S3API is the subset of *s3.Client the snapshot store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

const (
	CodecZstd = "zstd"
	CodecNone = "none"

	metaRegion = "artgate-region"
	metaLength = "artgate-length"
	metaCodec  = "artgate-codec"
)

// Object describes one uploaded region image.
type Object struct {
	Key    string
	Region types.RegionID
	Length uint64 // logical bytes before compression
	Stored int64  // bytes written to the bucket
	Codec  string
}

// Store uploads and downloads region images in an S3-compatible bucket.
type Store struct {
	s3     S3API
	bucket string
	prefix string
	codec  string
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *zap.Logger
}

// NewStore creates a snapshot store using an S3API implementation.
func NewStore(s3api S3API, cfg config.SnapshotConfig, logger *zap.Logger) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	codec := cfg.Compression
	if codec == "" {
		codec = CodecZstd
	}
	return &Store{
		s3:     s3api,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		codec:  codec,
		enc:    enc,
		dec:    dec,
		logger: logger,
	}, nil
}

func (s *Store) objectKey(region types.RegionID, id string) string {
	if s.prefix != "" {
		return fmt.Sprintf("%s/regions/%03d/%s.snap", s.prefix, uint8(region), id)
	}
	return fmt.Sprintf("regions/%03d/%s.snap", uint8(region), id)
}

// Put uploads data as snapshot id of region.
func (s *Store) Put(ctx context.Context, region types.RegionID, id string, data []byte) (*Object, error) {
	key := s.objectKey(region, id)
	start := time.Now()

	body := data
	if s.codec == CodecZstd {
		body = s.enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	}

	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			metaRegion: strconv.Itoa(int(region)),
			metaLength: strconv.Itoa(len(data)),
			metaCodec:  s.codec,
		},
	})
	metrics.SnapshotDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SnapshotErrors.WithLabelValues("upload", region.String()).Inc()
		return nil, fmt.Errorf("uploading snapshot of region %s: %w", region, err)
	}
	metrics.SnapshotBytes.WithLabelValues("upload", region.String()).Add(float64(len(body)))

	s.logger.Debug("region snapshot uploaded",
		zap.Stringer("region", region),
		zap.String("key", key),
		zap.Int("length", len(data)),
		zap.Int("stored", len(body)),
	)
	return &Object{
		Key:    key,
		Region: region,
		Length: uint64(len(data)),
		Stored: int64(len(body)),
		Codec:  s.codec,
	}, nil
}

// Get downloads and decodes the snapshot at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		metrics.SnapshotErrors.WithLabelValues("download", "").Inc()
		return nil, fmt.Errorf("downloading snapshot %s: %w", key, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 response: %w", err)
	}
	metrics.SnapshotDuration.WithLabelValues("download").Observe(time.Since(start).Seconds())

	region := resp.Metadata[metaRegion]
	metrics.SnapshotBytes.WithLabelValues("download", region).Add(float64(len(raw)))

	data := raw
	switch codec := resp.Metadata[metaCodec]; codec {
	case CodecZstd:
		data, err = s.dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing snapshot %s: %w", key, err)
		}
	case CodecNone, "":
	default:
		return nil, fmt.Errorf("snapshot %s has unknown codec %q", key, codec)
	}

	if want, ok := resp.Metadata[metaLength]; ok {
		n, err := strconv.Atoi(want)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s has invalid length %q", key, want)
		}
		if n != len(data) {
			return nil, fmt.Errorf("snapshot %s decoded to %d bytes, want %d", key, len(data), n)
		}
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return false, nil // treat any error as not found
	}
	return true, nil
}

func (s *Store) Close() error {
	s.dec.Close()
	return s.enc.Close()
}
