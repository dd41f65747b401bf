package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// ChunkSink stores one chunk. It reports false when the submission is
// unknown.
type ChunkSink interface {
	PutChunk(ctx context.Context, id uint64, index int, data []byte) (bool, error)
}

// PipelineConfig holds dependencies for the ingest pipeline.
type PipelineConfig struct {
	JS     jetstream.JetStream
	Sink   ChunkSink
	Ingest config.IngestConfig
	Logger *zap.Logger
}

// Pipeline applies chunk messages from a JetStream stream. Each message is
// acked only after the chunk is stored, so delivery is at least once;
// replays are harmless because chunk writes are idempotent by index.
type Pipeline struct {
	js            jetstream.JetStream
	sink          ChunkSink
	cfg           config.IngestConfig
	logger        *zap.Logger
	consumeStream string
	isMirror      bool
}

// NewPipeline creates a new ingest pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		js:     cfg.JS,
		sink:   cfg.Sink,
		cfg:    cfg.Ingest,
		logger: cfg.Logger,
	}
}

// Run starts the ingest loop, consuming from JetStream until ctx ends.
func (p *Pipeline) Run(ctx context.Context) error {
	res, err := resolveConsumerStream(ctx, p.js, p.cfg, p.logger)
	if err != nil {
		return fmt.Errorf("resolving consumer stream for %s: %w", p.cfg.Stream, err)
	}
	p.consumeStream = res.ConsumeStream
	p.isMirror = res.IsMirror

	batchSize := p.cfg.FetchBatch
	if batchSize == 0 {
		batchSize = 64
	}
	fetchTimeout := p.cfg.FetchTimeout.Duration()
	if fetchTimeout == 0 {
		fetchTimeout = 5 * time.Second
	}

	consumerCfg := jetstream.ConsumerConfig{
		Durable:       p.cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxAckPending: batchSize * 4,
	}
	// Mirror streams replicate all messages, so filtering is unnecessary.
	if !p.isMirror && len(p.cfg.Subjects) > 0 {
		consumerCfg.FilterSubjects = p.cfg.Subjects
	}

	cons, err := p.js.CreateOrUpdateConsumer(ctx, p.consumeStream, consumerCfg)
	if err != nil {
		return fmt.Errorf("creating consumer %s on stream %s: %w", p.cfg.ConsumerName, p.consumeStream, err)
	}

	p.logger.Info("chunk ingest started",
		zap.String("stream", p.cfg.Stream),
		zap.String("consume_stream", p.consumeStream),
		zap.Bool("is_mirror", p.isMirror),
		zap.String("consumer", p.cfg.ConsumerName),
		zap.Int("fetch_batch", batchSize),
	)

	fetchErrors := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(fetchTimeout))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			fetchErrors++
			delay := calcBackoff(fetchErrors, time.Second, time.Minute)
			p.logger.Warn("fetch error, retrying", zap.Error(err), zap.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		fetchErrors = 0

		for msg := range msgs.Messages() {
			p.handle(ctx, msg)
		}

		if err := msgs.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) && ctx.Err() == nil {
			p.logger.Warn("batch error", zap.Error(err))
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, msg jetstream.Msg) {
	if md, err := msg.Metadata(); err == nil {
		metrics.ConsumerLag.Set(float64(md.NumPending))
	}

	id, index, err := ParseChunkSubject(msg.Subject())
	if err != nil {
		p.logger.Warn("dropping malformed chunk message", zap.String("subject", msg.Subject()), zap.Error(err))
		metrics.IngestMessages.WithLabelValues("invalid").Inc()
		p.term(msg)
		return
	}

	stored, err := p.sink.PutChunk(ctx, id, index, msg.Data())
	switch {
	case err != nil:
		// Rejected chunks would fail again on redelivery.
		p.logger.Warn("chunk rejected",
			zap.Uint64("submission", id), zap.Int("index", index), zap.Error(err))
		metrics.IngestMessages.WithLabelValues("rejected").Inc()
		p.term(msg)
		return
	case !stored:
		metrics.IngestMessages.WithLabelValues("dropped").Inc()
	default:
		metrics.IngestMessages.WithLabelValues("ok").Inc()
	}

	if err := msg.Ack(); err != nil {
		p.logger.Warn("failed to ack message", zap.Error(err))
	}
}

func (p *Pipeline) term(msg jetstream.Msg) {
	if err := msg.Term(); err != nil {
		p.logger.Warn("failed to terminate message", zap.Error(err))
	}
}

// ParseChunkSubject extracts the submission id and chunk index from a
// subject of the form <prefix>.chunks.<id>.<index>.
func ParseChunkSubject(subject string) (uint64, int, error) {
	tokens := strings.Split(subject, ".")
	n := len(tokens)
	if n < 3 || tokens[n-3] != "chunks" {
		return 0, 0, fmt.Errorf("subject %q is not <prefix>.chunks.<id>.<index>", subject)
	}
	id, err := strconv.ParseUint(tokens[n-2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid submission id %q", tokens[n-2])
	}
	index, err := strconv.Atoi(tokens[n-1])
	if err != nil || index < 0 {
		return 0, 0, fmt.Errorf("invalid chunk index %q", tokens[n-1])
	}
	return id, index, nil
}

// ChunkSubject is the inverse of ParseChunkSubject.
func ChunkSubject(prefix string, id uint64, index int) string {
	return fmt.Sprintf("%s.chunks.%d.%d", prefix, id, index)
}

// Stream returns the stream name this pipeline is consuming.
func (p *Pipeline) Stream() string {
	return p.cfg.Stream
}
