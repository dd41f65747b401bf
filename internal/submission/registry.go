// Package submission tracks in-flight chunked uploads. State lives for the
// lifetime of the process only; ids are drawn from a durable sequence so
// they are never reused across restarts.
package submission

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

const sequenceName = "submissions"

// Sequencer hands out strictly increasing ids.
type Sequencer interface {
	NextSequence(ctx context.Context, name string) (uint64, error)
}

// Metadata is what a client declares when it finalizes an upload. None of
// it is checked against the received chunks.
type Metadata struct {
	MIMEType string `json:"mime_type"`
	Size     uint64 `json:"size"`
	SHA256   []byte `json:"sha256,omitempty"`
}

// Info is a point-in-time view of a submission without its chunk bytes.
type Info struct {
	ID        uint64          `json:"id"`
	Creator   types.Principal `json:"creator"`
	Chunks    int             `json:"chunks"`
	Size      uint64          `json:"size"`
	Finalized bool            `json:"finalized"`
	Metadata  Metadata        `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Snapshot is an immutable copy of a submission handed to the pipeline.
type Snapshot struct {
	ID        uint64
	Creator   types.Principal
	Content   []byte
	Finalized bool
	Metadata  Metadata
}

type submission struct {
	id        uint64
	creator   types.Principal
	chunks    [][]byte
	finalized bool
	meta      Metadata
	createdAt time.Time
	updatedAt time.Time
}

func (s *submission) size() uint64 {
	var n uint64
	for _, c := range s.chunks {
		n += uint64(len(c))
	}
	return n
}

func (s *submission) info() Info {
	return Info{
		ID:        s.id,
		Creator:   s.creator,
		Chunks:    len(s.chunks),
		Size:      s.size(),
		Finalized: s.finalized,
		Metadata:  s.meta,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

// Config holds registry options.
type Config struct {
	// Sequencer issues ids. Nil uses a process-local counter starting at 1.
	Sequencer Sequencer
	// MaxChunks rejects chunk indices at or above it. Zero means unlimited.
	MaxChunks int
	Now       func() time.Time
	Logger    *zap.Logger
}

// Registry holds every open submission.
type Registry struct {
	mu        sync.Mutex
	subs      map[uint64]*submission
	seq       Sequencer
	local     uint64
	maxChunks int
	now       func() time.Time
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		subs:      make(map[uint64]*submission),
		seq:       cfg.Sequencer,
		maxChunks: cfg.MaxChunks,
		now:       now,
		logger:    logger,
	}
}

// Start opens a submission owned by creator and returns its id.
func (r *Registry) Start(ctx context.Context, creator types.Principal) (uint64, error) {
	id, err := r.nextID(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocating submission id: %w", err)
	}

	now := r.now()
	r.mu.Lock()
	r.subs[id] = &submission{id: id, creator: creator, createdAt: now, updatedAt: now}
	open := len(r.subs)
	r.mu.Unlock()

	metrics.SubmissionsStarted.Inc()
	metrics.SubmissionsOpen.Set(float64(open))
	r.logger.Debug("submission started", zap.Uint64("id", id), zap.String("creator", string(creator)))
	return id, nil
}

func (r *Registry) nextID(ctx context.Context) (uint64, error) {
	if r.seq != nil {
		return r.seq.NextSequence(ctx, sequenceName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local++
	return r.local, nil
}

// PutChunk stores data at index, extending the chunk list with empty
// placeholders as needed. Unknown ids are ignored so that late or
// duplicated deliveries are harmless. It reports whether the chunk was
// stored.
func (r *Registry) PutChunk(id uint64, index int, data []byte) (bool, error) {
	if index < 0 {
		return false, fmt.Errorf("chunk index %d is negative", index)
	}
	if r.maxChunks > 0 && index >= r.maxChunks {
		return false, fmt.Errorf("chunk index %d exceeds limit of %d chunks", index, r.maxChunks)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		r.logger.Debug("chunk for unknown submission dropped", zap.Uint64("id", id), zap.Int("index", index))
		return false, nil
	}
	for len(sub.chunks) <= index {
		sub.chunks = append(sub.chunks, []byte{})
	}
	sub.chunks[index] = append([]byte{}, data...)
	sub.updatedAt = r.now()

	r.logger.Debug("chunk stored",
		zap.Uint64("id", id),
		zap.Int("index", index),
		zap.Int("bytes", len(data)),
	)
	return true, nil
}

// Finalize attaches declared metadata. Unknown ids are ignored.
func (r *Registry) Finalize(id uint64, meta Metadata) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return false
	}
	meta.SHA256 = append([]byte(nil), meta.SHA256...)
	sub.meta = meta
	sub.finalized = true
	sub.updatedAt = r.now()
	return true
}

// Assemble concatenates the chunks of id in index order.
func (r *Registry) Assemble(id uint64) ([]byte, error) {
	snap, err := r.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return snap.Content, nil
}

// Snapshot returns the creator, metadata and assembled content of id. It
// fails with types.ErrNotFound for unknown ids and types.ErrEmptyContent
// when the chunks add up to zero bytes.
func (r *Registry) Snapshot(id uint64) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil, fmt.Errorf("submission %d: %w", id, types.ErrNotFound)
	}
	size := sub.size()
	if size == 0 {
		return nil, fmt.Errorf("submission %d: %w", id, types.ErrEmptyContent)
	}

	content := make([]byte, 0, size)
	for _, c := range sub.chunks {
		content = append(content, c...)
	}
	meta := sub.meta
	meta.SHA256 = append([]byte(nil), meta.SHA256...)
	return &Snapshot{
		ID:        sub.id,
		Creator:   sub.creator,
		Content:   content,
		Finalized: sub.finalized,
		Metadata:  meta,
	}, nil
}

// Info describes id without copying its chunks.
func (r *Registry) Info(id uint64) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return Info{}, fmt.Errorf("submission %d: %w", id, types.ErrNotFound)
	}
	return sub.info(), nil
}

// List describes every open submission in id order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of open submissions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Delete drops id. It reports whether id existed.
func (r *Registry) Delete(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	metrics.SubmissionsOpen.Set(float64(len(r.subs)))
	return true
}

// Sweep drops every submission not updated since cutoff and returns the
// dropped ids.
func (r *Registry) Sweep(cutoff time.Time) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []uint64
	for id, sub := range r.subs {
		if sub.updatedAt.Before(cutoff) {
			delete(r.subs, id)
			dropped = append(dropped, id)
		}
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })
	metrics.SubmissionsOpen.Set(float64(len(r.subs)))
	return dropped
}
