// Package embedding implements the keyed embedding table: a persistent map
// from identity label to feature vector stored as an upsert/remove log in
// the embeddings region.
package embedding

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gftdcojp/artgate/internal/codec"
	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

// compactMinBytes keeps small logs from being rewritten on every remove.
const compactMinBytes = types.PageSize

// Entry is one label and its vector.
type Entry struct {
	Label  string    `json:"label"`
	Vector []float32 `json:"vector"`
}

// Table is the in-memory view of the embeddings region. Every mutation is
// appended to the region before the view changes.
type Table struct {
	mu       sync.RWMutex
	store    *pagestore.Store
	region   types.RegionID
	entries  map[string][]float32
	logBytes uint64
	logger   *zap.Logger
}

// Open replays the embeddings region into a new table.
func Open(ctx context.Context, store *pagestore.Store, logger *zap.Logger) (*Table, error) {
	t := &Table{
		store:   store,
		region:  types.RegionEmbeddings,
		entries: make(map[string][]float32),
		logger:  logger,
	}
	if err := t.Reload(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload discards the in-memory view and rebuilds it from the region.
func (t *Table) Reload(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, err := t.store.ReadAll(ctx, t.region)
	if err != nil {
		return fmt.Errorf("reading embeddings region: %w", err)
	}

	entries := make(map[string][]float32)
	err = codec.Scan(raw, func(offset int64, f codec.Frame) error {
		switch f.Kind {
		case codec.KindUpsert:
			v, err := codec.DecodeVector(f.Payload)
			if err != nil {
				return fmt.Errorf("embedding %q at offset %d: %w", f.Key, offset, err)
			}
			entries[f.Key] = v
		case codec.KindRemove:
			delete(entries, f.Key)
		default:
			return fmt.Errorf("unexpected %s frame at offset %d", f.Kind, offset)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replaying embeddings: %w", err)
	}

	t.entries = entries
	t.logBytes = uint64(len(raw))
	metrics.EmbeddingsTotal.Set(float64(len(entries)))
	t.logger.Info("embedding table loaded",
		zap.Int("entries", len(entries)),
		zap.Uint64("log_bytes", t.logBytes),
	)
	return nil
}

// Upsert stores v under label, replacing any previous vector. The vector is
// stored verbatim; dimensionality is not checked.
func (t *Table) Upsert(ctx context.Context, label string, v []float32) error {
	frame, err := codec.Encode(codec.Frame{Kind: codec.KindUpsert, Key: label, Payload: codec.EncodeVector(v)})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.store.Append(ctx, t.region, frame)
	if err != nil {
		return fmt.Errorf("appending embedding %q: %w", label, err)
	}
	t.logBytes = n
	t.entries[label] = append([]float32(nil), v...)
	metrics.EmbeddingsTotal.Set(float64(len(t.entries)))

	t.logger.Debug("embedding upserted", zap.String("label", label), zap.Int("dim", len(v)))
	return nil
}

// Lookup returns a copy of the vector stored under label.
func (t *Table) Lookup(label string) ([]float32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[label]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

// Remove deletes label. Unknown labels report types.ErrNotFound.
func (t *Table) Remove(ctx context.Context, label string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[label]; !ok {
		return fmt.Errorf("embedding %q: %w", label, types.ErrNotFound)
	}
	frame, err := codec.Encode(codec.Frame{Kind: codec.KindRemove, Key: label})
	if err != nil {
		return err
	}
	n, err := t.store.Append(ctx, t.region, frame)
	if err != nil {
		return fmt.Errorf("appending removal of %q: %w", label, err)
	}
	t.logBytes = n
	delete(t.entries, label)
	metrics.EmbeddingsTotal.Set(float64(len(t.entries)))

	t.logger.Debug("embedding removed", zap.String("label", label))
	return t.maybeCompact(ctx)
}

// List returns every entry ordered by label.
func (t *Table) List() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.entries))
	for label, v := range t.entries {
		out = append(out, Entry{Label: label, Vector: append([]float32(nil), v...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Labels returns every label in order.
func (t *Table) Labels() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.entries))
	for label := range t.entries {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of live entries.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Compact rewrites the region so it holds exactly one upsert per live entry.
func (t *Table) Compact(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.compactLocked(ctx)
}

func (t *Table) maybeCompact(ctx context.Context) error {
	live := t.liveBytes()
	if t.logBytes < compactMinBytes || t.logBytes < 2*live {
		return nil
	}
	return t.compactLocked(ctx)
}

func (t *Table) liveBytes() uint64 {
	var n uint64
	for label, v := range t.entries {
		n += uint64(codec.Frame{Key: label, Payload: make([]byte, 4*len(v))}.Size())
	}
	return n
}

func (t *Table) compactLocked(ctx context.Context) error {
	labels := make([]string, 0, len(t.entries))
	for label := range t.entries {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var buf []byte
	for _, label := range labels {
		frame, err := codec.Encode(codec.Frame{Kind: codec.KindUpsert, Key: label, Payload: codec.EncodeVector(t.entries[label])})
		if err != nil {
			return err
		}
		buf = append(buf, frame...)
	}

	before := t.logBytes
	n, err := t.store.Replace(ctx, t.region, buf)
	if err != nil {
		return fmt.Errorf("compacting embeddings: %w", err)
	}
	t.logBytes = n
	metrics.EmbeddingCompactions.Inc()
	t.logger.Info("embedding log compacted",
		zap.Uint64("before_bytes", before),
		zap.Uint64("after_bytes", n),
		zap.Int("entries", len(labels)),
	)
	return nil
}
