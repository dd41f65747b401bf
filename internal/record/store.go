// Package record implements the append-only store of approved artworks.
package record

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gftdcojp/artgate/internal/codec"
	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/types"
	"go.uber.org/zap"
)

// Record is an admitted artwork. Records are never mutated once stored.
type Record struct {
	ID           uint64          `json:"id"`
	Creator      types.Principal `json:"creator"`
	Image        []byte          `json:"image,omitempty"`
	MIMEType     string          `json:"mime_type"`
	ApprovedAt   time.Time       `json:"approved_at"`
	Score        float32         `json:"score"`
	SubmissionID uint64          `json:"submission_id"`
	RecognizedAs string          `json:"recognized_as"`
}

type span struct {
	off uint64
	n   uint64
}

// Store keeps records as frames in the records region and an in-memory
// offset index for random access. Record ids are positions in the index.
type Store struct {
	mu     sync.RWMutex
	pages  *pagestore.Store
	region types.RegionID
	index  []span
	logger *zap.Logger
}

// Open scans the records region and builds the offset index.
func Open(ctx context.Context, pages *pagestore.Store, logger *zap.Logger) (*Store, error) {
	s := &Store{pages: pages, region: types.RegionRecords, logger: logger}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds the offset index from the region.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.pages.ReadAll(ctx, s.region)
	if err != nil {
		return fmt.Errorf("reading records region: %w", err)
	}

	var index []span
	err = codec.Scan(raw, func(offset int64, f codec.Frame) error {
		if f.Kind != codec.KindRecord {
			return fmt.Errorf("unexpected %s frame at offset %d", f.Kind, offset)
		}
		if want := strconv.Itoa(len(index)); f.Key != want {
			return fmt.Errorf("record at offset %d has id %s, want %s", offset, f.Key, want)
		}
		index = append(index, span{off: uint64(offset), n: uint64(f.Size())})
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning records: %w", err)
	}

	s.index = index
	metrics.RecordsTotal.Set(float64(len(index)))
	s.logger.Info("record index loaded", zap.Int("records", len(index)), zap.Int("bytes", len(raw)))
	return nil
}

// Append stores rec and returns its id, which is the number of records
// stored before it. rec.ID is overwritten.
func (s *Store) Append(ctx context.Context, rec Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = uint64(len(s.index))
	payload, err := encodeRecord(&rec)
	if err != nil {
		return 0, fmt.Errorf("encoding record: %w", err)
	}
	frame, err := codec.Encode(codec.Frame{
		Kind:    codec.KindRecord,
		Key:     strconv.FormatUint(rec.ID, 10),
		Payload: payload,
	})
	if err != nil {
		return 0, err
	}

	end, err := s.pages.Append(ctx, s.region, frame)
	if err != nil {
		return 0, fmt.Errorf("appending record %d: %w", rec.ID, err)
	}
	s.index = append(s.index, span{off: end - uint64(len(frame)), n: uint64(len(frame))})
	metrics.RecordsTotal.Set(float64(len(s.index)))

	s.logger.Debug("record appended", zap.Uint64("id", rec.ID), zap.Int("bytes", len(frame)))
	return rec.ID, nil
}

// Get returns the record with the given id or types.ErrNotFound.
func (s *Store) Get(ctx context.Context, id uint64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id >= uint64(len(s.index)) {
		return nil, fmt.Errorf("record %d: %w", id, types.ErrNotFound)
	}
	return s.read(ctx, s.index[id])
}

// List returns every record in id order.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.index))
	for _, sp := range s.index {
		rec, err := s.read(ctx, sp)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

func (s *Store) read(ctx context.Context, sp span) (*Record, error) {
	raw, err := s.pages.ReadAt(ctx, s.region, sp.off, sp.n)
	if err != nil {
		return nil, err
	}
	f, _, err := codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding record at offset %d: %w", sp.off, err)
	}
	return decodeRecord(f.Payload)
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
