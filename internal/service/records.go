package service

import (
	"context"

	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/record"
)

func (s *Service) GetRecord(ctx context.Context, id uint64) (rec *record.Record, err error) {
	defer pagestore.Recover(&err)
	return s.records.Get(ctx, id)
}

func (s *Service) ListRecords(ctx context.Context) (recs []record.Record, err error) {
	defer pagestore.Recover(&err)
	return s.records.List(ctx)
}

func (s *Service) RecordCount(ctx context.Context) int {
	return s.records.Count()
}
