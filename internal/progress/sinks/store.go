package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/anttp-gateway/internal/progress"
	"github.com/JakeFAU/anttp-gateway/internal/store"
)

// StoreSink persists terminal job events as retrieval audit rows. Non-terminal
// stages are ignored.
type StoreSink struct {
	repo   store.RetrievalRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RetrievalRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes one row per terminal event in a single repository call.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	rows := make([]store.Retrieval, 0, len(batch))
	for _, evt := range batch {
		if !evt.Stage.Terminal() {
			continue
		}
		rows = append(rows, toRetrieval(evt))
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.repo.RecordRetrievals(ctx, rows); err != nil {
		return fmt.Errorf("record retrievals: %w", err)
	}
	s.logger.Debug("retrievals recorded", zap.Int("rows", len(rows)))
	return nil
}

// Close releases the repository.
func (s *StoreSink) Close(context.Context) error {
	if s != nil && s.repo != nil {
		s.repo.Close()
	}
	return nil
}

func toRetrieval(evt progress.Event) store.Retrieval {
	row := store.Retrieval{
		JobID:      evt.JobID,
		SessionID:  evt.SessionID,
		Address:    evt.Address,
		Outcome:    evt.Outcome,
		StatusCode: evt.StatusCode,
		MimeType:   evt.MimeType,
		Bytes:      evt.Bytes,
		FetchTime:  evt.Dur,
		FinishedAt: evt.TS,
	}
	if evt.Stage == progress.StageJobError {
		note := evt.Note
		row.ErrorMessage = &note
	}
	return row
}
