package store

import (
	"context"
	"time"
)

// Retrieval is the audit row written for every job that reached a terminal
// outcome.
type Retrieval struct {
	JobID     string
	SessionID string
	Address   string
	// Outcome is succeeded, timeout, backend_error, transport_error or internal_error.
	Outcome string
	// StatusCode is the backend status when one was received.
	StatusCode int
	MimeType   string
	Bytes      int64
	FetchTime  time.Duration
	FinishedAt time.Time
	// ErrorMessage is nil for successful retrievals.
	ErrorMessage *string
}

// RetrievalRepository persists retrieval audit rows.
type RetrievalRepository interface {
	RecordRetrievals(ctx context.Context, rows []Retrieval) error
	Close()
}
