package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/anttp-gateway/internal/progress"
	"github.com/JakeFAU/anttp-gateway/internal/store"
)

// TestStoreSinkRecordsTerminalEvents ensures only terminal stages become audit rows.
func TestStoreSinkRecordsTerminalEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRetrievalRepo{}
	sink := NewStoreSink(repo, nil)
	now := time.Now().UTC()

	batch := []progress.Event{
		{JobID: "job-1", Stage: progress.StageJobQueued, TS: now, Address: "a"},
		{JobID: "job-1", Stage: progress.StageJobDispatched, TS: now, Address: "a"},
		{
			JobID:      "job-1",
			SessionID:  "sess-1",
			Stage:      progress.StageJobDone,
			TS:         now.Add(time.Second),
			Address:    "a",
			Outcome:    "succeeded",
			StatusCode: 200,
			MimeType:   "text/plain",
			Bytes:      42,
			Dur:        time.Second,
		},
		{
			JobID:      "job-2",
			Stage:      progress.StageJobError,
			TS:         now.Add(2 * time.Second),
			Address:    "b",
			Outcome:    "backend_error",
			StatusCode: 404,
			Note:       "http 404",
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Len(t, repo.rows, 2)

	ok := repo.rows[0]
	require.Equal(t, "job-1", ok.JobID)
	require.Equal(t, "sess-1", ok.SessionID)
	require.Equal(t, int64(42), ok.Bytes)
	require.Equal(t, time.Second, ok.FetchTime)
	require.Nil(t, ok.ErrorMessage)

	failed := repo.rows[1]
	require.Equal(t, "backend_error", failed.Outcome)
	require.NotNil(t, failed.ErrorMessage)
	require.Equal(t, "http 404", *failed.ErrorMessage)
}

// TestStoreSinkSkipsEmptyBatches avoids repository calls when nothing is terminal.
func TestStoreSinkSkipsEmptyBatches(t *testing.T) {
	t.Parallel()

	repo := &fakeRetrievalRepo{}
	sink := NewStoreSink(repo, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Stage: progress.StageJobQueued, TS: time.Now()},
	}))
	require.Zero(t, repo.calls)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the hub.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRetrievalRepo{err: errors.New("insert failed")}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Stage: progress.StageJobDone, Outcome: "succeeded", TS: time.Now()},
	})
	require.ErrorContains(t, err, "record retrievals: insert failed")
}

func TestStoreSinkCloseClosesRepository(t *testing.T) {
	t.Parallel()

	repo := &fakeRetrievalRepo{}
	require.NoError(t, NewStoreSink(repo, nil).Close(context.Background()))
	require.True(t, repo.closed)
}

func TestLogSinkWritesTerminalFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Stage: progress.StageJobQueued, TS: time.Now()},
		{JobID: "job-1", Stage: progress.StageJobError, Outcome: "timeout", Note: "timeout after 1s", TS: time.Now()},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.NotContains(t, entries[0].ContextMap(), "outcome")
	require.Equal(t, "timeout", entries[1].ContextMap()["outcome"])
	require.Equal(t, "timeout after 1s", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}

type fakeRetrievalRepo struct {
	err    error
	calls  int
	rows   []store.Retrieval
	closed bool
}

func (f *fakeRetrievalRepo) RecordRetrievals(_ context.Context, rows []store.Retrieval) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeRetrievalRepo) Close() {
	f.closed = true
}
