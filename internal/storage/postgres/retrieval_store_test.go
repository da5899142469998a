package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/anttp-gateway/internal/store"
)

func TestRecordRetrievalsInsertsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rs, err := NewRetrievalStoreWithPool(mock, "retrievals")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	msg := "http 404"
	rows := []store.Retrieval{
		{
			JobID:      "job-1",
			SessionID:  "sess-1",
			Address:    "abc",
			Outcome:    "succeeded",
			StatusCode: 200,
			MimeType:   "text/plain",
			Bytes:      5,
			FetchTime:  1500 * time.Millisecond,
			FinishedAt: now,
		},
		{
			JobID:        "job-2",
			SessionID:    "sess-1",
			Address:      "def",
			Outcome:      "backend_error",
			StatusCode:   404,
			FinishedAt:   now,
			ErrorMessage: &msg,
		},
	}

	mock.ExpectExec(`INSERT INTO retrievals \(job_id, session_id`).
		WithArgs(
			"job-1", "sess-1", "abc", "succeeded", 200, "text/plain", int64(5), int64(1500), now, (*string)(nil),
			"job-2", "sess-1", "def", "backend_error", 404, "", int64(0), int64(0), now, &msg,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, rs.RecordRetrievals(context.Background(), rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRetrievalsEmptyBatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rs, err := NewRetrievalStoreWithPool(mock, "")
	require.NoError(t, err)
	require.NoError(t, rs.RecordRetrievals(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRetrievalsRequiresJobID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rs, err := NewRetrievalStoreWithPool(mock, "")
	require.NoError(t, err)
	err = rs.RecordRetrievals(context.Background(), []store.Retrieval{{Outcome: "succeeded"}})
	require.ErrorContains(t, err, "job id is required")
}

func TestRecordRetrievalsWrapsExecErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rs, err := NewRetrievalStoreWithPool(mock, "audit")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit").WillReturnError(errors.New("conn reset"))
	err = rs.RecordRetrievals(context.Background(), []store.Retrieval{{JobID: "job-1"}})
	require.ErrorContains(t, err, "insert retrievals: conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rs, err := NewRetrievalStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS retrievals").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, rs.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRetrievalStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRetrievalStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRetrievalStoreWithPool(mock, "bad;name")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewRetrievalStore(context.Background(), RetrievalStoreConfig{})
	require.ErrorContains(t, err, "database.dsn is required")
}
