// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/anttp-gateway/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable     = "retrievals"
	columnsPerRow    = 10
	retrievalColumns = `job_id, session_id, address, outcome, status_code, mime_type, bytes, fetch_ms, finished_at, error_message`
)

// RetrievalStoreConfig controls the Postgres connection pool used for audit rows.
type RetrievalStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RetrievalStore writes retrieval audit rows into Postgres. It satisfies
// store.RetrievalRepository.
type RetrievalStore struct {
	pool  execCloser
	table string
}

var _ store.RetrievalRepository = (*RetrievalStore)(nil)

// NewRetrievalStore creates a Postgres-backed RetrievalStore using the provided config.
func NewRetrievalStore(ctx context.Context, cfg RetrievalStoreConfig) (*RetrievalStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RetrievalStore{pool: pool, table: table}, nil
}

// NewRetrievalStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRetrievalStoreWithPool(pool execCloser, table string) (*RetrievalStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RetrievalStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RetrievalStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the audit table when it does not exist yet.
func (s *RetrievalStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("retrieval store is not configured")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id        TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	address       TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	mime_type     TEXT NOT NULL,
	bytes         BIGINT NOT NULL,
	fetch_ms      BIGINT NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	error_message TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create retrieval table: %w", err)
	}
	return nil
}

// RecordRetrievals inserts all rows with one multi-row statement. Rows whose
// job id already exists are skipped so a replayed batch is harmless.
func (s *RetrievalStore) RecordRetrievals(ctx context.Context, rows []store.Retrieval) error {
	if s == nil || s.pool == nil {
		return errors.New("retrieval store is not configured")
	}
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", s.table, retrievalColumns)
	args := make([]any, 0, len(rows)*columnsPerRow)
	for i, row := range rows {
		if row.JobID == "" {
			return fmt.Errorf("row %d: job id is required", i)
		}
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(")
		for c := 0; c < columnsPerRow; c++ {
			if c > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "$%d", i*columnsPerRow+c+1)
		}
		sb.WriteString(")")
		args = append(args,
			row.JobID,
			row.SessionID,
			row.Address,
			row.Outcome,
			row.StatusCode,
			row.MimeType,
			row.Bytes,
			row.FetchTime.Milliseconds(),
			row.FinishedAt,
			row.ErrorMessage,
		)
	}
	sb.WriteString(" ON CONFLICT (job_id) DO NOTHING")
	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert retrievals: %w", err)
	}
	return nil
}
