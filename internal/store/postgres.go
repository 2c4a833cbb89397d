package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagehand/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DefaultBatchSize is the number of buffered entries that triggers a flush.
const DefaultBatchSize = 32

const historyTable = "page_history"

var historyColumns = []string{"id", "page_id", "method", "parameters", "result", "error", "started_at", "duration_ms"}

const sqlCreateHistory = `
    CREATE TABLE IF NOT EXISTS page_history (
        id          UUID PRIMARY KEY,
        page_id     TEXT NOT NULL,
        method      TEXT NOT NULL,
        parameters  JSONB NOT NULL DEFAULT '{}',
        result      JSONB,
        error       TEXT NOT NULL DEFAULT '',
        started_at  TIMESTAMPTZ NOT NULL,
        duration_ms BIGINT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS page_history_started_at_idx ON page_history (started_at);
`

const sqlRecentHistory = `
    SELECT id, page_id, method, parameters, result, error, started_at, duration_ms
    FROM page_history
    ORDER BY started_at DESC
    LIMIT $1;
`

// Postgres is a History backed by PostgreSQL. Entries are buffered and
// written with COPY once BatchSize accumulate or Flush is called.
type Postgres struct {
	pool      DBPool
	log       *zap.Logger
	batchSize int

	mu      sync.Mutex
	pending []schemas.HistoryEntry
}

// NewPostgres verifies the connection and creates the history table.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger, batchSize int) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateHistory); err != nil {
		return nil, fmt.Errorf("failed to create history table: %w", err)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Postgres{
		pool:      pool,
		log:       logger.Named("store"),
		batchSize: batchSize,
	}, nil
}

// Record buffers entry and flushes when the batch is full.
func (s *Postgres) Record(ctx context.Context, entry schemas.HistoryEntry) error {
	s.mu.Lock()
	s.pending = append(s.pending, entry)
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered entry in one transaction. On failure the
// entries are put back so a later flush can retry them.
func (s *Postgres) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := s.persist(ctx, batch); err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Postgres) persist(ctx context.Context, batch []schemas.HistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	rows := make([][]any, len(batch))
	for i, e := range batch {
		params := e.Parameters
		if len(params) == 0 || string(params) == "null" {
			params = json.RawMessage("{}")
		}
		var result any
		if len(e.Result) > 0 && string(e.Result) != "null" {
			result = e.Result
		}
		rows[i] = []any{
			e.ID, e.PageID, string(e.Method), params, result, e.Error,
			e.StartedAt.UTC(), e.Duration.Milliseconds(),
		}
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{historyTable}, historyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		s.rollback(ctx, tx)
		return fmt.Errorf("failed to copy history: %w", err)
	}
	if int(copied) != len(batch) {
		s.rollback(ctx, tx)
		return fmt.Errorf("mismatch in copied history count: expected %d, got %d", len(batch), copied)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Postgres) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}

// Recent flushes pending entries and reads back the newest limit rows.
func (s *Postgres) Recent(ctx context.Context, limit int) ([]schemas.HistoryEntry, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, sqlRecentHistory, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []schemas.HistoryEntry
	for rows.Next() {
		var (
			e          schemas.HistoryEntry
			method     string
			durationMs int64
		)
		if err := rows.Scan(&e.ID, &e.PageID, &method, &e.Parameters, &e.Result, &e.Error, &e.StartedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Method = schemas.HistoryMethod(method)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	slices.Reverse(entries)
	return entries, nil
}

// Close flushes anything still buffered.
func (s *Postgres) Close(ctx context.Context) error {
	return s.Flush(ctx)
}
