package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// Store is a SQLite implementation of RunJournal
type Store struct {
	db *sql.DB
}

var _ ports.RunJournal = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			trace TEXT NOT NULL,
			stage_tokens TEXT,
			request_id TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) SaveRun(ctx context.Context, rec *ports.RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run record has no id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	trace, err := json.Marshal(domain.CopyTrace(rec.Trace))
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	tokens, err := json.Marshal(rec.StageTokens)
	if err != nil {
		return fmt.Errorf("failed to marshal stage tokens: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO runs (id, pipeline, status, input, result, failure_reason, trace,
	          stage_tokens, request_id, metadata, started_at, finished_at, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	            pipeline = excluded.pipeline,
	            status = excluded.status,
	            input = excluded.input,
	            result = excluded.result,
	            failure_reason = excluded.failure_reason,
	            trace = excluded.trace,
	            stage_tokens = excluded.stage_tokens,
	            request_id = excluded.request_id,
	            metadata = excluded.metadata,
	            started_at = excluded.started_at,
	            finished_at = excluded.finished_at,
	            created_at = excluded.created_at`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Pipeline, string(rec.Status), rec.Input, rec.Result, rec.FailureReason,
		string(trace), string(tokens), rec.RequestID, string(metadata),
		toNanos(rec.StartedAt), toNanos(rec.FinishedAt), toNanos(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

const selectRun = `SELECT id, pipeline, status, input, result, failure_reason, trace,
	stage_tokens, request_id, metadata, started_at, finished_at, created_at FROM runs`

func (s *Store) GetRun(ctx context.Context, id string) (*ports.RunRecord, error) {
	rec, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ports.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

func (s *Store) ListRuns(ctx context.Context, opts ports.ListOptions) ([]*ports.RunRecord, error) {
	var (
		where []string
		args  []any
	)
	if opts.Pipeline != "" {
		where = append(where, "pipeline = ?")
		args = append(args, opts.Pipeline)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}

	query := selectRun
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*ports.RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}

	return runs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*ports.RunRecord, error) {
	var (
		rec                            ports.RunRecord
		status, trace                  string
		tokens, metadata               sql.NullString
		startedAt, finishedAt, created int64
	)

	err := row.Scan(&rec.ID, &rec.Pipeline, &status, &rec.Input, &rec.Result, &rec.FailureReason,
		&trace, &tokens, &rec.RequestID, &metadata, &startedAt, &finishedAt, &created)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.RunStatus(status)
	rec.StartedAt = fromNanos(startedAt)
	rec.FinishedAt = fromNanos(finishedAt)
	rec.CreatedAt = fromNanos(created)

	if err := json.Unmarshal([]byte(trace), &rec.Trace); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace: %w", err)
	}
	if tokens.Valid {
		if err := json.Unmarshal([]byte(tokens.String), &rec.StageTokens); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage tokens: %w", err)
		}
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &rec, nil
}

// Zero times are stored as 0 so unfinished runs round-trip.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
