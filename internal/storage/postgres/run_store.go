// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/workbench-tasks/internal/store"
)

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS task_runs (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	percent       INTEGER NOT NULL DEFAULT 0,
	message       TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS task_runs_started_at_idx ON task_runs (started_at DESC);`

// RunStore implements store.RunRepository on a task_runs table.
type RunStore struct {
	pool querier
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
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
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// Migrate creates the task_runs table when it is missing.
func (s *RunStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate task_runs: %w", err)
	}
	return nil
}

// UpsertRunStart inserts a running row. A repeated start keeps the original
// row untouched.
func (s *RunStore) UpsertRunStart(ctx context.Context, id uuid.UUID, name string, startedAt time.Time) error {
	query := `
		INSERT INTO task_runs (id, name, started_at, status, updated_at)
		VALUES ($1, $2, $3, $4, $3)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, id, name, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// UpdateRunProgress stores the latest percent and message of a running run.
// Rows that already finished are left alone.
func (s *RunStore) UpdateRunProgress(ctx context.Context, id uuid.UUID, percent int, message string, at time.Time) error {
	query := `
		UPDATE task_runs
		SET percent = $1, message = $2, updated_at = $3
		WHERE id = $4 AND status = $5;
	`
	if _, err := s.pool.Exec(ctx, query, percent, message, at, id, store.RunRunning); err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if !status.Terminal() {
		return fmt.Errorf("complete run: status %q is not terminal", status)
	}
	query := `
		UPDATE task_runs
		SET finished_at = $1, status = $2, error_message = $3, updated_at = $1
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", id, store.ErrNotFound)
	}
	return nil
}

const selectRun = `
	SELECT id, name, started_at, finished_at, status, percent, message, updated_at, error_message
	FROM task_runs`

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, selectRun+" WHERE id = $1;", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := selectRun + `
	WHERE ($1::text IS NULL OR status = $1)
	ORDER BY started_at DESC
	LIMIT $2 OFFSET $3;`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Name,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Percent,
		&run.Message,
		&run.UpdatedAt,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
