package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bling-wix-sync/internal/model"
)

// PostgresRunRepository stores sync runs in PostgreSQL with a JSONB payload.
type PostgresRunRepository struct {
	db *sql.DB
}

// NewPostgresRunRepository creates the table if needed.
func NewPostgresRunRepository(db *sql.DB) (*PostgresRunRepository, error) {
	query := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		trigger_source TEXT NOT NULL,
		outcome TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		records_fetched INTEGER NOT NULL DEFAULT 0,
		records_confirmed INTEGER NOT NULL DEFAULT 0,
		payload JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_outcome ON sync_runs(outcome);
	`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("failed to create sync_runs table: %w", err)
	}
	return &PostgresRunRepository{db: db}, nil
}

// Insert stores a finished run.
func (r *PostgresRunRepository) Insert(ctx context.Context, run *model.SyncRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	var finishedAt sql.NullTime
	if !run.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: run.FinishedAt, Valid: true}
	}

	query := `
		INSERT INTO sync_runs (id, trigger_source, outcome, started_at, finished_at, records_fetched, records_confirmed, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.Trigger, string(run.Outcome), run.StartedAt, finishedAt,
		run.RecordsFetched, confirmed(run), string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// List returns runs newest first.
func (r *PostgresRunRepository) List(ctx context.Context, limit, offset int) ([]model.SyncRun, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM sync_runs ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// DeleteOlderThan removes runs started before cutoff.
func (r *PostgresRunRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// GetStats returns statistics about the stored history.
func (r *PostgresRunRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var count int64
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(started_at) FROM sync_runs`).Scan(&count, &last)
	if err != nil {
		return nil, err
	}
	stats["total_runs"] = count
	if last.Valid {
		stats["last_run_started_at"] = last.Time
	}

	rows, err := r.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM sync_runs GROUP BY outcome`)
	if err == nil {
		defer rows.Close()
		byOutcome := make(map[string]int64)
		for rows.Next() {
			var outcome string
			var n int64
			if rows.Scan(&outcome, &n) == nil {
				byOutcome[outcome] = n
			}
		}
		stats["runs_by_outcome"] = byOutcome
	}

	return stats, nil
}

var _ RunRepository = (*PostgresRunRepository)(nil)
