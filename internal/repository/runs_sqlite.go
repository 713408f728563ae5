package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bling-wix-sync/internal/model"
)

// SQLiteRunRepository stores sync runs in SQLite. Timestamps are unix
// milliseconds so range deletes compare numerically.
type SQLiteRunRepository struct {
	db *sql.DB
}

// NewSQLiteRunRepository creates the table if needed.
func NewSQLiteRunRepository(db *sql.DB) (*SQLiteRunRepository, error) {
	query := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		trigger_source TEXT NOT NULL,
		outcome TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		records_fetched INTEGER NOT NULL DEFAULT 0,
		records_confirmed INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
	`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("failed to create sync_runs table: %w", err)
	}
	return &SQLiteRunRepository{db: db}, nil
}

// Insert stores a finished run.
func (r *SQLiteRunRepository) Insert(ctx context.Context, run *model.SyncRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	query := `
		INSERT INTO sync_runs (id, trigger_source, outcome, started_at, finished_at, records_fetched, records_confirmed, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.Trigger, string(run.Outcome),
		toMillis(run.StartedAt), toMillis(run.FinishedAt),
		run.RecordsFetched, confirmed(run), string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// List returns runs newest first.
func (r *SQLiteRunRepository) List(ctx context.Context, limit, offset int) ([]model.SyncRun, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM sync_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
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
func (r *SQLiteRunRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_runs WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// GetStats returns statistics about the stored history.
func (r *SQLiteRunRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var count int64
	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(started_at) FROM sync_runs`).Scan(&count, &last)
	if err != nil {
		return nil, err
	}
	stats["total_runs"] = count
	if last.Valid {
		stats["last_run_started_at"] = fromMillis(last.Int64)
	}

	// Database file size (approximate from page count)
	var pageCount, pageSize int64
	r.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	r.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats["db_size_bytes"] = pageCount * pageSize

	return stats, nil
}

func scanRuns(rows *sql.Rows) ([]model.SyncRun, error) {
	runs := []model.SyncRun{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var run model.SyncRun
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("failed to parse run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func confirmed(run *model.SyncRun) int {
	if run.Report == nil {
		return 0
	}
	return run.Report.RecordsConfirmed
}

var _ RunRepository = (*SQLiteRunRepository)(nil)
