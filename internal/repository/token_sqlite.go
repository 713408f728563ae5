package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bling-wix-sync/internal/model"
)

// SQLiteTokenRepository keeps the token pair in a single-row SQLite table.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewSQLiteTokenRepository creates the table if needed.
func NewSQLiteTokenRepository(db *sql.DB) (*SQLiteTokenRepository, error) {
	query := `
	CREATE TABLE IF NOT EXISTS bling_tokens (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_in INTEGER NOT NULL DEFAULT 0,
		obtained_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("failed to create token table: %w", err)
	}
	return &SQLiteTokenRepository{db: db}, nil
}

// Load returns the stored pair.
func (r *SQLiteTokenRepository) Load(ctx context.Context) (*model.TokenPair, error) {
	query := `SELECT access_token, refresh_token, expires_in, obtained_at FROM bling_tokens WHERE id = 1`

	var pair model.TokenPair
	var obtainedAt int64
	err := r.db.QueryRowContext(ctx, query).Scan(&pair.AccessToken, &pair.RefreshToken, &pair.ExpiresIn, &obtainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token pair: %w", err)
	}
	pair.ObtainedAt = fromMillis(obtainedAt)
	return &pair, nil
}

// Save replaces the stored pair.
func (r *SQLiteTokenRepository) Save(ctx context.Context, pair model.TokenPair) error {
	query := `
		INSERT INTO bling_tokens (id, access_token, refresh_token, expires_in, obtained_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_in = excluded.expires_in,
			obtained_at = excluded.obtained_at,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		pair.AccessToken, pair.RefreshToken, pair.ExpiresIn, toMillis(pair.ObtainedAt), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save token pair: %w", err)
	}
	return nil
}

// Delete removes the stored pair.
func (r *SQLiteTokenRepository) Delete(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bling_tokens WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to delete token pair: %w", err)
	}
	return nil
}

// Name identifies the backend.
func (r *SQLiteTokenRepository) Name() string { return "sqlite" }

var _ TokenRepository = (*SQLiteTokenRepository)(nil)
