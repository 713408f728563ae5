package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bling-wix-sync/internal/model"
)

// PostgresTokenRepository keeps the token pair in PostgreSQL.
type PostgresTokenRepository struct {
	db *sql.DB
}

// NewPostgresTokenRepository creates the table if needed.
func NewPostgresTokenRepository(db *sql.DB) (*PostgresTokenRepository, error) {
	query := `
	CREATE TABLE IF NOT EXISTS bling_tokens (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_in INTEGER NOT NULL DEFAULT 0,
		obtained_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("failed to create token table: %w", err)
	}
	return &PostgresTokenRepository{db: db}, nil
}

// Load returns the stored pair.
func (r *PostgresTokenRepository) Load(ctx context.Context) (*model.TokenPair, error) {
	query := `SELECT access_token, refresh_token, expires_in, obtained_at FROM bling_tokens WHERE id = 1`

	var pair model.TokenPair
	err := r.db.QueryRowContext(ctx, query).Scan(&pair.AccessToken, &pair.RefreshToken, &pair.ExpiresIn, &pair.ObtainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token pair: %w", err)
	}
	return &pair, nil
}

// Save replaces the stored pair.
func (r *PostgresTokenRepository) Save(ctx context.Context, pair model.TokenPair) error {
	query := `
		INSERT INTO bling_tokens (id, access_token, refresh_token, expires_in, obtained_at, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_in = EXCLUDED.expires_in,
			obtained_at = EXCLUDED.obtained_at,
			updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, pair.AccessToken, pair.RefreshToken, pair.ExpiresIn, pair.ObtainedAt); err != nil {
		return fmt.Errorf("failed to save token pair: %w", err)
	}
	return nil
}

// Delete removes the stored pair.
func (r *PostgresTokenRepository) Delete(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bling_tokens WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to delete token pair: %w", err)
	}
	return nil
}

// Name identifies the backend.
func (r *PostgresTokenRepository) Name() string { return "postgres" }

var _ TokenRepository = (*PostgresTokenRepository)(nil)
