package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bling-wix-sync/internal/model"
)

// MySQLTokenRepository keeps the token pair in MySQL.
type MySQLTokenRepository struct {
	db *sql.DB
}

// NewMySQLTokenRepository creates the table if needed.
func NewMySQLTokenRepository(db *sql.DB) (*MySQLTokenRepository, error) {
	query := `
	CREATE TABLE IF NOT EXISTS bling_tokens (
		id TINYINT PRIMARY KEY,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_in INT NOT NULL DEFAULT 0,
		obtained_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("failed to create token table: %w", err)
	}
	return &MySQLTokenRepository{db: db}, nil
}

// Load returns the stored pair.
func (r *MySQLTokenRepository) Load(ctx context.Context) (*model.TokenPair, error) {
	query := `SELECT access_token, refresh_token, expires_in, obtained_at FROM bling_tokens WHERE id = 1 LIMIT 1`

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
func (r *MySQLTokenRepository) Save(ctx context.Context, pair model.TokenPair) error {
	query := `
		INSERT INTO bling_tokens (id, access_token, refresh_token, expires_in, obtained_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			access_token = VALUES(access_token),
			refresh_token = VALUES(refresh_token),
			expires_in = VALUES(expires_in),
			obtained_at = VALUES(obtained_at),
			updated_at = VALUES(updated_at)`

	_, err := r.db.ExecContext(ctx, query,
		pair.AccessToken, pair.RefreshToken, pair.ExpiresIn, toMillis(pair.ObtainedAt), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save token pair: %w", err)
	}
	return nil
}

// Delete removes the stored pair.
func (r *MySQLTokenRepository) Delete(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bling_tokens WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to delete token pair: %w", err)
	}
	return nil
}

// Name identifies the backend.
func (r *MySQLTokenRepository) Name() string { return "mysql" }

var _ TokenRepository = (*MySQLTokenRepository)(nil)
