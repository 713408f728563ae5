package repository

import (
	"context"
	"time"

	"bling-wix-sync/internal/model"
)

// TokenRepository persists the single ERP token pair across restarts.
type TokenRepository interface {
	// Load returns the stored pair, or nil when nothing has been saved.
	Load(ctx context.Context) (*model.TokenPair, error)

	// Save replaces the stored pair.
	Save(ctx context.Context, pair model.TokenPair) error

	// Delete removes the stored pair.
	Delete(ctx context.Context) error

	// Name identifies the backend in logs and stats.
	Name() string
}

// RunRepository stores finished sync runs.
type RunRepository interface {
	// Insert stores a finished run.
	Insert(ctx context.Context, run *model.SyncRun) error

	// List returns runs newest first, with the total count.
	List(ctx context.Context, limit, offset int) ([]model.SyncRun, int64, error)

	// DeleteOlderThan removes runs started before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// GetStats returns statistics about the stored history.
	GetStats(ctx context.Context) (map[string]interface{}, error)
}
