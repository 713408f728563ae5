package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"bling-wix-sync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteTokenRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := NewSQLiteTokenRepository(openTestDB(t))
	require.NoError(t, err)

	pair, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, pair, "empty table loads nothing")

	obtained := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, model.TokenPair{AccessToken: "a1", RefreshToken: "r1", ExpiresIn: 21600, ObtainedAt: obtained}))
	require.NoError(t, repo.Save(ctx, model.TokenPair{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 21600, ObtainedAt: obtained.Add(time.Hour)}))

	pair, err = repo.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "a2", pair.AccessToken)
	assert.Equal(t, "r2", pair.RefreshToken)
	assert.Equal(t, 21600, pair.ExpiresIn)
	assert.True(t, pair.ObtainedAt.Equal(obtained.Add(time.Hour)))

	require.NoError(t, repo.Delete(ctx))
	pair, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, pair)
}

func TestSQLiteTokenRepository_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.db")

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	repo, err := NewSQLiteTokenRepository(db)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, model.TokenPair{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	repo, err = NewSQLiteTokenRepository(db)
	require.NoError(t, err)

	pair, err := repo.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "r", pair.RefreshToken)
}

func TestSQLiteRunRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := NewSQLiteRunRepository(openTestDB(t))
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		started := base.Add(time.Duration(i) * time.Hour)
		run := &model.SyncRun{
			ID:             string(rune('a' + i)),
			Trigger:        "manual",
			State:          model.StateDone,
			Outcome:        model.OutcomeSuccess,
			StartedAt:      started,
			FinishedAt:     started.Add(time.Minute),
			RecordsFetched: 10 * i,
			Report:         &model.SyncReport{TotalRecords: 10 * i, RecordsConfirmed: 10 * i},
		}
		require.NoError(t, repo.Insert(ctx, run))
	}

	runs, total, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, runs, 2)
	assert.Equal(t, "e", runs[0].ID, "newest first")
	assert.Equal(t, "d", runs[1].ID)
	require.NotNil(t, runs[0].Report)
	assert.Equal(t, 40, runs[0].Report.RecordsConfirmed)

	runs, _, err = repo.List(ctx, 10, 4)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].ID)

	deleted, err := repo.DeleteOlderThan(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats["total_runs"])
}
