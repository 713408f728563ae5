package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bling-wix-sync/internal/bling"
	"bling-wix-sync/internal/model"
	"bling-wix-sync/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	run *model.SyncRun
	err error

	ctxErr  error
	trigger string

	history       []model.SyncRun
	total         int64
	historyErr    error
	limit, offset int
}

func (f *fakeRunner) Run(ctx context.Context, trigger string) (*model.SyncRun, error) {
	f.ctxErr = ctx.Err()
	f.trigger = trigger
	return f.run, f.err
}

func (f *fakeRunner) Status() service.SyncStatus {
	return service.SyncStatus{State: model.StateIdle, LastRun: f.run}
}

func (f *fakeRunner) History(ctx context.Context, limit, offset int) ([]model.SyncRun, int64, error) {
	f.limit, f.offset = limit, offset
	return f.history, f.total, f.historyErr
}

func TestSyncHandler_RunSync(t *testing.T) {
	tests := []struct {
		name     string
		run      *model.SyncRun
		err      error
		want     int
		success  bool
		wantCode string
	}{
		{
			name:    "success",
			run:     &model.SyncRun{ID: "run-1", State: model.StateDone, Outcome: model.OutcomeSuccess},
			want:    http.StatusOK,
			success: true,
		},
		{
			name:    "partial is still ok",
			run:     &model.SyncRun{ID: "run-2", State: model.StateDone, Outcome: model.OutcomePartial},
			want:    http.StatusOK,
			success: true,
		},
		{
			name:    "nothing to sync",
			run:     &model.SyncRun{ID: "run-3", State: model.StateDone, Outcome: model.OutcomeNothingToSync},
			want:    http.StatusOK,
			success: true,
		},
		{
			name: "failed run",
			run:  &model.SyncRun{ID: "run-4", State: model.StateFailed, Outcome: model.OutcomeFailed, ErrorKind: model.ErrorKindFetch},
			err:  errors.New("no products"),
			want: http.StatusBadGateway,
		},
		{
			name: "missing configuration",
			run:  &model.SyncRun{ID: "run-5", State: model.StateFailed, Outcome: model.OutcomeFailed, ErrorKind: model.ErrorKindConfig},
			err:  &bling.ConfigError{Field: "CLIENT_ID"},
			want: http.StatusServiceUnavailable,
		},
		{
			name:     "already running",
			err:      service.ErrSyncInProgress,
			want:     http.StatusConflict,
			wantCode: "CONFLICT",
		},
		{
			name:     "no run returned",
			err:      errors.New("boom"),
			want:     http.StatusInternalServerError,
			wantCode: "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{run: tt.run, err: tt.err}
			h := NewSyncHandler(runner)

			rec := httptest.NewRecorder()
			h.RunSync(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "manual", runner.trigger)

			if tt.wantCode != "" {
				env := decode(t, rec, nil)
				assert.False(t, env.Success)
				assert.Equal(t, tt.wantCode, env.Error.Code)
				return
			}

			var got model.SyncRun
			env := decode(t, rec, &got)
			assert.Equal(t, tt.success, env.Success)
			assert.Equal(t, tt.run.ID, got.ID)
			assert.Equal(t, tt.run.Outcome, got.Outcome)
		})
	}
}

func TestSyncHandler_RunSyncOutlivesClient(t *testing.T) {
	runner := &fakeRunner{run: &model.SyncRun{ID: "run-1", Outcome: model.OutcomeSuccess}}
	h := NewSyncHandler(runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil).WithContext(ctx)

	h.RunSync(httptest.NewRecorder(), req)
	assert.NoError(t, runner.ctxErr)
}

func TestSyncHandler_GetStatus(t *testing.T) {
	runner := &fakeRunner{run: &model.SyncRun{ID: "run-9", Outcome: model.OutcomeSuccess}}
	h := NewSyncHandler(runner)

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got service.SyncStatus
	decode(t, rec, &got)
	assert.Equal(t, model.StateIdle, got.State)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, "run-9", got.LastRun.ID)
}

func TestSyncHandler_ListRuns(t *testing.T) {
	runner := &fakeRunner{
		history: []model.SyncRun{{ID: "b"}, {ID: "a"}},
		total:   12,
	}
	h := NewSyncHandler(runner)

	rec := httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs?page=2&limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var runs []model.SyncRun
	env := decode(t, rec, &runs)
	assert.Len(t, runs, 2)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 2, env.Meta.Page)
	assert.Equal(t, 5, env.Meta.Limit)
	assert.Equal(t, int64(12), env.Meta.Total)
	assert.Equal(t, 5, runner.limit)
	assert.Equal(t, 5, runner.offset)
}

func TestSyncHandler_ListRunsValidation(t *testing.T) {
	for _, query := range []string{"page=0", "page=abc", "limit=0", "limit=101", "limit=x"} {
		t.Run(query, func(t *testing.T) {
			h := NewSyncHandler(&fakeRunner{})

			rec := httptest.NewRecorder()
			h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs?"+query, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSyncHandler_ListRunsStorageError(t *testing.T) {
	h := NewSyncHandler(&fakeRunner{historyErr: errors.New("disk full")})

	rec := httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
}
