package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"bling-wix-sync/internal/bling"
	"bling-wix-sync/internal/model"
	"bling-wix-sync/internal/service"
	"bling-wix-sync/pkg/apierror"
	"bling-wix-sync/pkg/response"
)

// SyncRunner is the orchestrator as seen by the HTTP layer.
type SyncRunner interface {
	Run(ctx context.Context, trigger string) (*model.SyncRun, error)
	Status() service.SyncStatus
	History(ctx context.Context, limit, offset int) ([]model.SyncRun, int64, error)
}

// SyncHandler handles sync-related HTTP requests.
type SyncHandler struct {
	sync SyncRunner
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(sync SyncRunner) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// RunSync handles POST /api/v1/sync. The run is not tied to the client
// connection; a disconnect does not cancel it.
func (h *SyncHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	run, err := h.sync.Run(context.WithoutCancel(r.Context()), "manual")
	if errors.Is(err, service.ErrSyncInProgress) {
		response.Error(w, apierror.Conflict("a sync run is already in progress"))
		return
	}

	if run == nil {
		response.Error(w, apierror.InternalError("sync run did not start"))
		return
	}

	var cfgErr *bling.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		response.Failure(w, http.StatusServiceUnavailable, run)
	case run.Outcome == model.OutcomeFailed:
		response.Failure(w, http.StatusBadGateway, run)
	default:
		response.OK(w, run)
	}
}

// GetStatus handles GET /api/v1/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.sync.Status())
}

// ListRuns handles GET /api/v1/sync/runs?page=1&limit=20
func (h *SyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if page < 1 {
		response.Error(w, apierror.BadRequest("page must be >= 1"))
		return
	}
	if limit < 1 || limit > 100 {
		response.Error(w, apierror.BadRequest("limit must be between 1 and 100"))
		return
	}

	runs, total, err := h.sync.History(r.Context(), limit, (page-1)*limit)
	if err != nil {
		response.Error(w, apierror.InternalError("failed to load sync history"))
		return
	}
	response.JSONWithMeta(w, http.StatusOK, runs, page, limit, total)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
