package handler

import (
	"net/http"
	"time"

	"bling-wix-sync/internal/cache"
	"bling-wix-sync/internal/model"
	"bling-wix-sync/pkg/apierror"
	"bling-wix-sync/pkg/response"
)

// StockHandler exposes the cached catalog snapshot.
type StockHandler struct {
	stock *cache.StockCache
}

// NewStockHandler creates a new stock handler.
func NewStockHandler(stock *cache.StockCache) *StockHandler {
	return &StockHandler{stock: stock}
}

// StockResponse is the cached snapshot with its freshness.
type StockResponse struct {
	Records    []model.StockRecord `json:"records"`
	Count      int                 `json:"count"`
	CapturedAt time.Time           `json:"captured_at"`
	Stale      bool                `json:"stale"`
}

// GetStock handles GET /api/v1/stock
func (h *StockHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entry, ok := h.stock.Entry(ctx)
	if !ok {
		response.Error(w, apierror.NotFound("no stock snapshot cached yet"))
		return
	}

	_, fresh := h.stock.Get(ctx)
	response.OK(w, StockResponse{
		Records:    entry.Records,
		Count:      len(entry.Records),
		CapturedAt: entry.CapturedAt,
		Stale:      !fresh,
	})
}
