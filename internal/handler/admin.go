package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"bling-wix-sync/internal/cache"
	"bling-wix-sync/pkg/response"
)

// SyncStatsProvider exposes run counters.
type SyncStatsProvider interface {
	Stats(ctx context.Context) map[string]interface{}
}

// TokenStatsProvider exposes token store details.
type TokenStatsProvider interface {
	Stats() map[string]interface{}
}

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	sync      SyncStatsProvider
	tokens    TokenStatsProvider
	stock     *cache.StockCache
	cacheType string
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(sync SyncStatsProvider, tokens TokenStatsProvider, stock *cache.StockCache, cacheType string) *AdminHandler {
	return &AdminHandler{
		sync:      sync,
		tokens:    tokens,
		stock:     stock,
		cacheType: cacheType,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)

	// Memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	// Stock cache
	stockStats := map[string]interface{}{
		"backend":     h.cacheType,
		"ttl_seconds": int64(h.stock.TTL().Seconds()),
	}
	if entry, ok := h.stock.Entry(ctx); ok {
		_, fresh := h.stock.Get(ctx)
		stockStats["records"] = len(entry.Records)
		stockStats["captured_at"] = entry.CapturedAt
		stockStats["fresh"] = fresh
	} else {
		stockStats["records"] = 0
	}
	stats["stock_cache"] = stockStats

	stats["token_store"] = h.tokens.Stats()
	stats["sync"] = h.sync.Stats(ctx)

	response.OK(w, stats)
}
