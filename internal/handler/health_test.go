package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bling-wix-sync/internal/cache"
	"bling-wix-sync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	held bool
}

func (f fakeTokens) Current() (model.TokenPair, bool) {
	if !f.held {
		return model.TokenPair{}, false
	}
	return model.TokenPair{AccessToken: "a", RefreshToken: "r"}, true
}

func (f fakeTokens) Stats() map[string]interface{} {
	return map[string]interface{}{"backend": "memory", "held": f.held}
}

type fakeSyncStats struct{}

func (fakeSyncStats) Stats(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"runs_total": int64(3)}
}

func TestHandler_Health(t *testing.T) {
	h := New("bling-wix-sync", "1.2.3", fakeTokens{})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got HealthResponse
	decode(t, rec, &got)
	assert.Equal(t, "healthy", got.Status)
	assert.Equal(t, "1.2.3", got.Version)
}

func TestHandler_Ready(t *testing.T) {
	tests := []struct {
		name  string
		held  bool
		want  int
		ready bool
	}{
		{name: "token held", held: true, want: http.StatusOK, ready: true},
		{name: "no token", held: false, want: http.StatusServiceUnavailable, ready: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New("bling-wix-sync", "1.0.0", fakeTokens{held: tt.held})

			rec := httptest.NewRecorder()
			h.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))

			assert.Equal(t, tt.want, rec.Code)
			var got ReadyResponse
			decode(t, rec, &got)
			assert.Equal(t, tt.ready, got.Ready)
			assert.Len(t, got.Checks, 2)
		})
	}
}

func TestHandler_Status(t *testing.T) {
	h := New("bling-wix-sync", "1.0.0", fakeTokens{held: false})

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store, no-cache, must-revalidate", rec.Header().Get("Cache-Control"))
	var got StatusResponse
	decode(t, rec, &got)
	assert.Equal(t, "bling-wix-sync", got.Service)
	assert.Equal(t, "missing", got.Checks.ERPToken)
}

func newStockCache(t *testing.T, now *time.Time) *cache.StockCache {
	t.Helper()
	backend := cache.NewMemoryCache()
	t.Cleanup(func() { backend.Close() })
	return cache.NewStockCache(backend, 10*time.Minute, 24*time.Hour).WithClock(func() time.Time { return *now })
}

func TestStockHandler_GetStock(t *testing.T) {
	now := time.Now()
	stock := newStockCache(t, &now)
	h := NewStockHandler(stock)

	rec := httptest.NewRecorder()
	h.GetStock(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stock", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	records := []model.StockRecord{
		{Code: "SKU-1", Description: "Caneca", Quantity: 4},
		{Code: "SKU-2", Description: "Camiseta", Quantity: 0},
	}
	require.NoError(t, stock.Put(context.Background(), records))

	rec = httptest.NewRecorder()
	h.GetStock(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stock", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got StockResponse
	decode(t, rec, &got)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, records, got.Records)
	assert.False(t, got.Stale)

	now = now.Add(time.Hour)
	rec = httptest.NewRecorder()
	h.GetStock(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stock", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &got)
	assert.True(t, got.Stale)
}

func TestAdminHandler_GetStats(t *testing.T) {
	now := time.Now()
	stock := newStockCache(t, &now)
	require.NoError(t, stock.Put(context.Background(), []model.StockRecord{{Code: "SKU-1", Quantity: 1}}))
	h := NewAdminHandler(fakeSyncStats{}, fakeTokens{held: true}, stock, "memory")

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	decode(t, rec, &got)
	require.Contains(t, got, "stock_cache")
	stockStats := got["stock_cache"].(map[string]interface{})
	assert.Equal(t, "memory", stockStats["backend"])
	assert.Equal(t, float64(1), stockStats["records"])
	assert.Equal(t, true, stockStats["fresh"])
	assert.Contains(t, got, "token_store")
	assert.Contains(t, got, "sync")
	assert.Contains(t, got, "memory")
}
