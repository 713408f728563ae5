package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bling-wix-sync/internal/model"
)

const stockKey = "stock:latest"

// StockCache keeps the last successful catalog fetch. Freshness is judged
// against the capture time, not the backend TTL: the backend keeps the entry
// for the longer stale retention so GetStale can still serve it.
type StockCache struct {
	backend   Cache
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewStockCache wraps a Cache backend.
func NewStockCache(backend Cache, ttl, retention time.Duration) *StockCache {
	if retention < ttl {
		retention = ttl
	}
	return &StockCache{
		backend:   backend,
		ttl:       ttl,
		retention: retention,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for capture and freshness.
func (c *StockCache) WithClock(now func() time.Time) *StockCache {
	c.now = now
	return c
}

// TTL returns the freshness window.
func (c *StockCache) TTL() time.Duration {
	return c.ttl
}

// Put replaces the cached snapshot.
func (c *StockCache) Put(ctx context.Context, records []model.StockRecord) error {
	entry := model.CacheEntry{
		Records:    records,
		CapturedAt: c.now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode stock snapshot: %w", err)
	}
	return c.backend.Set(ctx, stockKey, data, c.retention)
}

// Get returns the snapshot only while it is younger than the TTL.
func (c *StockCache) Get(ctx context.Context) ([]model.StockRecord, bool) {
	entry, ok := c.load(ctx)
	if !ok || c.now().Sub(entry.CapturedAt) >= c.ttl {
		return nil, false
	}
	return entry.Records, true
}

// GetStale returns the last snapshot regardless of age.
func (c *StockCache) GetStale(ctx context.Context) ([]model.StockRecord, bool) {
	entry, ok := c.load(ctx)
	if !ok {
		return nil, false
	}
	return entry.Records, true
}

// Entry returns the raw snapshot with its capture time.
func (c *StockCache) Entry(ctx context.Context) (*model.CacheEntry, bool) {
	return c.load(ctx)
}

func (c *StockCache) load(ctx context.Context) (*model.CacheEntry, bool) {
	data, err := c.backend.Get(ctx, stockKey)
	if err != nil {
		return nil, false
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}
