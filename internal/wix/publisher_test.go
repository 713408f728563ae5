package wix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bling-wix-sync/internal/logger"
	"bling-wix-sync/internal/model"
	"bling-wix-sync/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiver struct {
	mu      sync.Mutex
	batches [][]model.StockRecord
	raw     []string
	headers []http.Header
	respond func(w http.ResponseWriter, r *http.Request, first string)
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var batch []model.StockRecord
	if err := json.Unmarshal(body, &batch); err != nil {
		var wrapped struct {
			Produtos []model.StockRecord `json:"produtos"`
		}
		json.Unmarshal(body, &wrapped)
		batch = wrapped.Produtos
	}

	rc.mu.Lock()
	rc.batches = append(rc.batches, batch)
	rc.raw = append(rc.raw, string(body))
	rc.headers = append(rc.headers, r.Header.Clone())
	rc.mu.Unlock()

	first := ""
	if len(batch) > 0 {
		first = batch[0].Code
	}
	if rc.respond != nil {
		rc.respond(w, r, first)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"success":true}`))
}

func makeRecords(n int) []model.StockRecord {
	records := make([]model.StockRecord, n)
	for i := range records {
		records[i] = model.StockRecord{Code: fmt.Sprintf("SKU-%d", i), Description: "item", Quantity: i}
	}
	return records
}

func newTestPublisher(t *testing.T, url string) (*Publisher, *[]time.Duration) {
	t.Helper()
	p := NewPublisher(PublisherConfig{
		EndpointURL: url,
		BatchSize:   100,
		BatchDelay:  time.Second,
		Retry:       retry.Policy{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond, BackoffFactor: 2},
	}, nil, logger.Discard())

	waits := &[]time.Duration{}
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return p, waits
}

func TestPublish_SplitsIntoSequentialBatches(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	p, waits := newTestPublisher(t, srv.URL)
	report := p.Publish(context.Background(), makeRecords(250))

	require.Len(t, rc.batches, 3)
	assert.Len(t, rc.batches[0], 100)
	assert.Len(t, rc.batches[1], 100)
	assert.Len(t, rc.batches[2], 50)
	assert.Equal(t, "SKU-0", rc.batches[0][0].Code)
	assert.Equal(t, "SKU-100", rc.batches[1][0].Code)
	assert.Equal(t, "SKU-249", rc.batches[2][49].Code)

	assert.Equal(t, []time.Duration{time.Second, time.Second}, *waits)

	assert.Equal(t, 250, report.TotalRecords)
	assert.Equal(t, 3, report.BatchesSent)
	assert.Equal(t, 0, report.BatchesFailed)
	assert.Equal(t, 250, report.RecordsConfirmed)
	assert.True(t, report.Complete())
}

func TestPublish_IsolatesFailedBatch(t *testing.T) {
	rc := &receiver{respond: func(w http.ResponseWriter, r *http.Request, first string) {
		if first == "SKU-100" {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.Write([]byte(`{"success":true}`))
	}}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	p, _ := newTestPublisher(t, srv.URL)
	report := p.Publish(context.Background(), makeRecords(250))

	assert.Equal(t, 3, report.BatchesSent)
	assert.Equal(t, 1, report.BatchesFailed)
	assert.Equal(t, 150, report.RecordsConfirmed)
	assert.False(t, report.Complete())

	require.Len(t, report.Batches, 3)
	assert.True(t, report.Batches[0].Succeeded)
	assert.False(t, report.Batches[1].Succeeded)
	assert.Nil(t, report.Batches[1].HTTPStatus)
	assert.NotEmpty(t, report.Batches[1].Error)
	assert.True(t, report.Batches[2].Succeeded)

	// the failing batch was retried once
	assert.Len(t, rc.batches, 4)
}

func TestPublish_Acknowledgement(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		succeeded   bool
	}{
		{name: "json success", status: 200, contentType: "application/json", body: `{"success":true,"updated":2}`, succeeded: true},
		{name: "empty body", status: 204, body: "", succeeded: true},
		{name: "json array", status: 200, contentType: "application/json", body: `[]`, succeeded: true},
		{name: "html error page", status: 200, contentType: "text/html", body: "<html><body>Error</body></html>", succeeded: false},
		{name: "success false", status: 200, contentType: "application/json", body: `{"success":false,"error":"bad"}`, succeeded: false},
		{name: "sucesso false", status: 200, contentType: "application/json", body: `{"sucesso":false}`, succeeded: false},
		{name: "error without flag", status: 200, contentType: "application/json", body: `{"error":"collection not found"}`, succeeded: false},
		{name: "error object", status: 200, contentType: "application/json", body: `{"error":{"message":"quota"}}`, succeeded: false},
		{name: "errors list", status: 200, contentType: "application/json", body: `{"errors":["SKU-1 unknown"]}`, succeeded: false},
		{name: "empty error", status: 200, contentType: "application/json", body: `{"success":true,"error":null,"errors":[]}`, succeeded: true},
		{name: "client error", status: 400, contentType: "application/json", body: `{"error":"bad request"}`, succeeded: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := &receiver{respond: func(w http.ResponseWriter, r *http.Request, first string) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}}
			srv := httptest.NewServer(rc)
			defer srv.Close()

			p, _ := newTestPublisher(t, srv.URL)
			report := p.Publish(context.Background(), makeRecords(2))

			require.Len(t, report.Batches, 1)
			assert.Equal(t, tt.succeeded, report.Batches[0].Succeeded)
			require.NotNil(t, report.Batches[0].HTTPStatus)
			assert.Equal(t, tt.status, *report.Batches[0].HTTPStatus)
			if !tt.succeeded {
				assert.Equal(t, 0, report.RecordsConfirmed)
				assert.Len(t, rc.batches, 1, "application-level and 4xx failures are not retried")
			}
		})
	}
}

func TestPublish_RetriesServerErrors(t *testing.T) {
	var calls int32
	rc := &receiver{respond: func(w http.ResponseWriter, r *http.Request, first string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	p, waits := newTestPublisher(t, srv.URL)
	report := p.Publish(context.Background(), makeRecords(10))

	assert.Equal(t, 10, report.RecordsConfirmed)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, *waits)
}

func TestPublish_StatusBelongsToLastAttempt(t *testing.T) {
	var calls int32
	rc := &receiver{respond: func(w http.ResponseWriter, r *http.Request, first string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	p, _ := newTestPublisher(t, srv.URL)
	report := p.Publish(context.Background(), makeRecords(10))

	require.Len(t, report.Batches, 1)
	batch := report.Batches[0]
	assert.False(t, batch.Succeeded)
	assert.Nil(t, batch.HTTPStatus, "the final attempt got no response")
	assert.Contains(t, batch.Error, "request failed")
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestPublish_WrappedFormatAndAPIKey(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	p, _ := newTestPublisher(t, srv.URL)
	p.cfg.PayloadFormat = FormatWrapped
	p.cfg.APIKey = "secret"

	report := p.Publish(context.Background(), makeRecords(3))

	assert.Equal(t, 3, report.RecordsConfirmed)
	require.Len(t, rc.raw, 1)
	assert.Contains(t, rc.raw[0], `"produtos":[`)
	assert.Contains(t, rc.raw[0], `"code":"SKU-0"`)
	assert.Equal(t, "secret", rc.headers[0].Get("X-API-Key"))
	assert.Len(t, rc.batches[0], 3)
}

func TestPublish_CancelledMarksRemainingFailed(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	p, _ := newTestPublisher(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	report := p.Publish(ctx, makeRecords(250))

	assert.Len(t, rc.batches, 1)
	assert.Equal(t, 100, report.RecordsConfirmed)
	assert.Equal(t, 2, report.BatchesFailed)
	require.Len(t, report.Batches, 3)
	assert.Equal(t, 2, report.Batches[2].BatchIndex)
	assert.Equal(t, 50, report.Batches[2].ItemCount)
}

func TestPublish_Empty(t *testing.T) {
	p, _ := newTestPublisher(t, "http://127.0.0.1:1")
	report := p.Publish(context.Background(), nil)

	assert.Equal(t, 0, report.BatchesSent)
	assert.True(t, report.Complete())
}

func TestPublish_NotConfigured(t *testing.T) {
	p, _ := newTestPublisher(t, "")
	report := p.Publish(context.Background(), makeRecords(5))

	assert.Equal(t, 1, report.BatchesFailed)
	assert.Equal(t, ErrNotConfigured.Error(), report.Batches[0].Error)
}
