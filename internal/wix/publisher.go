// Package wix delivers stock records to the storefront ingestion endpoint.
package wix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bling-wix-sync/internal/logger"
	"bling-wix-sync/internal/model"
	"bling-wix-sync/pkg/retry"

	"golang.org/x/exp/slog"
)

// Payload formats accepted by the receiver.
const (
	FormatArray   = "array"
	FormatWrapped = "wrapped"
)

// ErrNotConfigured is returned when no endpoint URL is set.
var ErrNotConfigured = errors.New("wix: endpoint url not configured")

// PublisherConfig controls batching and delivery.
type PublisherConfig struct {
	EndpointURL   string
	APIKey        string
	BatchSize     int
	BatchDelay    time.Duration
	PayloadFormat string
	Retry         retry.Policy
}

// Publisher pushes records to the receiver in sequential batches.
type Publisher struct {
	cfg        PublisherConfig
	httpClient *http.Client
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewPublisher creates a publisher.
func NewPublisher(cfg PublisherConfig, httpClient *http.Client, log *slog.Logger) *Publisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PayloadFormat == "" {
		cfg.PayloadFormat = FormatArray
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Publisher{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log.With(slog.String("component", "wix_publisher")),
		sleep:      retry.Sleep,
	}
}

// Configured reports whether an endpoint is set.
func (p *Publisher) Configured() bool {
	return p.cfg.EndpointURL != ""
}

// Publish sends records in batches of BatchSize, in order, waiting BatchDelay
// between batches. A failed batch is recorded and the next one is still
// sent. When ctx ends the remaining batches are reported as failed.
func (p *Publisher) Publish(ctx context.Context, records []model.StockRecord) *model.SyncReport {
	report := &model.SyncReport{TotalRecords: len(records)}
	batches := chunk(records, p.cfg.BatchSize)

	for i, batch := range batches {
		if i > 0 {
			if err := p.sleep(ctx, p.cfg.BatchDelay); err != nil {
				p.abandon(report, batches[i:], i, err)
				break
			}
		}
		if ctx.Err() != nil {
			p.abandon(report, batches[i:], i, ctx.Err())
			break
		}

		result := p.sendBatch(ctx, i, batch)
		p.record(report, result)
	}

	p.log.Info("publish finished",
		slog.Int("records", report.TotalRecords),
		slog.Int("batches_sent", report.BatchesSent),
		slog.Int("batches_failed", report.BatchesFailed),
		slog.Int("records_confirmed", report.RecordsConfirmed))
	return report
}

func (p *Publisher) record(report *model.SyncReport, result model.BatchResult) {
	report.Batches = append(report.Batches, result)
	report.BatchesSent++
	if result.Succeeded {
		report.RecordsConfirmed += result.ItemCount
		return
	}
	report.BatchesFailed++
}

func (p *Publisher) abandon(report *model.SyncReport, rest [][]model.StockRecord, offset int, err error) {
	for j, batch := range rest {
		report.Batches = append(report.Batches, model.BatchResult{
			BatchIndex: offset + j,
			ItemCount:  len(batch),
			Error:      fmt.Sprintf("not sent: %v", err),
		})
		report.BatchesFailed++
	}
	p.log.Warn("publish interrupted", slog.Int("batches_skipped", len(rest)), logger.Err(err))
}

// sendBatch delivers one batch, retrying network errors, 429 and 5xx.
func (p *Publisher) sendBatch(ctx context.Context, index int, batch []model.StockRecord) model.BatchResult {
	result := model.BatchResult{BatchIndex: index, ItemCount: len(batch)}

	if !p.Configured() {
		result.Error = ErrNotConfigured.Error()
		return result
	}

	body, err := p.encode(batch)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	attempts := p.cfg.Retry.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		result.HTTPStatus = nil
		status, retryable, wait, err := p.post(ctx, body)
		if status != 0 {
			s := status
			result.HTTPStatus = &s
		}
		if err == nil {
			result.Succeeded = true
			result.Error = ""
			p.log.Debug("batch delivered", slog.Int("batch", index), slog.Int("items", len(batch)))
			return result
		}
		result.Error = err.Error()

		if !retryable || attempt == attempts {
			break
		}
		if d := p.cfg.Retry.Delay(attempt); d > wait {
			wait = d
		}
		p.log.Debug("retrying batch", slog.Int("batch", index), slog.Int("attempt", attempt), slog.Duration("wait", wait), logger.Err(err))
		if err := p.sleep(ctx, wait); err != nil {
			result.Error = err.Error()
			break
		}
	}

	p.log.Warn("batch failed", slog.Int("batch", index), slog.Int("items", len(batch)), slog.String("error", result.Error))
	return result
}

func (p *Publisher) encode(batch []model.StockRecord) ([]byte, error) {
	var payload interface{} = batch
	if p.cfg.PayloadFormat == FormatWrapped {
		payload = map[string]interface{}{"produtos": batch}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return body, nil
}

// post sends one request. It returns the HTTP status (0 when none was
// received), whether a failure may be retried, and any Retry-After wait.
func (p *Publisher) post(ctx context.Context, body []byte) (int, bool, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return 0, false, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, ctx.Err() == nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, true, 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var wait time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			wait = retry.RetryAfter(resp, 0)
		}
		return resp.StatusCode, retry.Retryable(resp.StatusCode), wait,
			fmt.Errorf("receiver returned status %d: %s", resp.StatusCode, snippet(respBody))
	}

	if err := acknowledged(respBody); err != nil {
		return resp.StatusCode, false, 0, err
	}
	return resp.StatusCode, false, 0, nil
}

// acknowledged inspects a 2xx body. An empty body is accepted. A body that is
// not JSON fails, as does a JSON object with a false success flag or a
// non-empty top-level error.
func acknowledged(body []byte) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("receiver returned a non-JSON body: %s", snippet(body))
	}

	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return nil
	}
	for _, key := range []string{"success", "sucesso", "ok"} {
		if flag, ok := obj[key].(bool); ok && !flag {
			return fmt.Errorf("receiver rejected the batch: %s", snippet(body))
		}
	}
	for _, key := range []string{"error", "erro", "errors"} {
		if present(obj[key]) {
			return fmt.Errorf("receiver reported an error: %s", snippet(body))
		}
	}
	return nil
}

// present reports whether a decoded JSON value carries content.
func present(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	case float64:
		return v != 0
	case []interface{}:
		return len(v) > 0
	case map[string]interface{}:
		return len(v) > 0
	default:
		return true
	}
}

func chunk(records []model.StockRecord, size int) [][]model.StockRecord {
	var batches [][]model.StockRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
