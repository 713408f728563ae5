package bling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bling-wix-sync/internal/logger"
	"bling-wix-sync/internal/model"
	"bling-wix-sync/pkg/retry"

	"golang.org/x/exp/slog"
)

const userAgent = "bling-wix-sync"

// FetcherConfig controls pagination, pacing and failure tolerance.
type FetcherConfig struct {
	ProductsURL string
	PageParam   string
	LimitParam  string
	PageSize    int
	MaxPages    int

	PageDelay  time.Duration
	ErrorDelay time.Duration

	// FailureThreshold consecutive failed pages abort pagination.
	// DegradedFailureThreshold replaces it when the precheck finds the ERP slow or unreachable.
	FailureThreshold         int
	DegradedFailureThreshold int
	ConnectivityPrecheck     bool
	DegradedLatency          time.Duration

	Retry retry.Policy
}

func (c *FetcherConfig) applyDefaults() {
	if c.PageParam == "" {
		c.PageParam = "pagina"
	}
	if c.LimitParam == "" {
		c.LimitParam = "limite"
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 1000
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.DegradedFailureThreshold < c.FailureThreshold {
		c.DegradedFailureThreshold = c.FailureThreshold
	}
}

// ProductFetcher walks the ERP product listing page by page.
type ProductFetcher struct {
	cfg        FetcherConfig
	httpClient *http.Client
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewProductFetcher creates a fetcher.
func NewProductFetcher(cfg FetcherConfig, httpClient *http.Client, log *slog.Logger) *ProductFetcher {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &ProductFetcher{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log.With(slog.String("component", "bling_products")),
		sleep:      retry.Sleep,
		now:        time.Now,
	}
}

// pageError is a page request failure; retryable decides whether another
// attempt is made.
type pageError struct {
	status    int
	retryable bool
	wait      time.Duration
	err       error
}

func (e *pageError) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("status %d: %v", e.status, e.err)
	}
	return e.err.Error()
}

func (e *pageError) Unwrap() error { return e.err }

// FetchAll retrieves the whole catalog. Pages that fail every attempt are
// skipped; a run of consecutive failures reaching the threshold ends
// pagination early with whatever was collected. A FetchError is returned
// only when no product was obtained. ErrUnauthorized aborts immediately.
func (f *ProductFetcher) FetchAll(ctx context.Context, accessToken string) (*model.FetchResult, error) {
	if f.cfg.ProductsURL == "" {
		return nil, &ConfigError{Field: "BLING_PRODUCTS_URL", Msg: "not configured"}
	}

	result := &model.FetchResult{}
	threshold := f.cfg.FailureThreshold
	if f.cfg.ConnectivityPrecheck && f.degraded(ctx, accessToken) {
		result.Degraded = true
		threshold = f.cfg.DegradedFailureThreshold
		f.log.Warn("ERP connectivity degraded, raising failure threshold", slog.Int("threshold", threshold))
	}

	var lastErr error
	consecutive := 0

	page := 1
	for ; page <= f.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			result.Aborted = true
			break
		}

		items, err := f.fetchPage(ctx, accessToken, page)
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		if err != nil {
			lastErr = err
			consecutive++
			result.PagesFailed++
			f.log.Warn("page failed after retries",
				slog.Int("page", page),
				slog.Int("consecutive_failures", consecutive),
				logger.Err(err))

			if consecutive >= threshold {
				result.Aborted = true
				f.log.Error("too many consecutive page failures, stopping pagination",
					slog.Int("page", page), slog.Int("records", len(result.Records)))
				break
			}
			if err := f.sleep(ctx, f.cfg.ErrorDelay); err != nil {
				lastErr = err
				result.Aborted = true
				break
			}
			continue
		}

		consecutive = 0
		result.PagesFetched++
		for _, raw := range items {
			result.Records = append(result.Records, raw.Normalize())
		}

		f.log.Debug("page fetched", slog.Int("page", page), slog.Int("items", len(items)))

		if len(items) < f.cfg.PageSize {
			break
		}
		if err := f.sleep(ctx, f.cfg.PageDelay); err != nil {
			lastErr = err
			result.Aborted = true
			break
		}
	}

	// Reaching the page cap without a short page means the catalog may go on.
	if page > f.cfg.MaxPages {
		result.Truncated = true
		result.Aborted = true
		f.log.Warn("page cap reached, catalog may be incomplete",
			slog.Int("max_pages", f.cfg.MaxPages), slog.Int("records", len(result.Records)))
	}

	f.log.Info("catalog fetch finished",
		slog.Int("records", len(result.Records)),
		slog.Int("pages_fetched", result.PagesFetched),
		slog.Int("pages_failed", result.PagesFailed),
		slog.Bool("aborted", result.Aborted),
		slog.Bool("truncated", result.Truncated))

	if len(result.Records) == 0 {
		return result, &FetchError{
			PagesFetched: result.PagesFetched,
			PagesFailed:  result.PagesFailed,
			Err:          lastErr,
		}
	}
	return result, nil
}

// fetchPage requests one page with the retry policy applied.
func (f *ProductFetcher) fetchPage(ctx context.Context, accessToken string, page int) ([]model.RawProduct, error) {
	attempts := f.cfg.Retry.Attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		items, err := f.requestPage(ctx, accessToken, page, f.cfg.PageSize)
		if err == nil {
			return items, nil
		}
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		lastErr = err

		var pe *pageError
		if errors.As(err, &pe) && !pe.retryable {
			return nil, err
		}
		if attempt == attempts {
			break
		}

		wait := f.cfg.Retry.Delay(attempt)
		if pe != nil && pe.wait > wait {
			wait = pe.wait
		}
		f.log.Debug("retrying page", slog.Int("page", page), slog.Int("attempt", attempt), slog.Duration("wait", wait), logger.Err(err))
		if err := f.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("page %d failed after %d attempts: %w", page, attempts, lastErr)
}

func (f *ProductFetcher) requestPage(ctx context.Context, accessToken string, page, limit int) ([]model.RawProduct, error) {
	u, err := url.Parse(f.cfg.ProductsURL)
	if err != nil {
		return nil, &pageError{err: fmt.Errorf("invalid products url: %w", err)}
	}
	q := u.Query()
	q.Set(f.cfg.PageParam, strconv.Itoa(page))
	q.Set(f.cfg.LimitParam, strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &pageError{err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &pageError{retryable: ctx.Err() == nil, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &pageError{
			status:    resp.StatusCode,
			retryable: retry.Retryable(resp.StatusCode),
			wait:      retryAfter(resp),
			err:       fmt.Errorf("API request failed: %s", truncate(string(body), 200)),
		}
	}

	var pageResp model.RawProductPage
	if err := json.NewDecoder(resp.Body).Decode(&pageResp); err != nil {
		return nil, &pageError{retryable: true, err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return pageResp.Data, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}
	return retry.RetryAfter(resp, 0)
}

// degraded checks the listing with a single-item request. A failed or slow
// check marks connectivity as degraded.
func (f *ProductFetcher) degraded(ctx context.Context, accessToken string) bool {
	start := f.now()
	_, err := f.requestPage(ctx, accessToken, 1, 1)
	elapsed := f.now().Sub(start)

	if err != nil {
		// A rejected token is not a connectivity problem; the first page reports it.
		return !errors.Is(err, ErrUnauthorized)
	}
	return f.cfg.DegradedLatency > 0 && elapsed > f.cfg.DegradedLatency
}
