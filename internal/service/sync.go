package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bling-wix-sync/internal/bling"
	"bling-wix-sync/internal/cache"
	"bling-wix-sync/internal/events"
	"bling-wix-sync/internal/logger"
	"bling-wix-sync/internal/model"
	"bling-wix-sync/internal/repository"
	"bling-wix-sync/pkg/uid"

	"golang.org/x/exp/slog"
)

// ErrSyncInProgress is returned when a run is requested while another is active.
var ErrSyncInProgress = errors.New("a sync run is already in progress")

// recentRunsKept bounds the in-memory history used when no run repository is configured.
const recentRunsKept = 50

// Authenticator provides ERP access tokens.
type Authenticator interface {
	EnsureValidToken(ctx context.Context) (string, error)
	RefreshStored(ctx context.Context) (string, error)
}

// CatalogFetcher reads the full product catalog.
type CatalogFetcher interface {
	FetchAll(ctx context.Context, accessToken string) (*model.FetchResult, error)
}

// StockPublisher delivers records to the storefront.
type StockPublisher interface {
	Publish(ctx context.Context, records []model.StockRecord) *model.SyncReport
}

// SyncStatus is a snapshot of the orchestrator.
type SyncStatus struct {
	State   model.RunState `json:"state"`
	Running bool           `json:"running"`
	Current *model.SyncRun `json:"current,omitempty"`
	LastRun *model.SyncRun `json:"last_run,omitempty"`
}

// SyncService runs auth, fetch and publish as one sequential pipeline. At
// most one run executes at a time.
type SyncService struct {
	auth       Authenticator
	fetcher    CatalogFetcher
	publisher  StockPublisher
	stock      *cache.StockCache
	runs       repository.RunRepository
	events     events.Publisher
	log        *slog.Logger
	now        func() time.Time
	runTimeout time.Duration

	runMu sync.Mutex

	mu       sync.RWMutex
	state    model.RunState
	current  *model.SyncRun
	lastRun  *model.SyncRun
	recent   []model.SyncRun
	total    int64
	outcomes map[model.Outcome]int64
	lastGood time.Time
}

// SyncDeps groups the collaborators of a SyncService. Runs and Events are optional.
type SyncDeps struct {
	Auth       Authenticator
	Fetcher    CatalogFetcher
	Publisher  StockPublisher
	Stock      *cache.StockCache
	Runs       repository.RunRepository
	Events     events.Publisher
	RunTimeout time.Duration
}

// NewSyncService creates the orchestrator.
func NewSyncService(deps SyncDeps, log *slog.Logger) *SyncService {
	if deps.Events == nil {
		deps.Events = events.NoopPublisher{}
	}
	return &SyncService{
		auth:       deps.Auth,
		fetcher:    deps.Fetcher,
		publisher:  deps.Publisher,
		stock:      deps.Stock,
		runs:       deps.Runs,
		events:     deps.Events,
		log:        log.With(slog.String("component", "sync")),
		now:        time.Now,
		runTimeout: deps.RunTimeout,
		state:      model.StateIdle,
		outcomes:   make(map[model.Outcome]int64),
	}
}

// Run executes one synchronization. The returned run is always non-nil
// unless ErrSyncInProgress is returned. A non-nil error accompanies a
// failed run; partial delivery is reported through the run, not an error.
func (s *SyncService) Run(ctx context.Context, trigger string) (*model.SyncRun, error) {
	if !s.runMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.runMu.Unlock()

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	run := &model.SyncRun{
		ID:        uid.NewRunID(),
		Trigger:   trigger,
		State:     model.StateIdle,
		StartedAt: s.now(),
	}
	log := s.log.With(slog.String("run_id", run.ID), slog.String("trigger", trigger))
	log.Info("sync run started")

	s.transition(run, model.StateAuthenticating)
	token, err := s.authenticate(ctx, log)
	if err != nil {
		return s.fail(ctx, run, authErrorKind(err), err, log)
	}

	s.transition(run, model.StateFetching)
	records, err := s.fetch(ctx, run, token, log)
	if err != nil {
		var authErr *bling.AuthError
		var cfgErr *bling.ConfigError
		if errors.As(err, &authErr) || errors.As(err, &cfgErr) {
			return s.fail(ctx, run, authErrorKind(err), err, log)
		}
		return s.fail(ctx, run, model.ErrorKindFetch, err, log)
	}

	if len(records) == 0 {
		run.Outcome = model.OutcomeNothingToSync
		return s.finish(ctx, run, model.StateDone, log), nil
	}

	s.transition(run, model.StatePublishing)
	run.Report = s.publisher.Publish(ctx, records)
	run.Outcome = classify(run)

	return s.finish(ctx, run, model.StateDone, log), nil
}

// authenticate obtains a token, retrying once on a transient failure.
func (s *SyncService) authenticate(ctx context.Context, log *slog.Logger) (string, error) {
	token, err := s.auth.EnsureValidToken(ctx)
	if err != nil && bling.IsTransient(err) {
		log.Warn("transient auth failure, retrying once", logger.Err(err))
		token, err = s.auth.EnsureValidToken(ctx)
	}
	return token, err
}

// fetch reads the catalog, refreshing once on a rejected token, and falls
// back to the fresh then the stale cache when the live fetch yields nothing.
func (s *SyncService) fetch(ctx context.Context, run *model.SyncRun, token string, log *slog.Logger) ([]model.StockRecord, error) {
	result, err := s.fetcher.FetchAll(ctx, token)
	if errors.Is(err, bling.ErrUnauthorized) {
		log.Warn("access token rejected, refreshing and retrying the fetch")
		token, err = s.auth.RefreshStored(ctx)
		if err != nil {
			return nil, err
		}
		result, err = s.fetcher.FetchAll(ctx, token)
	}

	if result != nil {
		run.PagesFetched = result.PagesFetched
		run.PagesFailed = result.PagesFailed
		run.FetchAborted = result.Aborted
		run.FetchTruncated = result.Truncated
	}

	if err == nil {
		run.Source = model.SourceLive
		run.RecordsFetched = len(result.Records)
		if putErr := s.stock.Put(ctx, result.Records); putErr != nil {
			log.Error("failed to update stock cache", logger.Err(putErr))
		}
		return result.Records, nil
	}

	log.Warn("live fetch produced no records, trying cache", logger.Err(err))

	if records, ok := s.stock.Get(ctx); ok {
		run.Source = model.SourceCache
		run.RecordsFetched = len(records)
		log.Info("using cached records", slog.Int("records", len(records)))
		return records, nil
	}
	if records, ok := s.stock.GetStale(ctx); ok {
		run.Source = model.SourceStaleCache
		run.RecordsFetched = len(records)
		log.Warn("using stale cached records", slog.Int("records", len(records)))
		return records, nil
	}

	var fetchErr *bling.FetchError
	if errors.As(err, &fetchErr) && fetchErr.EmptyCatalog() {
		run.Source = model.SourceLive
		return nil, nil
	}
	return nil, err
}

// classify derives the outcome of a run that reached publishing.
func classify(run *model.SyncRun) model.Outcome {
	report := run.Report
	switch {
	case report == nil || (report.TotalRecords > 0 && report.RecordsConfirmed == 0):
		return model.OutcomeFailed
	case report.Complete() && run.Source == model.SourceLive && run.PagesFailed == 0 && !run.FetchAborted && !run.FetchTruncated:
		return model.OutcomeSuccess
	default:
		return model.OutcomePartial
	}
}

func authErrorKind(err error) string {
	var cfgErr *bling.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return model.ErrorKindConfig
	case bling.IsInvalidGrant(err):
		return model.ErrorKindInvalidGrant
	default:
		return model.ErrorKindAuth
	}
}

func (s *SyncService) fail(ctx context.Context, run *model.SyncRun, kind string, err error, log *slog.Logger) (*model.SyncRun, error) {
	run.Outcome = model.OutcomeFailed
	run.ErrorKind = kind
	run.Error = err.Error()
	return s.finish(ctx, run, model.StateFailed, log), err
}

// finish records the terminal state, stores the run and emits its event.
func (s *SyncService) finish(ctx context.Context, run *model.SyncRun, state model.RunState, log *slog.Logger) *model.SyncRun {
	run.State = state
	run.FinishedAt = s.now()

	done := *run
	s.mu.Lock()
	s.state = state
	s.current = nil
	s.lastRun = &done
	s.total++
	s.outcomes[run.Outcome]++
	if run.Outcome == model.OutcomeSuccess || run.Outcome == model.OutcomePartial {
		s.lastGood = run.FinishedAt
	}
	if s.runs == nil {
		s.recent = append([]model.SyncRun{done}, s.recent...)
		if len(s.recent) > recentRunsKept {
			s.recent = s.recent[:recentRunsKept]
		}
	}
	s.mu.Unlock()

	attrs := []any{
		slog.String("state", string(state)),
		slog.String("outcome", string(run.Outcome)),
		slog.String("source", string(run.Source)),
		slog.Int("records", run.RecordsFetched),
		slog.Duration("duration", run.Duration()),
	}
	if run.Report != nil {
		attrs = append(attrs,
			slog.Int("batches_failed", run.Report.BatchesFailed),
			slog.Int("records_confirmed", run.Report.RecordsConfirmed))
	}
	if run.Error != "" {
		attrs = append(attrs, slog.String("error_kind", run.ErrorKind), slog.String("error", run.Error))
		log.Error("sync run failed", attrs...)
	} else {
		log.Info("sync run finished", attrs...)
	}

	s.record(ctx, &done, log)
	return run
}

// record persists and announces a finished run. Failures are only logged.
func (s *SyncService) record(ctx context.Context, run *model.SyncRun, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if s.runs != nil {
		if err := s.runs.Insert(ctx, run); err != nil {
			log.Error("failed to store sync run", logger.Err(err))
		}
	}
	if err := s.events.PublishRun(ctx, run); err != nil {
		log.Error("failed to publish sync run event", logger.Err(err))
	}
}

func (s *SyncService) transition(run *model.SyncRun, state model.RunState) {
	run.State = state
	snapshot := *run

	s.mu.Lock()
	s.state = state
	s.current = &snapshot
	s.mu.Unlock()

	s.log.Debug("state changed", slog.String("run_id", run.ID), slog.String("state", string(state)))
}

// Status returns the current state and the last finished run.
func (s *SyncService) Status() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SyncStatus{State: s.state, Running: s.current != nil}
	if s.current != nil {
		cur := *s.current
		status.Current = &cur
	}
	if s.lastRun != nil {
		last := *s.lastRun
		status.LastRun = &last
	}
	return status
}

// History lists finished runs newest first.
func (s *SyncService) History(ctx context.Context, limit, offset int) ([]model.SyncRun, int64, error) {
	if s.runs != nil {
		return s.runs.List(ctx, limit, offset)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := int64(len(s.recent))
	if offset >= len(s.recent) {
		return []model.SyncRun{}, total, nil
	}
	end := offset + limit
	if end > len(s.recent) {
		end = len(s.recent)
	}
	page := make([]model.SyncRun, end-offset)
	copy(page, s.recent[offset:end])
	return page, total, nil
}

// PruneHistory deletes stored runs older than retention.
func (s *SyncService) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	if s.runs == nil || retention <= 0 {
		return 0, nil
	}
	deleted, err := s.runs.DeleteOlderThan(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune run history: %w", err)
	}
	return deleted, nil
}

// Stats returns run counters for the admin endpoint.
func (s *SyncService) Stats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	byOutcome := make(map[string]int64, len(s.outcomes))
	for k, v := range s.outcomes {
		byOutcome[string(k)] = v
	}
	stats := map[string]interface{}{
		"state":            s.state,
		"runs_since_start": s.total,
		"runs_by_outcome":  byOutcome,
	}
	if !s.lastGood.IsZero() {
		stats["last_delivery_at"] = s.lastGood
	}
	s.mu.RUnlock()

	if s.runs != nil {
		history, err := s.runs.GetStats(ctx)
		if err != nil {
			s.log.Warn("failed to read history stats", logger.Err(err))
		} else {
			stats["history"] = history
		}
	}
	return stats
}
