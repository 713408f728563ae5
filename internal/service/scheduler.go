package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"bling-wix-sync/internal/logger"

	"golang.org/x/exp/slog"
)

// SchedulerConfig holds the periodic job settings. A zero SyncInterval
// disables scheduled syncs; a zero PruneInterval disables history pruning.
type SchedulerConfig struct {
	SyncInterval     time.Duration
	PruneInterval    time.Duration
	HistoryRetention time.Duration
	InitialDelay     time.Duration
}

// Scheduler triggers sync runs and history pruning on fixed intervals.
type Scheduler struct {
	syncer    *SyncService
	config    SchedulerConfig
	log       *slog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
}

// NewScheduler creates a scheduler.
func NewScheduler(syncService *SyncService, config SchedulerConfig, log *slog.Logger) *Scheduler {
	if config.InitialDelay == 0 {
		config.InitialDelay = 30 * time.Second
	}
	return &Scheduler{
		syncer: syncService,
		config: config,
		log:    log.With(slog.String("component", "scheduler")),
		stopCh: make(chan struct{}),
	}
}

// Start launches the enabled loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true

	if s.config.SyncInterval > 0 {
		s.wg.Add(1)
		go s.loop(s.config.SyncInterval, s.runSync)
	}
	if s.config.PruneInterval > 0 && s.config.HistoryRetention > 0 {
		s.wg.Add(1)
		go s.loop(s.config.PruneInterval, s.runPrune)
	}

	s.log.Info("scheduler started",
		slog.Duration("sync_interval", s.config.SyncInterval),
		slog.Duration("prune_interval", s.config.PruneInterval),
		slog.Duration("history_retention", s.config.HistoryRetention))
}

// loop waits InitialDelay, runs job, then runs it on every tick.
func (s *Scheduler) loop(interval time.Duration, job func()) {
	defer s.wg.Done()

	initial := time.NewTimer(s.config.InitialDelay)
	defer initial.Stop()
	select {
	case <-initial.C:
		job()
	case <-s.stopCh:
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			job()
		case <-s.stopCh:
			return
		}
	}
}

// jobContext returns a context cancelled when the scheduler stops.
func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (s *Scheduler) runSync() {
	ctx, cancel := s.jobContext()
	defer cancel()

	_, err := s.syncer.Run(ctx, "scheduled")
	switch {
	case errors.Is(err, ErrSyncInProgress):
		s.log.Info("scheduled sync skipped, a run is in progress")
	case err != nil:
		s.log.Warn("scheduled sync failed", logger.Err(err))
	}
}

func (s *Scheduler) runPrune() {
	ctx, cancel := s.jobContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 5*time.Minute)
	defer cancelTimeout()

	deleted, err := s.syncer.PruneHistory(ctx, s.config.HistoryRetention)
	if err != nil {
		s.log.Error("history pruning failed", logger.Err(err))
		return
	}
	if deleted > 0 {
		s.log.Info("pruned sync history", slog.Int64("deleted", deleted))
	}
}

// Stop ends all loops, cancels a job in flight and waits for it to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.log.Info("scheduler stopped")
	})
}
