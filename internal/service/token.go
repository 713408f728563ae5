package service

import (
	"context"
	"fmt"
	"sync"

	"bling-wix-sync/internal/logger"
	"bling-wix-sync/internal/model"
	"bling-wix-sync/internal/repository"

	"golang.org/x/exp/slog"
)

// TokenStore holds the current ERP token pair. The pair is replaced as a
// whole under the lock and then written through to the repository, if any.
type TokenStore struct {
	mu   sync.RWMutex
	pair model.TokenPair
	held bool

	repo repository.TokenRepository
	log  *slog.Logger
}

// NewTokenStore creates a store; repo may be nil for memory-only operation.
func NewTokenStore(repo repository.TokenRepository, log *slog.Logger) *TokenStore {
	return &TokenStore{
		repo: repo,
		log:  log.With(slog.String("component", "token_store")),
	}
}

// Load restores the persisted pair. When nothing is persisted and
// bootstrapRefreshToken is set, the store starts with that refresh token
// only, so the first use triggers a refresh.
func (s *TokenStore) Load(ctx context.Context, bootstrapRefreshToken string) error {
	if s.repo != nil {
		pair, err := s.repo.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load token pair: %w", err)
		}
		if pair != nil && pair.RefreshToken != "" {
			s.set(*pair)
			s.log.Info("token pair restored", slog.String("backend", s.repo.Name()), slog.Time("obtained_at", pair.ObtainedAt))
			return nil
		}
	}

	if bootstrapRefreshToken != "" {
		s.set(model.TokenPair{RefreshToken: bootstrapRefreshToken})
		s.log.Info("bootstrapped from configured refresh token")
		return nil
	}

	s.log.Warn("no token pair available, authorization required")
	return nil
}

// Current returns the held pair.
func (s *TokenStore) Current() (model.TokenPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.held
}

// Replace swaps the pair and persists it. The in-memory pair is replaced
// even when persisting fails. When a rotated pair cannot be saved, the
// persisted pair is deleted so a restart never loads a rotated-out refresh
// token.
func (s *TokenStore) Replace(ctx context.Context, pair model.TokenPair) error {
	prev := s.set(pair)
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Save(ctx, pair); err != nil {
		if prev.RefreshToken != "" && prev.RefreshToken != pair.RefreshToken {
			if delErr := s.repo.Delete(ctx); delErr != nil {
				s.log.Error("failed to drop rotated-out token pair", logger.Err(delErr))
			} else {
				s.log.Warn("dropped persisted token pair after failed save of rotated token")
			}
		}
		return fmt.Errorf("failed to persist token pair: %w", err)
	}
	return nil
}

// Clear drops the pair in memory and in the repository.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.pair = model.TokenPair{}
	s.held = false
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}
	if err := s.repo.Delete(ctx); err != nil {
		s.log.Error("failed to delete persisted token pair", logger.Err(err))
		return fmt.Errorf("failed to delete token pair: %w", err)
	}
	return nil
}

// Stats returns token store details for the admin endpoint. Secrets are never included.
func (s *TokenStore) Stats() map[string]interface{} {
	pair, held := s.Current()
	backend := "memory"
	if s.repo != nil {
		backend = s.repo.Name()
	}
	stats := map[string]interface{}{
		"backend":          backend,
		"held":             held,
		"has_access_token": pair.HasAccessToken(),
	}
	if !pair.ObtainedAt.IsZero() {
		stats["obtained_at"] = pair.ObtainedAt
	}
	return stats
}

func (s *TokenStore) set(pair model.TokenPair) model.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.pair
	s.pair = pair
	s.held = true
	return prev
}
