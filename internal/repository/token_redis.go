package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bling-wix-sync/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisTokenRepository keeps the token pair as JSON under one key, without expiry.
type RedisTokenRepository struct {
	client *redis.Client
	key    string
}

// NewRedisTokenRepository creates a Redis-backed token repository.
func NewRedisTokenRepository(client *redis.Client, prefix string) *RedisTokenRepository {
	return &RedisTokenRepository{
		client: client,
		key:    prefix + ":bling:token",
	}
}

// Load returns the stored pair.
func (r *RedisTokenRepository) Load(ctx context.Context) (*model.TokenPair, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token pair: %w", err)
	}

	var pair model.TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("failed to parse token pair: %w", err)
	}
	return &pair, nil
}

// Save replaces the stored pair.
func (r *RedisTokenRepository) Save(ctx context.Context, pair model.TokenPair) error {
	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to serialize token pair: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save token pair: %w", err)
	}
	return nil
}

// Delete removes the stored pair.
func (r *RedisTokenRepository) Delete(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

// Name identifies the backend.
func (r *RedisTokenRepository) Name() string { return "redis" }

var _ TokenRepository = (*RedisTokenRepository)(nil)
