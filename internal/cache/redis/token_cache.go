package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// defaultTokenTTL matches the provider's own update cadence; candidate lists
// change slowly relative to rebalance intervals.
const defaultTokenTTL = 15 * time.Minute

// TokenCache implements domain.TokenCache using JSON-serialized token lists
// keyed by category and limit.
//
// Key schema:
//
//	tokens:{category}:{limit} - JSON array of domain.Token
type TokenCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTokenCache creates a TokenCache backed by the given Client. A ttl of 0
// uses the default of 15 minutes.
func NewTokenCache(c *Client, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenCache{rdb: c.Underlying(), ttl: ttl}
}

func tokenKey(category string, limit int) string {
	return "tokens:" + category + ":" + strconv.Itoa(limit)
}

// Get retrieves the cached candidate list for a category. It returns
// domain.ErrNotFound when the key does not exist or has expired.
func (tc *TokenCache) Get(ctx context.Context, category string, limit int) ([]domain.Token, error) {
	data, err := tc.rdb.Get(ctx, tokenKey(category, limit)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get tokens %s: %w", category, err)
	}

	var tokens []domain.Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("redis: unmarshal tokens %s: %w", category, err)
	}
	return tokens, nil
}

// Set stores a candidate list with the cache TTL.
func (tc *TokenCache) Set(ctx context.Context, category string, limit int, tokens []domain.Token) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("redis: marshal tokens %s: %w", category, err)
	}
	if err := tc.rdb.Set(ctx, tokenKey(category, limit), data, tc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set tokens %s: %w", category, err)
	}
	return nil
}

// Invalidate removes all cached lists for a category regardless of limit.
func (tc *TokenCache) Invalidate(ctx context.Context, category string) error {
	iter := tc.rdb.Scan(ctx, 0, "tokens:"+category+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := tc.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis: invalidate tokens %s: %w", category, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: invalidate tokens %s: %w", category, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TokenCache = (*TokenCache)(nil)
