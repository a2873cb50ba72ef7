package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxgate/voxgate/internal/model"
)

const (
	// authCachePrefix is the Redis key prefix for auth context cache.
	authCachePrefix = "auth:ctx:"
	// authCacheTTL is the time-to-live for cached auth contexts.
	authCacheTTL = 5 * time.Minute
)

// CachedAuthContext represents auth context stored in Redis.
type CachedAuthContext struct {
	KeyID  string `json:"key_id"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Plan   string `json:"plan"`
}

// GetAuthContext retrieves a cached auth context by key digest.
// Returns nil, nil on a cache miss.
func (c *Cache) GetAuthContext(ctx context.Context, digest string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, authCachePrefix+digest).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get auth context: %w", err)
	}

	var cached CachedAuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted cache entry - treat as miss
		return nil, nil //nolint:nilerr
	}

	return &model.AuthContext{
		KeyID:  cached.KeyID,
		UserID: cached.UserID,
		Email:  cached.Email,
		Plan:   model.Plan(cached.Plan),
	}, nil
}

// SetAuthContext caches an auth context under a key digest.
func (c *Cache) SetAuthContext(ctx context.Context, digest string, auth *model.AuthContext) error {
	cached := CachedAuthContext{
		KeyID:  auth.KeyID,
		UserID: auth.UserID,
		Email:  auth.Email,
		Plan:   string(auth.Plan),
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	return c.client.Set(ctx, authCachePrefix+digest, data, authCacheTTL).Err()
}
