package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"unisocial-auth/internal/client"
	"unisocial-auth/internal/util"
)

const revokedKeyPrefix = "revoked:"

var errCacheUnavailable = errors.New("revocation cache unavailable")

// BlacklistCache fronts the durable revocation ledger with TTL'd Redis keys.
// It only ever answers "definitely revoked" or "don't know": a miss sends the
// caller to ScyllaDB, and a cache outage is reported as an error rather than
// silently treated as a miss, so it never turns a revoked token valid.
type BlacklistCache struct {
	client *client.RedisClient
}

func NewBlacklistCache(redisClient *client.RedisClient, logger *zap.Logger) *BlacklistCache {
	return &BlacklistCache{client: redisClient}
}

// tokenKey hashes the raw token so full session tokens never live in Redis.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revokedKeyPrefix + hex.EncodeToString(sum[:])
}

// MarkRevoked caches a revocation until the token's natural expiry. Tokens
// already past expiry are skipped; the signature check rejects those anyway.
func (c *BlacklistCache) MarkRevoked(ctx context.Context, token string, expiresAt, now time.Time) error {
	if c.client == nil {
		return errCacheUnavailable
	}
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}

	key := tokenKey(token)
	if err := c.client.Set(ctx, key, "1", ttl); err != nil {
		return fmt.Errorf("failed to cache revocation: %w", err)
	}

	util.Debug("Revocation cached", zap.Duration("ttl", ttl))
	return nil
}

// IsRevoked reports whether the token has a cached revocation. false with a
// nil error only means "not cached here"; callers must still consult the
// durable ledger on a miss.
func (c *BlacklistCache) IsRevoked(ctx context.Context, token string) (bool, error) {
	if c.client == nil {
		return false, errCacheUnavailable
	}
	exists, err := c.client.Exists(ctx, tokenKey(token))
	if err != nil {
		return false, fmt.Errorf("failed to check revocation cache: %w", err)
	}
	return exists, nil
}

func (c *BlacklistCache) HealthCheck(ctx context.Context) error {
	if c.client == nil {
		return errCacheUnavailable
	}
	return c.client.HealthCheck(ctx)
}
