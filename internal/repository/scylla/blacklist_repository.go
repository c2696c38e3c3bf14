package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"unisocial-auth/internal/bucketing"
	"unisocial-auth/internal/util"
)

type blacklistRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewBlacklistRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager, logger *zap.Logger) BlacklistRepository {
	return &blacklistRepository{
		client:    client,
		bucketing: bucketingMgr,
	}
}

func (r *blacklistRepository) Revoke(ctx context.Context, token string, expiresAt, now time.Time) error {
	bucket := r.bucketing.TokenBucket(token)

	query := r.client.Query(r.client.Statements.RevokeToken,
		bucket, token, expiresAt.UTC(), now.UTC()).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to revoke token",
			zap.Int("token_bucket", bucket),
			zap.Error(err))
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	util.Info("Token revoked",
		zap.Int("token_bucket", bucket),
		zap.Time("expires_at", expiresAt))

	return nil
}

func (r *blacklistRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	bucket := r.bucketing.TokenBucket(token)

	var stored string
	err := r.client.Query(r.client.Statements.IsTokenRevoked, bucket, token).
		WithContext(ctx).Scan(&stored)
	if err != nil {
		if err == gocql.ErrNotFound {
			return false, nil
		}
		util.Error("Failed to check token revocation",
			zap.Int("token_bucket", bucket),
			zap.Error(err))
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}

	return true, nil
}

// PurgeExpired walks every token bucket and batch-deletes records whose
// expiry has passed. A record's absence afterwards never means "token still
// valid": the token's own signature/expiry check rejects it independently.
func (r *blacklistRepository) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	deletedCount := 0

	for bucket := 0; bucket < r.bucketing.TokenBuckets(); bucket++ {
		iter := r.client.Query(r.client.Statements.ScanExpired, bucket, now.UTC()).
			WithContext(ctx).Iter()

		var token string
		batch := r.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		batchSize := 0

		for iter.Scan(&token) {
			batch.Query(r.client.Statements.DeleteToken, bucket, token)
			batchSize++

			if batchSize >= 100 {
				if err := r.client.ExecuteBatch(batch); err != nil {
					iter.Close()
					util.Error("Failed to batch-delete expired tokens",
						zap.Int("token_bucket", bucket),
						zap.Error(err))
					return deletedCount, fmt.Errorf("failed to delete expired tokens: %w", err)
				}
				deletedCount += batchSize
				batch = r.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
				batchSize = 0
			}
		}

		if batchSize > 0 {
			if err := r.client.ExecuteBatch(batch); err != nil {
				iter.Close()
				util.Error("Failed to batch-delete expired tokens",
					zap.Int("token_bucket", bucket),
					zap.Error(err))
				return deletedCount, fmt.Errorf("failed to delete expired tokens: %w", err)
			}
			deletedCount += batchSize
		}

		if err := iter.Close(); err != nil {
			util.Error("Failed to scan expired tokens",
				zap.Int("token_bucket", bucket),
				zap.Error(err))
			return deletedCount, fmt.Errorf("failed to scan expired tokens: %w", err)
		}
	}

	util.Info("Expired blacklist records purged", zap.Int("deleted_count", deletedCount))
	return deletedCount, nil
}

func (r *blacklistRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
