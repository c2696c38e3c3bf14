package bucketing

import (
	"hash"
	"sync"

	"unisocial-auth/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager assigns rows to partition buckets so no single Scylla
// partition becomes hot. User rows bucket on the normalized email (the login
// key), revoked-token rows on the raw token string. The assignment is a pure
// function of the key, so readers recompute it instead of storing a mapping.
type BucketingManager struct {
	userBuckets  int
	tokenBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		tokenBuckets: cfg.Bucketing.TokenBuckets,
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// UserBucket returns the partition bucket for a user keyed by email.
func (bm *BucketingManager) UserBucket(email string) int {
	return bm.bucket(email, bm.userBuckets)
}

// TokenBucket returns the partition bucket for a revoked-token row.
func (bm *BucketingManager) TokenBucket(token string) int {
	return bm.bucket(token, bm.tokenBuckets)
}

// UserBuckets returns the configured number of user partitions.
func (bm *BucketingManager) UserBuckets() int {
	return bm.userBuckets
}

// TokenBuckets returns the configured number of token partitions. The purge
// job iterates these.
func (bm *BucketingManager) TokenBuckets() int {
	return bm.tokenBuckets
}

func (bm *BucketingManager) bucket(key string, numBuckets int) int {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return int(hasher.Sum64() % uint64(numBuckets))
}
