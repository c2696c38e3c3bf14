package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"unisocial-auth/internal/config"
	"unisocial-auth/internal/util"
)

// Statements holds the CQL used by the repositories. Queries are created per
// call from these; gocql prepares and caches them per statement under the
// hood, which keeps concurrent use safe.
type Statements struct {
	CreateUser      string
	GetUserByEmail  string
	EnableUser      string
	ReserveUsername string
	ReleaseUsername string

	RevokeToken    string
	IsTokenRevoked string
	ScanExpired    string
	DeleteToken    string
}

type ScyllaClient struct {
	Session    *gocql.Session
	config     *config.ScyllaConfig
	Statements Statements
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session:    session,
		config:     &scyllaConfig,
		Statements: defaultStatements(),
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func defaultStatements() Statements {
	return Statements{
		CreateUser: `
        INSERT INTO users (
            user_bucket, user_id, email, username, password_hash,
            enabled, otp_code, otp_expires_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,

		GetUserByEmail: `
        SELECT user_bucket, user_id, email, username, password_hash,
            enabled, otp_code, otp_expires_at, created_at, updated_at
        FROM users WHERE user_bucket = ? AND email = ?`,

		// Conditional enable: exactly one of two racing verification
		// attempts gets applied = true.
		EnableUser: `
        UPDATE users SET enabled = true, otp_code = null, otp_expires_at = null, updated_at = ?
        WHERE user_bucket = ? AND email = ?
        IF enabled = false AND otp_code = ?`,

		ReserveUsername: `
        INSERT INTO usernames (username, email) VALUES (?, ?) IF NOT EXISTS`,

		ReleaseUsername: `
        DELETE FROM usernames WHERE username = ?`,

		// CQL INSERT is an upsert: re-revoking the same token rewrites the
		// row and succeeds, which is exactly the idempotency we want.
		RevokeToken: `
        INSERT INTO token_blacklist (token_bucket, token, expires_at, blacklisted_at)
        VALUES (?, ?, ?, ?)`,

		IsTokenRevoked: `
        SELECT token FROM token_blacklist WHERE token_bucket = ? AND token = ?`,

		ScanExpired: `
        SELECT token FROM token_blacklist
        WHERE token_bucket = ? AND expires_at < ? ALLOW FILTERING`,

		DeleteToken: `
        DELETE FROM token_blacklist WHERE token_bucket = ? AND token = ?`,
	}
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
