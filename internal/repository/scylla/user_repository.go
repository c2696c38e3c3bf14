package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"unisocial-auth/internal/bucketing"
	"unisocial-auth/internal/model"
	"unisocial-auth/internal/util"
)

type userRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewUserRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager, logger *zap.Logger) UserRepository {
	// Using the global util logger instead of an individual logger
	return &userRepository{
		client:    client,
		bucketing: bucketingMgr,
	}
}

func (r *userRepository) CreateUser(ctx context.Context, user *model.User) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	user.UserBucket = r.bucketing.UserBucket(user.Email)

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	// Email precedence: report the email conflict before touching the
	// username reservation.
	if _, err := r.GetUserByEmail(ctx, user.Email); err == nil {
		return ErrEmailTaken
	} else if err != ErrUserNotFound {
		return err
	}

	// Reserve the username first; the LWT makes the reservation the single
	// arbiter of username uniqueness.
	applied, err := r.client.Query(r.client.Statements.ReserveUsername,
		user.Username, user.Email).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to reserve username",
			zap.String("username", user.Username),
			zap.Error(err))
		return fmt.Errorf("failed to reserve username: %w", err)
	}
	if !applied {
		return ErrUsernameTaken
	}

	applied, err = r.client.Query(r.client.Statements.CreateUser,
		user.UserBucket, user.UserID, user.Email, user.Username, user.PasswordHash,
		user.Enabled, user.OTPCode, user.OTPExpiresAt, user.CreatedAt, user.UpdatedAt).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		r.releaseUsername(ctx, user.Username)
		util.Error("Failed to create user",
			zap.String("email", user.Email),
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !applied {
		// Lost an insert race on the email; give the username back.
		r.releaseUsername(ctx, user.Username)
		return ErrEmailTaken
	}

	util.Info("User created",
		zap.String("email", user.Email),
		zap.String("username", user.Username),
		zap.String("user_id", user.UserID),
		zap.Int("user_bucket", user.UserBucket))

	return nil
}

func (r *userRepository) releaseUsername(ctx context.Context, username string) {
	if err := r.client.Query(r.client.Statements.ReleaseUsername, username).
		WithContext(ctx).Exec(); err != nil {
		util.Warn("Failed to release username reservation",
			zap.String("username", username),
			zap.Error(err))
	}
}

func (r *userRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	bucket := r.bucketing.UserBucket(email)

	err := r.client.Query(r.client.Statements.GetUserByEmail, bucket, email).
		WithContext(ctx).Scan(
		&user.UserBucket, &user.UserID, &user.Email, &user.Username,
		&user.PasswordHash, &user.Enabled, &user.OTPCode, &user.OTPExpiresAt,
		&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrUserNotFound
		}
		util.Error("Failed to get user by email",
			zap.String("email", email),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

func (r *userRepository) EnableUser(ctx context.Context, email, otpCode string, now time.Time) (bool, error) {
	bucket := r.bucketing.UserBucket(email)

	applied, err := r.client.Query(r.client.Statements.EnableUser,
		now.UTC(), bucket, email, otpCode).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to enable user",
			zap.String("email", email),
			zap.Error(err))
		return false, fmt.Errorf("failed to enable user: %w", err)
	}

	if applied {
		util.Info("User enabled", zap.String("email", email))
	}

	return applied, nil
}

func (r *userRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
