package model

import "time"

// User is an identity record. A user is created disabled with a pending OTP
// and becomes addressable for login only once Enabled is true. On successful
// verification the OTP fields are cleared for good; the code is single-use
// per registration cycle.
type User struct {
	UserBucket   int        `db:"user_bucket"`
	UserID       string     `db:"user_id"`
	Email        string     `db:"email"`
	Username     string     `db:"username"`
	PasswordHash string     `db:"password_hash"`
	Enabled      bool       `db:"enabled"`
	OTPCode      *string    `db:"otp_code"`
	OTPExpiresAt *time.Time `db:"otp_expires_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// RevokedToken is a blacklist entry recorded at logout. It matters only until
// ExpiresAt; past that point the token's own signature/expiry check rejects
// it, which is what makes the periodic purge safe.
type RevokedToken struct {
	TokenBucket   int       `db:"token_bucket"`
	Token         string    `db:"token"`
	ExpiresAt     time.Time `db:"expires_at"`
	BlacklistedAt time.Time `db:"blacklisted_at"`
}

// AuthEvent is an audit record of an authentication-plane action, batched
// into ClickHouse by the audit recorder.
type AuthEvent struct {
	EventTime time.Time `ch:"event_time"`
	EventType string    `ch:"event_type"`
	Email     string    `ch:"email"`
	RemoteIP  string    `ch:"remote_ip"`
	Success   bool      `ch:"success"`
	Detail    string    `ch:"detail"`
}

// OTPMailMessage is the payload published to the OTP-mail outbox topic at
// registration and consumed by the mailer workers.
type OTPMailMessage struct {
	Email       string    `json:"email"`
	Code        string    `json:"code"`
	RequestedAt time.Time `json:"requested_at"`
}
