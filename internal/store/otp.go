package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OTPChallenge is the pending one-time code for a phone number.
type OTPChallenge struct {
	Phone     string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SaveOTPChallenge stores a new challenge for phone, replacing any earlier one.
func SaveOTPChallenge(ctx context.Context, db *sql.DB, phone, codeHash string, expiresAt time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO otp_challenges (phone, code_hash, attempts, expires_at, created_at)
		 VALUES (?, ?, 0, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (phone) DO UPDATE SET
		     code_hash = excluded.code_hash,
		     attempts = 0,
		     expires_at = excluded.expires_at,
		     created_at = excluded.created_at`,
		phone, codeHash, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving otp challenge: %w", err)
	}
	return nil
}

// GetOTPChallenge returns the pending challenge for phone, or nil.
func GetOTPChallenge(ctx context.Context, db *sql.DB, phone string) (*OTPChallenge, error) {
	c := &OTPChallenge{}
	err := db.QueryRowContext(ctx,
		`SELECT phone, code_hash, attempts, expires_at, created_at
		 FROM otp_challenges WHERE phone = ?`, phone,
	).Scan(&c.Phone, &c.CodeHash, &c.Attempts, &c.ExpiresAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting otp challenge: %w", err)
	}
	return c, nil
}

// IncrementOTPAttempts records a failed verification and returns the new
// attempt count.
func IncrementOTPAttempts(ctx context.Context, db *sql.DB, phone string) (int, error) {
	var attempts int
	err := db.QueryRowContext(ctx,
		`UPDATE otp_challenges SET attempts = attempts + 1 WHERE phone = ? RETURNING attempts`,
		phone,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing otp attempts: %w", err)
	}
	return attempts, nil
}

// DeleteOTPChallenge removes the challenge for phone.
func DeleteOTPChallenge(ctx context.Context, db *sql.DB, phone string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM otp_challenges WHERE phone = ?`, phone); err != nil {
		return fmt.Errorf("deleting otp challenge: %w", err)
	}
	return nil
}
