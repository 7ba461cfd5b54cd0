// Package verify backs the login flow with SQLite: one-time codes and PIN
// enrollment.
package verify

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/barriomed/clinic/internal/login"
	"github.com/barriomed/clinic/internal/store"
)

const (
	// DefaultOTPTTL is how long a code stays valid.
	DefaultOTPTTL = 5 * time.Minute

	// ResendInterval is the minimum time between two codes to one number.
	ResendInterval = 30 * time.Second

	// MaxAttempts is how many wrong codes a challenge tolerates.
	MaxAttempts = 5
)

// Sender delivers a code to a phone number.
type Sender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log. It stands in for an SMS gateway.
type LogSender struct{}

// SendCode logs the code.
func (LogSender) SendCode(_ context.Context, phone, code string) error {
	slog.Info("otp code issued", "phone", login.MaskPhone(phone), "code", code)
	return nil
}

// OTP issues and checks one-time codes.
type OTP struct {
	DB     *sql.DB
	Sender Sender
	TTL    time.Duration

	mu       sync.Mutex
	limiters map[string]*limiter
	now      func() time.Time
}

type limiter struct {
	*rate.Limiter
	lastUsed time.Time
}

// NewOTP creates an OTP service. A zero ttl means DefaultOTPTTL.
func NewOTP(db *sql.DB, sender Sender, ttl time.Duration) *OTP {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	if sender == nil {
		sender = LogSender{}
	}
	return &OTP{
		DB:       db,
		Sender:   sender,
		TTL:      ttl,
		limiters: make(map[string]*limiter),
		now:      time.Now,
	}
}

// reserve takes the send token of phone. The returned cancel gives it back
// and is nil when the phone is throttled.
func (o *OTP) reserve(phone string) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	o.pruneLocked(now)

	l, ok := o.limiters[phone]
	if !ok {
		l = &limiter{Limiter: rate.NewLimiter(rate.Every(ResendInterval), 1)}
		o.limiters[phone] = l
	}
	l.lastUsed = now

	r := l.ReserveN(now, 1)
	if !r.OK() || r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return nil
	}
	return func() { r.CancelAt(now) }
}

// pruneLocked drops limiters idle for a full interval. They would have
// refilled, so a fresh one behaves the same.
func (o *OTP) pruneLocked(now time.Time) {
	for phone, l := range o.limiters {
		if now.Sub(l.lastUsed) >= ResendInterval {
			delete(o.limiters, phone)
		}
	}
}

// Send issues a fresh code for phone, replacing any pending one. A failed
// send does not count against the resend interval.
func (o *OTP) Send(ctx context.Context, phone string) (err error) {
	cancel := o.reserve(phone)
	if cancel == nil {
		return login.ErrTooManyRequests
	}
	defer func() {
		if err != nil {
			cancel()
		}
	}()

	code, err := newCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing code: %w", err)
	}
	if err := store.SaveOTPChallenge(ctx, o.DB, phone, string(hash), o.now().Add(o.TTL)); err != nil {
		return err
	}
	if err := o.Sender.SendCode(ctx, phone, code); err != nil {
		return fmt.Errorf("sending code: %w", err)
	}
	return nil
}

// Verify checks code against the pending challenge for phone. A matching
// code consumes the challenge.
func (o *OTP) Verify(ctx context.Context, phone, code string) error {
	c, err := store.GetOTPChallenge(ctx, o.DB, phone)
	if err != nil {
		return err
	}
	if c == nil {
		return login.ErrVerificationFailed
	}
	if !o.now().Before(c.ExpiresAt) {
		if err := store.DeleteOTPChallenge(ctx, o.DB, phone); err != nil {
			return err
		}
		return login.ErrOTPExpired
	}
	if c.Attempts >= MaxAttempts {
		return login.ErrTooManyRequests
	}

	if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) != nil {
		attempts, err := store.IncrementOTPAttempts(ctx, o.DB, phone)
		if err != nil {
			return err
		}
		slog.Warn("otp mismatch", "phone", login.MaskPhone(phone), "attempts", attempts)
		return login.ErrVerificationFailed
	}
	return store.DeleteOTPChallenge(ctx, o.DB, phone)
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
