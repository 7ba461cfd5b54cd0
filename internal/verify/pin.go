package verify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/barriomed/clinic/internal/login"
	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/store"
)

// PINEnroller stores bcrypt-hashed PINs as accounts.
type PINEnroller struct {
	DB *sql.DB
}

// Enroll sets the PIN for phone. New numbers may only enroll as patients;
// a number with an account must sign in with the role it already holds.
// Other roles are granted with store.GrantRole.
func (e PINEnroller) Enroll(ctx context.Context, phone string, role model.Role, pin string) error {
	existing, err := store.GetAccountByPhone(ctx, e.DB, phone)
	if err != nil {
		return err
	}
	if (existing == nil && role != model.RolePatient) || (existing != nil && existing.Role != role) {
		slog.Warn("enrollment refused", "phone", login.MaskPhone(phone), "role", role)
		return login.ErrRoleNotGranted
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing pin: %w", err)
	}
	a, err := store.EnrollAccount(ctx, e.DB, phone, string(hash), role)
	if err != nil {
		return err
	}
	slog.Info("account enrolled", "account_id", a.ID, "role", a.Role)
	return nil
}

// CheckPIN returns the active account for phone if pin matches, or
// login.ErrVerificationFailed. Granted accounts without a PIN never match.
func CheckPIN(ctx context.Context, db *sql.DB, phone, pin string) (*model.Account, error) {
	a, err := store.GetAccountByPhone(ctx, db, phone)
	if err != nil {
		return nil, err
	}
	if a == nil || a.PINHash == "" {
		return nil, login.ErrVerificationFailed
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PINHash), []byte(pin)) != nil {
		return nil, login.ErrVerificationFailed
	}
	return a, nil
}
