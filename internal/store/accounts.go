package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/barriomed/clinic/internal/model"
)

const accountColumns = `id, phone, pin_hash, role, created_at, deleted_at`

func scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	a := &model.Account{}
	var role string
	if err := row.Scan(&a.ID, &a.Phone, &a.PINHash, &role, &a.CreatedAt, &a.DeletedAt); err != nil {
		return nil, err
	}
	a.Role = model.Role(role)
	return a, nil
}

// EnrollAccount creates the active account for phone with role, or replaces
// the PIN of the existing one. Re-enrolling is how a user resets a forgotten
// PIN; it never changes the role of an existing account, see GrantRole.
func EnrollAccount(ctx context.Context, db *sql.DB, phone, pinHash string, role model.Role) (*model.Account, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts SET pin_hash = ? WHERE phone = ? AND deleted_at IS NULL`,
		pinHash, phone,
	)
	if err != nil {
		return nil, fmt.Errorf("updating account: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO accounts (phone, pin_hash, role) VALUES (?, ?, ?)`,
			phone, pinHash, string(role),
		)
		if err != nil {
			return nil, fmt.Errorf("creating account: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing enrollment: %w", err)
	}
	return GetAccountByPhone(ctx, db, phone)
}

// GrantRole sets the role of the active account for phone. A phone without an
// account gets one with no PIN, which the owner sets by enrolling.
func GrantRole(ctx context.Context, db *sql.DB, phone string, role model.Role) (*model.Account, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts SET role = ? WHERE phone = ? AND deleted_at IS NULL`,
		string(role), phone,
	)
	if err != nil {
		return nil, fmt.Errorf("updating role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO accounts (phone, pin_hash, role) VALUES (?, '', ?)`,
			phone, string(role),
		)
		if err != nil {
			return nil, fmt.Errorf("creating account: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing role grant: %w", err)
	}
	return GetAccountByPhone(ctx, db, phone)
}

// GetAccount returns an account by ID, including deleted ones.
func GetAccount(ctx context.Context, db *sql.DB, id int64) (*model.Account, error) {
	a, err := scanAccount(db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return a, nil
}

// GetAccountByPhone returns the active account registered to phone.
func GetAccountByPhone(ctx context.Context, db *sql.DB, phone string) (*model.Account, error) {
	a, err := scanAccount(db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE phone = ? AND deleted_at IS NULL`, phone,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting account by phone: %w", err)
	}
	return a, nil
}

// DeleteAccount soft-deletes an account.
func DeleteAccount(ctx context.Context, db *sql.DB, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE accounts SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return nil
}

// IsAccountDeleted reports whether account id exists and is soft-deleted.
func IsAccountDeleted(ctx context.Context, db *sql.DB, id int64) (bool, error) {
	var deleted bool
	err := db.QueryRowContext(ctx,
		`SELECT deleted_at IS NOT NULL FROM accounts WHERE id = ?`, id,
	).Scan(&deleted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking account: %w", err)
	}
	return deleted, nil
}
