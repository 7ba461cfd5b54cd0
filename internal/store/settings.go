package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/barriomed/clinic/internal/model"
)

// GetJWTSecret retrieves the JWT secret from the database.
// If no secret exists, it generates one, stores it, and returns it.
// Uses INSERT OR IGNORE + re-SELECT to avoid TOCTOU race on concurrent startup.
func GetJWTSecret(ctx context.Context, db *sql.DB) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}

	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES ('jwt_secret', ?)`,
		hex.EncodeToString(buf),
	)
	if err != nil {
		return "", fmt.Errorf("storing jwt_secret: %w", err)
	}

	secret, _, err := GetSetting(ctx, db, "jwt_secret")
	if err != nil {
		return "", err
	}
	return secret, nil
}

// GetSetting returns the value stored under key. The boolean is false when
// the key has never been set.
func GetSetting(ctx context.Context, db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key, replacing any previous value.
func SetSetting(ctx context.Context, db *sql.DB, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("storing setting %s: %w", key, err)
	}
	return nil
}

// RoleCache keeps the last role chosen on a device, so the login flow can
// skip role selection on the next start.
type RoleCache struct {
	DB     *sql.DB
	Device string
}

func (c *RoleCache) key() string {
	if c.Device == "" {
		return "cached_role"
	}
	return "cached_role:" + c.Device
}

// LoadCachedRole returns the cached role. Unknown values are ignored.
func (c *RoleCache) LoadCachedRole(ctx context.Context) (model.Role, bool, error) {
	value, ok, err := GetSetting(ctx, c.DB, c.key())
	if err != nil || !ok {
		return "", false, err
	}
	role := model.Role(value)
	if !role.Valid() {
		return "", false, nil
	}
	return role, true, nil
}

// SaveCachedRole stores role as the device's cached role.
func (c *RoleCache) SaveCachedRole(ctx context.Context, role model.Role) error {
	return SetSetting(ctx, c.DB, c.key(), string(role))
}
