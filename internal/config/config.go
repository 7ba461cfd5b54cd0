// Package config reads service settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service settings. Command-line flags may override them.
type Config struct {
	DBPath      string
	Addr        string
	LogPath     string
	SeedPath    string
	AdminPhone  string
	OTPTTL      time.Duration
	StepTimeout time.Duration
}

// Defaults.
const (
	DefaultDBPath      = "barriomed.sqlite3"
	DefaultAddr        = ":8080"
	DefaultOTPTTL      = 5 * time.Minute
	DefaultStepTimeout = 10 * time.Second
)

// Load reads envFile (if it exists) into the process environment without
// overriding variables already set, then builds a Config from the
// BARRIOMED_* variables.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
			slog.Debug("no env file, relying on environment", "path", envFile)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DBPath:      valueOr(getenv("BARRIOMED_DB"), DefaultDBPath),
		Addr:        valueOr(getenv("BARRIOMED_ADDR"), DefaultAddr),
		LogPath:     getenv("BARRIOMED_LOG"),
		SeedPath:    getenv("BARRIOMED_SEED"),
		AdminPhone:  getenv("BARRIOMED_ADMIN_PHONE"),
		OTPTTL:      DefaultOTPTTL,
		StepTimeout: DefaultStepTimeout,
	}

	var err error
	if cfg.OTPTTL, err = duration(getenv, "BARRIOMED_OTP_TTL", DefaultOTPTTL); err != nil {
		return nil, err
	}
	if cfg.StepTimeout, err = duration(getenv, "BARRIOMED_STEP_TIMEOUT", DefaultStepTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func duration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, v)
	}
	return d, nil
}
