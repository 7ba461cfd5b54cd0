package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/barriomed/clinic/internal/api"
	"github.com/barriomed/clinic/internal/config"
	"github.com/barriomed/clinic/internal/db"
	"github.com/barriomed/clinic/internal/inventory"
	"github.com/barriomed/clinic/internal/login"
	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/queue"
	"github.com/barriomed/clinic/internal/seed"
	"github.com/barriomed/clinic/internal/store"
	"github.com/barriomed/clinic/internal/verify"
)

// purgeInterval is how often expired revoked tokens are dropped.
const purgeInterval = time.Hour

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger sends INFO/WARN to stdout and ERROR to stderr, and every level
// to logPath as well when it is set. The returned cleanup closes the file.
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("barriomed", flag.ContinueOnError)

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "")

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "")
	fs.StringVar(&cfg.Addr, "a", cfg.Addr, "")

	fs.StringVar(&cfg.LogPath, "log", cfg.LogPath, "")
	fs.StringVar(&cfg.LogPath, "l", cfg.LogPath, "")

	fs.StringVar(&cfg.SeedPath, "seed", cfg.SeedPath, "")
	fs.StringVar(&cfg.SeedPath, "s", cfg.SeedPath, "")

	fs.StringVar(&cfg.AdminPhone, "admin", cfg.AdminPhone, "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: barriomed [flags]

Flags:
  -d, -db <path>          SQLite database path (default: barriomed.sqlite3)
  -a, -addr <host:port>   listen address (default: :8080)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -s, -seed <path>        YAML file with the starting queue and stock
                          (default: built-in demo data)
  -admin <phone>          enroll this mobile number as admin if it has no account
  -h, -help               show this help and exit

Every flag can also be set in the environment or a .env file as
BARRIOMED_DB, BARRIOMED_ADDR, BARRIOMED_LOG, BARRIOMED_SEED and
BARRIOMED_ADMIN_PHONE. BARRIOMED_OTP_TTL and BARRIOMED_STEP_TIMEOUT take
Go durations such as 5m or 10s.
`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", fs.Arg(0))
		fs.Usage()
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.EnsureSchema(database); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	slog.Info("database ready", "path", cfg.DBPath)

	ctx := context.Background()

	if cfg.AdminPhone != "" {
		phone, pin, err := bootstrapAdmin(ctx, database, cfg.AdminPhone)
		if err != nil {
			slog.Error("failed to enroll admin", "error", err)
			os.Exit(1)
		}
		if pin != "" {
			printAdminResult(phone, pin)
			fmt.Println()
		}
	}

	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		slog.Error("failed to get JWT secret", "error", err)
		os.Exit(1)
	}

	data, err := seed.Load(cfg.SeedPath, time.Now())
	if err != nil {
		slog.Error("failed to load seed data", "error", err)
		os.Exit(1)
	}

	commander, err := queue.NewCommander(data.Patients)
	if err != nil {
		slog.Error("invalid seed queue", "error", err)
		os.Exit(1)
	}
	master, err := inventory.NewMaster(data.Medicines, inventory.WithRecorder(&store.StockLog{DB: database}))
	if err != nil {
		slog.Error("invalid seed stock", "error", err)
		os.Exit(1)
	}

	slog.Info("clinic state loaded",
		"patients", len(data.Patients),
		"medicines", master.Len(),
		"now_serving", commander.NowServing(),
	)

	apiRouter := api.NewRouter(api.Deps{
		DB:          database,
		JWTSecret:   jwtSecret,
		Commander:   commander,
		Master:      master,
		Requesters:  queue.NewRequesters(queue.NewTicketBook(data.TicketBook)),
		Verifier:    verify.NewOTP(database, verify.LogSender{}, cfg.OTPTTL),
		StepTimeout: cfg.StepTimeout,
	})

	handler := api.LoggingMiddleware(apiRouter)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go purgeRevokedTokens(purgeCtx, database)

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped, closing database")
}

// bootstrapAdmin grants phone the admin role and enrolls it with a random PIN
// when no enrolled account uses it yet. It returns an empty PIN when the
// account already exists.
func bootstrapAdmin(ctx context.Context, database *sql.DB, input string) (string, string, error) {
	phone, err := login.NormalizePhone(input)
	if err != nil {
		return "", "", fmt.Errorf("admin phone: %w", err)
	}

	existing, err := store.GetAccountByPhone(ctx, database, phone)
	if err != nil {
		return "", "", err
	}
	if existing != nil && existing.PINHash != "" {
		if existing.Role != model.RoleAdmin {
			slog.Warn("admin phone belongs to a non-admin account", "account_id", existing.ID, "role", existing.Role)
		}
		return phone, "", nil
	}

	if _, err := store.GrantRole(ctx, database, phone, model.RoleAdmin); err != nil {
		return "", "", fmt.Errorf("granting admin role: %w", err)
	}
	pin, err := generatePIN(login.PINDigits)
	if err != nil {
		return "", "", fmt.Errorf("generating PIN: %w", err)
	}
	if err := (verify.PINEnroller{DB: database}).Enroll(ctx, phone, model.RoleAdmin, pin); err != nil {
		return "", "", fmt.Errorf("enrolling admin: %w", err)
	}
	return phone, pin, nil
}

// printAdminResult prints the new admin credentials to stdout.
func printAdminResult(phone, pin string) {
	fmt.Println("Admin account created:")
	fmt.Printf("  Phone: %s\n", login.MaskPhone(phone))
	fmt.Printf("  PIN:   %s\n", pin)
	fmt.Println()
	fmt.Println("Save this PIN. It cannot be recovered.")
	fmt.Println("Sign in again through the app to set a new one.")
}

// generatePIN returns a random numeric PIN of the given length.
func generatePIN(length int) (string, error) {
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		result[i] = byte('0' + n.Int64())
	}
	return string(result), nil
}

func purgeRevokedTokens(ctx context.Context, database *sql.DB) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeRevokedTokens(ctx, database, now)
			if err != nil {
				slog.Warn("failed to purge revoked tokens", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("purged revoked tokens", "count", n)
			}
		}
	}
}
