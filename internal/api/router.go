package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/barriomed/clinic/internal/inventory"
	"github.com/barriomed/clinic/internal/login"
	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/queue"
	"github.com/barriomed/clinic/internal/store"
	"github.com/barriomed/clinic/internal/verify"
)

// Deps are the controllers and stores the API serves.
type Deps struct {
	DB         *sql.DB
	JWTSecret  string
	Commander  *queue.Commander
	Master     *inventory.Master
	Requesters *queue.Requesters

	// Verifier sends and checks login codes. Nil means an OTP service
	// that logs codes.
	Verifier    login.Verifier
	StepTimeout time.Duration
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	if d.Verifier == nil {
		d.Verifier = verify.NewOTP(d.DB, nil, 0)
	}
	flows := login.NewRegistry(func(deviceID string) login.Config {
		return login.Config{
			Cache:       &store.RoleCache{DB: d.DB, Device: deviceID},
			Verifier:    d.Verifier,
			Enroller:    verify.PINEnroller{DB: d.DB},
			StepTimeout: d.StepTimeout,
			OnComplete: func(_ context.Context, r login.Result) error {
				slog.Info("login completed", "role", r.Role, "phone", login.MaskPhone(r.Phone))
				return nil
			},
		}
	})

	loginHandler := &LoginHandler{DB: d.DB, JWTSecret: d.JWTSecret, Flows: flows}
	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret}
	accountsHandler := &AccountsHandler{DB: d.DB}
	patientHandler := &PatientHandler{Requesters: d.Requesters, Master: d.Master}
	queueHandler := &QueueHandler{Commander: d.Commander}
	inventoryHandler := &InventoryHandler{DB: d.DB, Master: d.Master}

	authMW := AuthMiddleware(d.JWTSecret, d.DB)
	requireStaff := RequireRole(model.RoleStaff)
	requireAdmin := RequireRole(model.RoleAdmin)

	authed := func(h http.HandlerFunc) http.Handler { return authMW(h) }
	staff := func(h http.HandlerFunc) http.Handler { return authMW(requireStaff(h)) }
	admin := func(h http.HandlerFunc) http.Handler { return authMW(requireAdmin(h)) }

	// Public: login flow and PIN login.
	mux.HandleFunc("POST /api/login/flows", loginHandler.Start)
	mux.HandleFunc("GET /api/login/flows/{id}", loginHandler.Get)
	mux.HandleFunc("POST /api/login/flows/{id}/role", loginHandler.Role)
	mux.HandleFunc("POST /api/login/flows/{id}/phone", loginHandler.Phone)
	mux.HandleFunc("POST /api/login/flows/{id}/otp", loginHandler.OTP)
	mux.HandleFunc("POST /api/login/flows/{id}/otp/resend", loginHandler.ResendOTP)
	mux.HandleFunc("POST /api/login/flows/{id}/back", loginHandler.Back)
	mux.HandleFunc("POST /api/login/flows/{id}/pin", loginHandler.PIN)
	mux.HandleFunc("POST /api/auth/pin", authHandler.PINLogin)

	mux.Handle("POST /api/auth/logout", authed(authHandler.Logout))

	// Patient side (any role).
	mux.Handle("GET /api/services", authed(patientHandler.Services))
	mux.Handle("GET /api/queue/ticket", authed(patientHandler.Ticket))
	mux.Handle("POST /api/queue/ticket/service", authed(patientHandler.SelectService))
	mux.Handle("POST /api/queue/ticket/confirm", authed(patientHandler.Confirm))
	mux.Handle("DELETE /api/queue/ticket", authed(patientHandler.Cancel))
	mux.Handle("GET /api/medicines", authed(patientHandler.Medicines))

	// Staff queue.
	mux.Handle("GET /api/staff/queue", staff(queueHandler.Get))
	mux.Handle("POST /api/staff/queue/call-next", staff(queueHandler.CallNext))
	mux.Handle("POST /api/staff/queue/no-show", staff(queueHandler.NoShow))
	mux.Handle("POST /api/staff/queue/complete", staff(queueHandler.Complete))
	mux.Handle("POST /api/staff/queue/missed/toggle", staff(queueHandler.ToggleMissed))
	mux.Handle("POST /api/staff/queue/missed/{id}/recall", staff(queueHandler.Recall))
	mux.Handle("POST /api/staff/queue/walk-ins", staff(queueHandler.WalkIn))

	// Staff inventory.
	mux.Handle("GET /api/staff/inventory", staff(inventoryHandler.List))
	mux.Handle("POST /api/staff/inventory", staff(inventoryHandler.Create))
	mux.Handle("GET /api/staff/inventory/log", staff(inventoryHandler.Log))
	mux.Handle("GET /api/staff/inventory/selection", staff(inventoryHandler.Selection))
	mux.Handle("DELETE /api/staff/inventory/selection", staff(inventoryHandler.ClearSelection))
	mux.Handle("POST /api/staff/inventory/selection/all", staff(inventoryHandler.ToggleSelectAll))
	mux.Handle("POST /api/staff/inventory/selection/status", staff(inventoryHandler.BatchStatus))
	mux.Handle("POST /api/staff/inventory/selection/items/{id}", staff(inventoryHandler.ToggleSelect))
	mux.Handle("GET /api/staff/inventory/{id}", staff(inventoryHandler.Get))
	mux.Handle("PUT /api/staff/inventory/{id}", staff(inventoryHandler.Update))
	mux.Handle("DELETE /api/staff/inventory/{id}", staff(inventoryHandler.Delete))
	mux.Handle("PUT /api/staff/inventory/{id}/status", staff(inventoryHandler.SetStatus))
	mux.Handle("POST /api/staff/inventory/{id}/cycle", staff(inventoryHandler.Cycle))
	mux.Handle("PUT /api/staff/inventory/{id}/image", staff(inventoryHandler.UploadImage))
	mux.Handle("GET /api/staff/inventory/{id}/image", staff(inventoryHandler.GetImage))

	// Accounts (admin only).
	mux.Handle("POST /api/admin/accounts", admin(accountsHandler.Grant))
	mux.Handle("GET /api/admin/accounts/{id}", admin(accountsHandler.Get))
	mux.Handle("DELETE /api/admin/accounts/{id}", admin(accountsHandler.Delete))

	return mux
}
