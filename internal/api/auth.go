package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/barriomed/clinic/internal/auth"
	"github.com/barriomed/clinic/internal/login"
	"github.com/barriomed/clinic/internal/store"
	"github.com/barriomed/clinic/internal/verify"
)

// AuthHandler handles PIN login and logout.
type AuthHandler struct {
	DB        *sql.DB
	JWTSecret string
}

type pinLoginRequest struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

// PINLogin handles POST /api/auth/pin: offline login for enrolled accounts.
func (h *AuthHandler) PINLogin(w http.ResponseWriter, r *http.Request) {
	var req pinLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	phone, err := login.NormalizePhone(req.Phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.PIN == "" {
		jsonError(w, http.StatusBadRequest, "phone and PIN required")
		return
	}

	account, err := verify.CheckPIN(r.Context(), h.DB, phone, req.PIN)
	if err != nil {
		if errors.Is(err, login.ErrVerificationFailed) {
			slog.Warn("PIN login failed", "phone", login.MaskPhone(phone), "remote", r.RemoteAddr)
			jsonError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, err)
		return
	}

	token, err := auth.GenerateToken(h.JWTSecret, account.ID, account.Phone, account.Role)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	slog.Info("account logged in", "account_id", account.ID, "role", account.Role)
	jsonResponse(w, http.StatusOK, tokenResponse{Token: token, Role: account.Role, AccountID: account.ID})
}

// Logout handles POST /api/auth/logout by revoking the presented token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	expires := time.Now().Add(auth.TokenExpiry)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	if err := store.RevokeToken(r.Context(), h.DB, claims.ID, expires); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("account logged out", "account_id", claims.AccountID)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// errOr returns err, or a new error with msg when err is nil.
func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}
