package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/barriomed/clinic/internal/login"
	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/store"
)

// AccountsHandler handles account management endpoints (admin only).
type AccountsHandler struct {
	DB *sql.DB
}

type grantRequest struct {
	Phone string     `json:"phone"`
	Role  model.Role `json:"role"`
}

// Grant handles POST /api/admin/accounts: give a phone number a role. The
// login flow only lets a number sign in with the role it holds, so this is
// how staff, doctors and further admins are added. Numbers without an
// account set their PIN through the login flow.
func (h *AccountsHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	phone, err := login.NormalizePhone(req.Phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Role.Valid() {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}

	claims := GetClaims(r.Context())
	if claims != nil && claims.Phone == phone && req.Role != model.RoleAdmin {
		jsonError(w, http.StatusBadRequest, "cannot change your own role")
		return
	}

	account, err := store.GrantRole(r.Context(), h.DB, phone, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if account == nil {
		writeError(w, r, errOr(nil, "granted account missing"))
		return
	}

	slog.Info("role granted", "by", claims.AccountID, "account_id", account.ID, "role", account.Role)
	jsonResponse(w, http.StatusOK, account)
}

// Get handles GET /api/admin/accounts/{id}.
func (h *AccountsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := store.GetAccount(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if account == nil {
		jsonError(w, http.StatusNotFound, "account not found")
		return
	}
	jsonResponse(w, http.StatusOK, account)
}

// Delete handles DELETE /api/admin/accounts/{id}. The phone number can enroll
// again afterwards.
func (h *AccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	claims := GetClaims(r.Context())
	if claims != nil && claims.AccountID == id {
		jsonError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	target, err := store.GetAccount(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if target == nil || target.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "account not found")
		return
	}

	if err := store.DeleteAccount(r.Context(), h.DB, id); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("account deleted", "by", claims.AccountID, "account_id", id, "role", target.Role)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "account deleted"})
}
