package api

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/barriomed/clinic/internal/auth"
	"github.com/barriomed/clinic/internal/login"
	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/store"
)

// LoginHandler drives login flows over HTTP.
type LoginHandler struct {
	DB        *sql.DB
	JWTSecret string
	Flows     *login.Registry
}

type flowResponse struct {
	ID string `json:"id"`
	login.View
}

type tokenResponse struct {
	Token     string     `json:"token"`
	Role      model.Role `json:"role"`
	AccountID int64      `json:"account_id"`
}

// flow looks up the flow named in the path, writing 404 if it is gone.
func (h *LoginHandler) flow(w http.ResponseWriter, r *http.Request) (string, *login.Flow, bool) {
	id := r.PathValue("id")
	f := h.Flows.Get(id)
	if f == nil {
		jsonError(w, http.StatusNotFound, "login flow not found or expired")
		return "", nil, false
	}
	return id, f, true
}

func (h *LoginHandler) respond(w http.ResponseWriter, id string, f *login.Flow) {
	jsonResponse(w, http.StatusOK, flowResponse{ID: id, View: f.View()})
}

// Start handles POST /api/login/flows.
func (h *LoginHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// The role cache is per device, so flows without one cannot share it.
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		jsonError(w, http.StatusBadRequest, "device_id required")
		return
	}

	id, f := h.Flows.Start(r.Context(), deviceID)
	jsonResponse(w, http.StatusCreated, flowResponse{ID: id, View: f.View()})
}

// Get handles GET /api/login/flows/{id}.
func (h *LoginHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, f, ok := h.flow(w, r)
	if !ok {
		return
	}
	h.respond(w, id, f)
}

// Role handles POST /api/login/flows/{id}/role: select a role and continue.
func (h *LoginHandler) Role(w http.ResponseWriter, r *http.Request) {
	id, f, ok := h.flow(w, r)
	if !ok {
		return
	}

	var req struct {
		Role model.Role `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := f.SelectRole(req.Role); err != nil {
		writeError(w, r, err)
		return
	}
	if err := f.ContinueFromRole(); err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, id, f)
}

// Phone handles POST /api/login/flows/{id}/phone.
func (h *LoginHandler) Phone(w http.ResponseWriter, r *http.Request) {
	id, f, ok := h.flow(w, r)
	if !ok {
		return
	}

	var req struct {
		Phone string `json:"phone"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := f.SubmitPhone(r.Context(), req.Phone); err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, id, f)
}

// OTP handles POST /api/login/flows/{id}/otp.
func (h *LoginHandler) OTP(w http.ResponseWriter, r *http.Request) {
	id, f, ok := h.flow(w, r)
	if !ok {
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := f.VerifyOTP(r.Context(), req.Code); err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, id, f)
}

// ResendOTP handles POST /api/login/flows/{id}/otp/resend.
func (h *LoginHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	id, f, ok := h.flow(w, r)
	if !ok {
		return
	}
	if err := f.ResendOTP(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, id, f)
}

// Back handles POST /api/login/flows/{id}/back.
func (h *LoginHandler) Back(w http.ResponseWriter, r *http.Request) {
	id, f, ok := h.flow(w, r)
	if !ok {
		return
	}
	if err := f.Back(); err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, id, f)
}

// PIN handles POST /api/login/flows/{id}/pin. On success the flow is done
// and the response carries a session token.
func (h *LoginHandler) PIN(w http.ResponseWriter, r *http.Request) {
	id, f, ok := h.flow(w, r)
	if !ok {
		return
	}

	var req struct {
		PIN        string `json:"pin"`
		ConfirmPIN string `json:"confirm_pin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := f.SubmitPIN(r.Context(), req.PIN, req.ConfirmPIN)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Flows.Finish(id)

	account, err := store.GetAccountByPhone(r.Context(), h.DB, result.Phone)
	if err != nil || account == nil {
		writeError(w, r, errOr(err, "enrolled account missing"))
		return
	}

	token, err := auth.GenerateToken(h.JWTSecret, account.ID, account.Phone, account.Role)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	jsonResponse(w, http.StatusOK, tokenResponse{Token: token, Role: account.Role, AccountID: account.ID})
}
