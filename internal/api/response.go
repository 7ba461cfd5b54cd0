package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/barriomed/clinic/internal/imaging"
	"github.com/barriomed/clinic/internal/inventory"
	"github.com/barriomed/clinic/internal/login"
	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/queue"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// conflicts are domain refusals that leave state unchanged.
var conflicts = []error{
	queue.ErrNoNextPatient,
	queue.ErrNobodyServing,
	queue.ErrNoServiceSelected,
	queue.ErrTicketActive,
	queue.ErrNoTicket,
	inventory.ErrNothingSelected,
	login.ErrWrongStep,
	login.ErrNoRoleSelected,
}

// errorStatus maps a domain error to its HTTP status.
func errorStatus(err error) int {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrMedicineNotFound), errors.Is(err, queue.ErrNotMissed):
		return http.StatusNotFound
	case errors.Is(err, login.ErrVerificationFailed), errors.Is(err, login.ErrOTPExpired):
		return http.StatusUnauthorized
	case errors.Is(err, login.ErrRoleNotGranted):
		return http.StatusForbidden
	case errors.Is(err, login.ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, login.ErrStepTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, imaging.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	}
	for _, c := range conflicts {
		if errors.Is(err, c) {
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

// writeError reports err to the client. Unexpected errors are logged and
// hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		jsonError(w, status, "internal error")
		return
	}
	jsonError(w, status, err.Error())
}
