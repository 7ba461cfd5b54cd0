package api

import (
	"log/slog"
	"net/http"

	"github.com/barriomed/clinic/internal/inventory"
	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/queue"
)

// PatientHandler serves the patient-side ticket and medicine screens.
type PatientHandler struct {
	Requesters *queue.Requesters
	Master     *inventory.Master
}

func (h *PatientHandler) requester(r *http.Request) *queue.Requester {
	return h.Requesters.For(GetClaims(r.Context()).AccountID)
}

// Services handles GET /api/services.
func (h *PatientHandler) Services(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, model.Services)
}

// Ticket handles GET /api/queue/ticket.
func (h *PatientHandler) Ticket(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.requester(r).View())
}

// SelectService handles POST /api/queue/ticket/service.
func (h *PatientHandler) SelectService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Service model.Service `json:"service"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rq := h.requester(r)
	if err := rq.Select(req.Service); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, rq.View())
}

// Confirm handles POST /api/queue/ticket/confirm.
func (h *PatientHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.requester(r).Confirm(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("ticket issued", "queue_number", ticket.QueueNumber, "service", ticket.Service)
	jsonResponse(w, http.StatusCreated, ticket)
}

// Cancel handles DELETE /api/queue/ticket.
func (h *PatientHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.requester(r).Cancel(); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Medicines handles GET /api/medicines?q=, the read-only stock list.
func (h *PatientHandler) Medicines(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.Master.Search(r.URL.Query().Get("q")))
}
