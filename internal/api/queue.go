package api

import (
	"log/slog"
	"net/http"

	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/queue"
)

// QueueHandler serves the staff queue commander.
type QueueHandler struct {
	Commander *queue.Commander
}

// Get handles GET /api/staff/queue.
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.Commander.Snapshot())
}

func logAdvance(action string, adv queue.Advance) {
	args := []any{"action", action}
	if adv.Completed != nil {
		args = append(args, "completed", adv.Completed.QueueNumber)
	}
	if adv.Missed != nil {
		args = append(args, "missed", adv.Missed.QueueNumber)
	}
	if adv.Serving != nil {
		args = append(args, "queue_number", adv.Serving.QueueNumber)
	}
	slog.Info("queue advanced", args...)
}

func (h *QueueHandler) advance(w http.ResponseWriter, r *http.Request, action string, fn func() (queue.Advance, error)) {
	adv, err := fn()
	if err != nil {
		writeError(w, r, err)
		return
	}
	logAdvance(action, adv)
	jsonResponse(w, http.StatusOK, adv)
}

// CallNext handles POST /api/staff/queue/call-next.
func (h *QueueHandler) CallNext(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, "call_next", h.Commander.CallNext)
}

// NoShow handles POST /api/staff/queue/no-show.
func (h *QueueHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, "no_show", h.Commander.NoShow)
}

// Complete handles POST /api/staff/queue/complete.
func (h *QueueHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, "complete", h.Commander.Complete)
}

// ToggleMissed handles POST /api/staff/queue/missed/toggle.
func (h *QueueHandler) ToggleMissed(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]bool{"show_missed": h.Commander.ToggleMissedView()})
}

// Recall handles POST /api/staff/queue/missed/{id}/recall.
func (h *QueueHandler) Recall(w http.ResponseWriter, r *http.Request) {
	p, err := h.Commander.Recall(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("missed patient recalled", "queue_number", p.QueueNumber)
	jsonResponse(w, http.StatusOK, p)
}

type walkInRequest struct {
	Name    string        `json:"name"`
	Service model.Service `json:"service"`
}

// WalkIn handles POST /api/staff/queue/walk-ins.
func (h *QueueHandler) WalkIn(w http.ResponseWriter, r *http.Request) {
	var req walkInRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.Commander.InsertWalkIn(req.Name, req.Service)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("walk-in added", "queue_number", p.QueueNumber, "service", p.Service)
	jsonResponse(w, http.StatusCreated, p)
}
