package api

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/barriomed/clinic/internal/imaging"
	"github.com/barriomed/clinic/internal/inventory"
	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/store"
)

// InventoryHandler serves the staff stock editor.
type InventoryHandler struct {
	DB     *sql.DB
	Master *inventory.Master
}

// DefaultLogLimit caps stock log listings when no limit is given.
const DefaultLogLimit = 50

type statusRequest struct {
	Status model.StockStatus `json:"status"`
}

// changedBy names the account making a change in the stock log.
func changedBy(r *http.Request) string {
	if c := GetClaims(r.Context()); c != nil {
		return c.Phone
	}
	return ""
}

// List handles GET /api/staff/inventory?q=.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.Master.Search(r.URL.Query().Get("q")))
}

// Get handles GET /api/staff/inventory/{id}.
func (h *InventoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	med, err := h.Master.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, med)
}

// Create handles POST /api/staff/inventory.
func (h *InventoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var f inventory.Fields
	if err := decodeJSON(r, &f); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	med, err := h.Master.Add(f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("medicine added", "medicine_id", med.ID, "name", med.Name)
	jsonResponse(w, http.StatusCreated, med)
}

// Update handles PUT /api/staff/inventory/{id}.
func (h *InventoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var f inventory.Fields
	if err := decodeJSON(r, &f); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	med, err := h.Master.Edit(r.Context(), r.PathValue("id"), f, changedBy(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("medicine updated", "medicine_id", med.ID)
	jsonResponse(w, http.StatusOK, med)
}

// Delete handles DELETE /api/staff/inventory/{id}?confirm=true. Without the
// confirmation the medicine stays and the response carries the prompt.
func (h *InventoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	confirmed := r.URL.Query().Get("confirm") == "true"

	var prompt string
	removed, err := h.Master.Delete(id, inventory.ConfirmFunc(func(p string) bool {
		prompt = p
		return confirmed
	}))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !removed {
		jsonResponse(w, http.StatusConflict, map[string]string{
			"error":  "confirmation required",
			"prompt": prompt,
		})
		return
	}

	if err := store.DeleteMedicineImage(r.Context(), h.DB, id); err != nil {
		slog.Warn("failed to delete medicine image", "medicine_id", id, "error", err)
	}

	slog.Info("medicine deleted", "medicine_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// SetStatus handles PUT /api/staff/inventory/{id}/status.
func (h *InventoryHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	med, err := h.Master.SetStatus(r.Context(), r.PathValue("id"), req.Status, changedBy(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("stock status set", "medicine_id", med.ID, "status", med.Status)
	jsonResponse(w, http.StatusOK, med)
}

// Cycle handles POST /api/staff/inventory/{id}/cycle.
func (h *InventoryHandler) Cycle(w http.ResponseWriter, r *http.Request) {
	med, err := h.Master.Cycle(r.Context(), r.PathValue("id"), changedBy(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("stock status cycled", "medicine_id", med.ID, "status", med.Status)
	jsonResponse(w, http.StatusOK, med)
}

type selectionResponse struct {
	Selected []string `json:"selected"`
	Count    int      `json:"count"`
}

func (h *InventoryHandler) selection(w http.ResponseWriter) {
	ids := h.Master.Selected()
	jsonResponse(w, http.StatusOK, selectionResponse{Selected: ids, Count: len(ids)})
}

// Selection handles GET /api/staff/inventory/selection.
func (h *InventoryHandler) Selection(w http.ResponseWriter, r *http.Request) {
	h.selection(w)
}

// ClearSelection handles DELETE /api/staff/inventory/selection.
func (h *InventoryHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	h.Master.DeselectAll()
	h.selection(w)
}

// ToggleSelect handles POST /api/staff/inventory/selection/items/{id}.
func (h *InventoryHandler) ToggleSelect(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Master.ToggleSelect(r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	h.selection(w)
}

// ToggleSelectAll handles POST /api/staff/inventory/selection/all.
func (h *InventoryHandler) ToggleSelectAll(w http.ResponseWriter, r *http.Request) {
	h.Master.ToggleSelectAll()
	h.selection(w)
}

// BatchStatus handles POST /api/staff/inventory/selection/status.
func (h *InventoryHandler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := h.Master.BatchSetStatus(r.Context(), req.Status, changedBy(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("batch stock update", "status", req.Status, "count", n)
	jsonResponse(w, http.StatusOK, map[string]any{
		"changed": n,
		"message": fmt.Sprintf("Updated %d items to %s", n, req.Status),
	})
}

// Log handles GET /api/staff/inventory/log?medicine_id=&limit=.
func (h *InventoryHandler) Log(w http.ResponseWriter, r *http.Request) {
	limit := DefaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	changes, err := store.ListStockChanges(r.Context(), h.DB, r.URL.Query().Get("medicine_id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if changes == nil {
		changes = []model.StockChange{}
	}
	jsonResponse(w, http.StatusOK, changes)
}

// UploadImage handles PUT /api/staff/inventory/{id}/image.
func (h *InventoryHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.Master.Get(id); err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.CardPhoto(file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := store.SetMedicineImage(r.Context(), h.DB, id, photo.Data, photo.MIME); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("medicine photo uploaded", "medicine_id", id, "bytes", len(photo.Data))
	jsonResponse(w, http.StatusOK, map[string]string{"message": "image uploaded"})
}

// GetImage handles GET /api/staff/inventory/{id}/image.
func (h *InventoryHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	data, mime, err := store.GetMedicineImage(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
