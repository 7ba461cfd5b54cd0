// Package inventory is the staff-side botika stock editor.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/barriomed/clinic/internal/model"
)

var (
	// ErrMedicineNotFound is returned for unknown medicine IDs.
	ErrMedicineNotFound = errors.New("medicine not found")

	// ErrNothingSelected is returned by batch actions on an empty selection.
	ErrNothingSelected = errors.New("no medicines selected")
)

// StockRecorder receives every status change.
type StockRecorder interface {
	RecordStockChange(ctx context.Context, c model.StockChange) error
}

// Confirmer asks the user to confirm a destructive action.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

// Confirm calls f.
func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Fields are the editable attributes of a medicine.
type Fields struct {
	Name     string            `json:"name"`
	Dosage   string            `json:"dosage"`
	Category string            `json:"category"`
	Status   model.StockStatus `json:"status"`
}

func (f Fields) validate() error {
	if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.Category) == "" {
		return model.Invalid("", "please fill in name and category")
	}
	if f.Status != "" && !f.Status.Valid() {
		return model.Invalid("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	return nil
}

// Master owns the in-memory medicine list and the batch selection.
type Master struct {
	mu       sync.Mutex
	items    []model.Medicine
	selected map[string]bool

	recorder StockRecorder
	now      func() time.Time
	newID    func() string
}

// Option configures a Master.
type Option func(*Master)

// WithRecorder reports status changes to r.
func WithRecorder(r StockRecorder) Option {
	return func(m *Master) { m.recorder = r }
}

// WithClock sets the clock used to stamp updates.
func WithClock(now func() time.Time) Option {
	return func(m *Master) { m.now = now }
}

// WithIDGenerator sets how new medicine IDs are generated.
func WithIDGenerator(newID func() string) Option {
	return func(m *Master) { m.newID = newID }
}

// NewMaster builds a master over a copy of seed.
func NewMaster(seed []model.Medicine, opts ...Option) (*Master, error) {
	m := &Master{
		selected: make(map[string]bool),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}

	seen := make(map[string]bool, len(seed))
	for _, med := range seed {
		if med.ID == "" {
			return nil, fmt.Errorf("medicine %q has no id", med.Name)
		}
		if seen[med.ID] {
			return nil, fmt.Errorf("duplicate medicine id %q", med.ID)
		}
		seen[med.ID] = true
		if !med.Status.Valid() {
			return nil, fmt.Errorf("medicine %s: unknown status %q", med.ID, med.Status)
		}
	}
	m.items = append([]model.Medicine(nil), seed...)
	for i := range m.items {
		if m.items[i].UpdatedAt.IsZero() {
			m.items[i].UpdatedAt = m.now()
		}
	}
	return m, nil
}

func (m *Master) indexOf(id string) int {
	for i, med := range m.items {
		if med.ID == id {
			return i
		}
	}
	return -1
}

// view returns a copy of med with its display text filled in.
func (m *Master) view(med model.Medicine) model.Medicine {
	med.LastUpdated = LastUpdatedText(med.UpdatedAt, m.now())
	return med
}

// LastUpdatedText renders when a record last changed, relative to now.
func LastUpdatedText(updated, now time.Time) string {
	if now.Sub(updated) < time.Minute {
		return "just now"
	}
	return humanize.RelTime(updated, now, "ago", "from now")
}

// setStatusLocked changes one item's status and returns the change for the
// recorder.
func (m *Master) setStatusLocked(i int, status model.StockStatus, by string) model.StockChange {
	now := m.now()
	change := model.StockChange{
		MedicineID:   m.items[i].ID,
		MedicineName: m.items[i].Name,
		From:         m.items[i].Status,
		To:           status,
		ChangedBy:    by,
		ChangedAt:    now,
	}
	m.items[i].Status = status
	m.items[i].UpdatedAt = now
	return change
}

func (m *Master) record(ctx context.Context, changes []model.StockChange) {
	if m.recorder == nil {
		return
	}
	for _, c := range changes {
		if err := m.recorder.RecordStockChange(ctx, c); err != nil {
			slog.Warn("failed to record stock change", "medicine_id", c.MedicineID, "error", err)
		}
	}
}

// SetStatus sets one medicine's status and stamps it as updated now. by
// identifies who made the change in the stock log.
func (m *Master) SetStatus(ctx context.Context, id string, status model.StockStatus, by string) (model.Medicine, error) {
	if !status.Valid() {
		return model.Medicine{}, model.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return model.Medicine{}, ErrMedicineNotFound
	}
	change := m.setStatusLocked(i, status, by)
	med := m.view(m.items[i])
	m.mu.Unlock()

	m.record(ctx, []model.StockChange{change})
	return med, nil
}

// Cycle advances a medicine to the next status: in stock, low, out of stock,
// then back to in stock.
func (m *Master) Cycle(ctx context.Context, id, by string) (model.Medicine, error) {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return model.Medicine{}, ErrMedicineNotFound
	}
	change := m.setStatusLocked(i, m.items[i].Status.Next(), by)
	med := m.view(m.items[i])
	m.mu.Unlock()

	m.record(ctx, []model.StockChange{change})
	return med, nil
}

// ToggleSelect adds or removes id from the selection and reports whether it
// is now selected.
func (m *Master) ToggleSelect(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(id) < 0 {
		return false, ErrMedicineNotFound
	}
	if m.selected[id] {
		delete(m.selected, id)
		return false, nil
	}
	m.selected[id] = true
	return true, nil
}

// SelectAll selects every medicine.
func (m *Master) SelectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, med := range m.items {
		m.selected[med.ID] = true
	}
}

// DeselectAll clears the selection.
func (m *Master) DeselectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.selected)
}

// ToggleSelectAll deselects everything when every medicine is selected and
// selects everything otherwise. It returns the new selection size.
func (m *Master) ToggleSelectAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) > 0 && len(m.selected) == len(m.items) {
		clear(m.selected)
		return 0
	}
	for _, med := range m.items {
		m.selected[med.ID] = true
	}
	return len(m.selected)
}

// Selected returns the selected IDs in list order.
func (m *Master) Selected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for _, med := range m.items {
		if m.selected[med.ID] {
			ids = append(ids, med.ID)
		}
	}
	return ids
}

// BatchSetStatus sets status on every selected medicine, clears the
// selection, and returns how many medicines changed.
func (m *Master) BatchSetStatus(ctx context.Context, status model.StockStatus, by string) (int, error) {
	if !status.Valid() {
		return 0, model.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	m.mu.Lock()
	if len(m.selected) == 0 {
		m.mu.Unlock()
		return 0, ErrNothingSelected
	}
	var changes []model.StockChange
	for i, med := range m.items {
		if m.selected[med.ID] {
			changes = append(changes, m.setStatusLocked(i, status, by))
		}
	}
	clear(m.selected)
	m.mu.Unlock()

	m.record(ctx, changes)
	return len(changes), nil
}

// Add validates f and puts a new medicine at the top of the list.
func (m *Master) Add(f Fields) (model.Medicine, error) {
	if err := f.validate(); err != nil {
		return model.Medicine{}, err
	}
	status := f.Status
	if status == "" {
		status = model.StockInStock
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	med := model.Medicine{
		ID:        m.newID(),
		Name:      strings.TrimSpace(f.Name),
		Dosage:    strings.TrimSpace(f.Dosage),
		Category:  strings.TrimSpace(f.Category),
		Status:    status,
		UpdatedAt: m.now(),
	}
	m.items = append([]model.Medicine{med}, m.items...)
	return m.view(med), nil
}

// Edit validates f and replaces the attributes of medicine id. An empty
// status keeps the current one.
func (m *Master) Edit(ctx context.Context, id string, f Fields, by string) (model.Medicine, error) {
	if err := f.validate(); err != nil {
		return model.Medicine{}, err
	}

	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return model.Medicine{}, ErrMedicineNotFound
	}
	var changes []model.StockChange
	if f.Status != "" && f.Status != m.items[i].Status {
		changes = append(changes, m.setStatusLocked(i, f.Status, by))
	}
	m.items[i].Name = strings.TrimSpace(f.Name)
	m.items[i].Dosage = strings.TrimSpace(f.Dosage)
	m.items[i].Category = strings.TrimSpace(f.Category)
	m.items[i].UpdatedAt = m.now()
	med := m.view(m.items[i])
	m.mu.Unlock()

	m.record(ctx, changes)
	return med, nil
}

// Delete removes medicine id once c confirms. It reports whether the
// medicine was removed; a declined confirmation is not an error.
func (m *Master) Delete(id string, c Confirmer) (bool, error) {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return false, ErrMedicineNotFound
	}
	name := m.items[i].Name
	m.mu.Unlock()

	if !c.Confirm(fmt.Sprintf("Are you sure you want to delete %s?", name)) {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// The list may have changed while waiting for confirmation.
	if i = m.indexOf(id); i < 0 {
		return false, ErrMedicineNotFound
	}
	m.items = append(m.items[:i], m.items[i+1:]...)
	delete(m.selected, id)
	return true, nil
}

// Get returns medicine id.
func (m *Master) Get(id string) (model.Medicine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return model.Medicine{}, ErrMedicineNotFound
	}
	return m.view(m.items[i]), nil
}

// Search returns medicines whose name or category contains query, ignoring
// case. An empty query returns everything.
func (m *Master) Search(query string) []model.Medicine {
	q := strings.ToLower(strings.TrimSpace(query))

	m.mu.Lock()
	defer m.mu.Unlock()

	out := []model.Medicine{}
	for _, med := range m.items {
		if q == "" ||
			strings.Contains(strings.ToLower(med.Name), q) ||
			strings.Contains(strings.ToLower(med.Category), q) {
			out = append(out, m.view(med))
		}
	}
	return out
}

// Len returns the number of medicines.
func (m *Master) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
