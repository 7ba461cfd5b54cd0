package model

import "time"

// Medicine is one botika inventory record. Availability is a coarse status,
// not a counted quantity.
type Medicine struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Dosage      string      `json:"dosage" yaml:"dosage"`
	Category    string      `json:"category" yaml:"category"`
	Status      StockStatus `json:"status" yaml:"status"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"updated_at"`
	LastUpdated string      `json:"last_updated" yaml:"-"`
}

// StockStatus is the availability of a medicine.
type StockStatus string

// Stock statuses.
const (
	StockInStock    StockStatus = "in_stock"
	StockLow        StockStatus = "low"
	StockOutOfStock StockStatus = "out_of_stock"
)

// Valid reports whether s is a known stock status.
func (s StockStatus) Valid() bool {
	switch s {
	case StockInStock, StockLow, StockOutOfStock:
		return true
	}
	return false
}

// Next returns the status that follows s when staff tap the stock toggle.
func (s StockStatus) Next() StockStatus {
	switch s {
	case StockInStock:
		return StockLow
	case StockLow:
		return StockOutOfStock
	default:
		return StockInStock
	}
}

// StockChange is a logged status change of a medicine.
type StockChange struct {
	ID           int64       `json:"id"`
	MedicineID   string      `json:"medicine_id"`
	MedicineName string      `json:"medicine_name"`
	From         StockStatus `json:"from"`
	To           StockStatus `json:"to"`
	ChangedBy    string      `json:"changed_by,omitempty"`
	ChangedAt    time.Time   `json:"changed_at"`
}
