package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/barriomed/clinic/internal/model"
)

// StockLog persists medicine status changes for the staff restock log.
type StockLog struct {
	DB *sql.DB
}

// RecordStockChange appends a status change to the log.
func (l *StockLog) RecordStockChange(ctx context.Context, c model.StockChange) error {
	return RecordStockChange(ctx, l.DB, c)
}

// RecordStockChange appends a status change to the log.
func RecordStockChange(ctx context.Context, db *sql.DB, c model.StockChange) error {
	changedAt := c.ChangedAt
	if changedAt.IsZero() {
		changedAt = time.Now()
	}
	var changedBy sql.NullString
	if c.ChangedBy != "" {
		changedBy = sql.NullString{String: c.ChangedBy, Valid: true}
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO stock_changes (medicine_id, medicine_name, from_status, to_status, changed_by, changed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.MedicineID, c.MedicineName, string(c.From), string(c.To), changedBy, changedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording stock change: %w", err)
	}
	return nil
}

// ListStockChanges returns the most recent changes first. A medicineID of ""
// lists changes for all medicines; limit <= 0 means no limit.
func ListStockChanges(ctx context.Context, db *sql.DB, medicineID string, limit int) ([]model.StockChange, error) {
	query := `SELECT id, medicine_id, medicine_name, from_status, to_status, changed_by, changed_at
	          FROM stock_changes`
	var args []any
	if medicineID != "" {
		query += ` WHERE medicine_id = ?`
		args = append(args, medicineID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing stock changes: %w", err)
	}
	defer rows.Close()

	var changes []model.StockChange
	for rows.Next() {
		var c model.StockChange
		var from, to string
		var changedBy sql.NullString
		if err := rows.Scan(&c.ID, &c.MedicineID, &c.MedicineName, &from, &to, &changedBy, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("scanning stock change: %w", err)
		}
		c.From = model.StockStatus(from)
		c.To = model.StockStatus(to)
		c.ChangedBy = changedBy.String
		changes = append(changes, c)
	}
	return changes, rows.Err()
}
