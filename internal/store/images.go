package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SetMedicineImage stores the photo shown on a medicine card.
func SetMedicineImage(ctx context.Context, db *sql.DB, medicineID string, image []byte, mime string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO medicine_images (medicine_id, image, image_mime, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (medicine_id) DO UPDATE SET
		     image = excluded.image,
		     image_mime = excluded.image_mime,
		     updated_at = excluded.updated_at`,
		medicineID, image, mime,
	)
	if err != nil {
		return fmt.Errorf("setting medicine image: %w", err)
	}
	return nil
}

// GetMedicineImage returns a medicine's photo and MIME type, or nil data
// when none was uploaded.
func GetMedicineImage(ctx context.Context, db *sql.DB, medicineID string) ([]byte, string, error) {
	var image []byte
	var mime string
	err := db.QueryRowContext(ctx,
		`SELECT image, image_mime FROM medicine_images WHERE medicine_id = ?`, medicineID,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting medicine image: %w", err)
	}
	return image, mime, nil
}

// DeleteMedicineImage removes a medicine's photo.
func DeleteMedicineImage(ctx context.Context, db *sql.DB, medicineID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM medicine_images WHERE medicine_id = ?`, medicineID); err != nil {
		return fmt.Errorf("deleting medicine image: %w", err)
	}
	return nil
}
