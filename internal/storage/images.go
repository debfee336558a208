package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/promptlab/internal/model"
)

// SaveImage stores generated image bytes for a result.
func (db *DB) SaveImage(ctx context.Context, img model.Image) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO images (id, result_id, mime_type, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
		img.ID, img.ResultID, img.MIMEType, img.Data, img.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save image: %w", err)
	}
	return nil
}

// GetImage returns an image with its bytes.
func (db *DB) GetImage(ctx context.Context, id uuid.UUID) (model.Image, error) {
	var img model.Image
	err := db.pool.QueryRow(ctx,
		`SELECT id, result_id, mime_type, data, created_at FROM images WHERE id = $1`, id,
	).Scan(&img.ID, &img.ResultID, &img.MIMEType, &img.Data, &img.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Image{}, fmt.Errorf("storage: image %s: %w", id, ErrNotFound)
		}
		return model.Image{}, fmt.Errorf("storage: get image: %w", err)
	}
	return img, nil
}
