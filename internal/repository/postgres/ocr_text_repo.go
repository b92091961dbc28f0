package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"assesslab/internal/port"
)

type ocrTextRepo struct {
	db *sqlx.DB
}

// NewOCRTextRepo creates a new PostgreSQL-backed OCRTextStore.
func NewOCRTextRepo(db *sqlx.DB) port.OCRTextStore {
	return &ocrTextRepo{db: db}
}

func (r *ocrTextRepo) Lookup(ctx context.Context, documentURL string) (string, bool, error) {
	var text string
	err := r.db.GetContext(ctx, &text,
		`SELECT ocr_text FROM ocr_texts WHERE document_url = $1`, documentURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up OCR text: %w", err)
	}
	return text, true, nil
}

func (r *ocrTextRepo) Save(ctx context.Context, documentURL, text string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ocr_texts (document_url, ocr_text)
		 VALUES ($1, $2)
		 ON CONFLICT (document_url) DO UPDATE
		 SET ocr_text = EXCLUDED.ocr_text, updated_at = NOW()`,
		documentURL, text)
	if err != nil {
		return fmt.Errorf("saving OCR text: %w", err)
	}
	return nil
}
