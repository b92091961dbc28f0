package port

import "context"

// OCRTextStore holds OCR text previously extracted for a document URL.
type OCRTextStore interface {
	// Lookup returns the cached text for documentURL; found is false on a miss.
	Lookup(ctx context.Context, documentURL string) (text string, found bool, err error)
	Save(ctx context.Context, documentURL, text string) error
}
