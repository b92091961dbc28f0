// Package docconvert classifies remote documents and resolves PDFs to their pre-rendered page images.
package docconvert

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"assesslab/internal/domain"
	"assesslab/internal/logger"
)

// Kind is the coarse document type.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindImage   Kind = "image"
	KindUnknown Kind = "unknown"
)

const pagesDir = "optimized_pdf_pages"

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true, ".heic": true,
}

// Classify decides the kind by content type first, then by file extension.
func Classify(rawURL, contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "application/pdf"):
		return KindPDF
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	}

	ext := strings.ToLower(path.Ext(urlPath(rawURL)))
	switch {
	case ext == ".pdf":
		return KindPDF
	case imageExts[ext]:
		return KindImage
	}
	return KindUnknown
}

// RemoteFile is the result of a HEAD probe.
type RemoteFile struct {
	Exists      bool
	ContentType string
}

// Converter probes remote documents.
type Converter struct {
	client  *http.Client
	timeout time.Duration
	log     *zap.Logger
}

// New creates a Converter. A zero timeout defaults to 15s.
func New(timeout time.Duration, client *http.Client, log *zap.Logger) *Converter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Converter{client: client, timeout: timeout, log: logger.OrNop(log).Named("docconvert")}
}

// CheckRemoteFile issues a HEAD request. Network failures report Exists=false rather than an error
// unless the parent context is done.
func (c *Converter) CheckRemoteFile(ctx context.Context, rawURL string) (RemoteFile, error) {
	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return RemoteFile{}, fmt.Errorf("%w: invalid document URL %q: %v", domain.ErrDocumentAccess, rawURL, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return RemoteFile{}, ctx.Err()
		}
		c.log.Debug("HEAD probe failed", zap.String("url", rawURL), zap.Error(err))
		return RemoteFile{}, nil
	}
	resp.Body.Close()

	return RemoteFile{
		Exists:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// ResolvePagesAsImages returns image URLs for a document. Images resolve to themselves.
// A PDF resolves to its first pre-rendered page when that page exists; otherwise the original
// URL is returned unchanged and the vision step will reject it.
func (c *Converter) ResolvePagesAsImages(ctx context.Context, documentURL string) ([]string, error) {
	file, err := c.CheckRemoteFile(ctx, documentURL)
	if err != nil {
		return nil, err
	}
	if !file.Exists {
		return nil, fmt.Errorf("%w: document not found or not accessible: %s", domain.ErrDocumentAccess, documentURL)
	}

	if Classify(documentURL, file.ContentType) != KindPDF {
		return []string{documentURL}, nil
	}

	// Only page 1 is probed; multi-page documents are not enumerated.
	page, ok := PageImageURL(documentURL, 1)
	if !ok {
		c.log.Warn("cannot derive page image path", zap.String("url", documentURL))
		return []string{documentURL}, nil
	}
	pageFile, err := c.CheckRemoteFile(ctx, page)
	if err != nil {
		return nil, err
	}
	if !pageFile.Exists {
		c.log.Warn("no converted pages found, using original PDF", zap.String("url", documentURL))
		return []string{documentURL}, nil
	}
	return []string{page}, nil
}

// PageImageURL derives {dir}/optimized_pdf_pages/pdf_page_{n}_{id}.jpg from {dir}/{id}.pdf.
func PageImageURL(pdfURL string, n int) (string, bool) {
	u, err := url.Parse(pdfURL)
	if err != nil || u.Path == "" {
		return "", false
	}
	dir, file := path.Split(u.Path)
	id := strings.TrimSuffix(file, path.Ext(file))
	if id == "" {
		return "", false
	}
	u.Path = dir + pagesDir + "/" + fmt.Sprintf("pdf_page_%d_%s.jpg", n, id)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), true
}

func urlPath(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	return raw
}
