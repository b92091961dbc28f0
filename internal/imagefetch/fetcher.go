// Package imagefetch downloads remote images and encodes them for vision model calls.
package imagefetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"assesslab/internal/domain"
	"assesslab/internal/logger"
)

// chunkSize is a multiple of 3 so that encoded chunks concatenate without padding.
const chunkSize = 3 * 1024

// FailureRecorder receives per-image fetch failures.
type FailureRecorder interface {
	ImageFetchFailed()
}

// Fetcher downloads image batches with per-request timeouts.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	workers  int
	log      *zap.Logger
	recorder FailureRecorder
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithWorkers bounds the number of concurrent downloads.
func WithWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithFailureRecorder reports each per-image failure, typically to metrics.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(f *Fetcher) { f.recorder = r }
}

// New creates a Fetcher. A zero timeout defaults to 30s.
func New(timeout time.Duration, log *zap.Logger, opts ...Option) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	f := &Fetcher{
		client:  &http.Client{},
		timeout: timeout,
		workers: 4,
		log:     logger.OrNop(log).Named("imagefetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type fetchResult struct {
	image domain.ImageContent
	err   error
}

// ProcessBatch fetches every URL, tolerating individual failures.
// It returns an error only when no image could be fetched; the error lists every failure.
func (f *Fetcher) ProcessBatch(ctx context.Context, urls []string) (domain.ImageProcessingOutcome, error) {
	results := make([]fetchResult, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			img, err := f.fetchOne(gctx, u)
			results[i] = fetchResult{image: img, err: err}
			// per-image failures never cancel siblings
			return nil
		})
	}
	_ = g.Wait()

	outcome := domain.ImageProcessingOutcome{
		Succeeded: make([]domain.ImageContent, 0, len(urls)),
		Failed:    []domain.ImageFailure{},
	}
	for i, r := range results {
		if r.err != nil {
			outcome.Failed = append(outcome.Failed, domain.ImageFailure{Index: i, URL: urls[i], Error: r.err.Error()})
			f.log.Warn("image fetch failed", zap.Int("index", i), zap.String("url", urls[i]), zap.Error(r.err))
			if f.recorder != nil {
				f.recorder.ImageFetchFailed()
			}
			continue
		}
		outcome.Succeeded = append(outcome.Succeeded, r.image)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome, ctxErr
	}
	if len(outcome.Succeeded) == 0 {
		return outcome, allFailedError(outcome.Failed)
	}
	return outcome, nil
}

func allFailedError(failed []domain.ImageFailure) error {
	reasons := make([]string, 0, len(failed))
	for _, fl := range failed {
		reasons = append(reasons, fmt.Sprintf("image %d (%s): %s", fl.Index+1, fl.URL, fl.Error))
	}
	return fmt.Errorf("%w: all %d images failed to load: %s",
		domain.ErrDocumentAccess, len(failed), strings.Join(reasons, "; "))
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) (domain.ImageContent, error) {
	canonical := CanonicalURL(rawURL)
	if IsPDFURL(canonical) {
		return domain.ImageContent{}, errors.New("PDF files are not supported by the vision endpoint")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonical, nil)
	if err != nil {
		return domain.ImageContent{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.ImageContent{}, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ImageContent{}, fmt.Errorf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	mediaType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	switch {
	case mediaType == "":
		return domain.ImageContent{}, errors.New("missing content type")
	case strings.EqualFold(mediaType, "application/pdf"):
		return domain.ImageContent{}, errors.New("PDF content is not supported by the vision endpoint")
	case !strings.HasPrefix(strings.ToLower(mediaType), "image/"):
		return domain.ImageContent{}, fmt.Errorf("unsupported content type %q", mediaType)
	}

	data, err := EncodeBase64(resp.Body)
	if err != nil {
		return domain.ImageContent{}, fmt.Errorf("reading image body: %w", err)
	}
	if data == "" {
		return domain.ImageContent{}, errors.New("empty image body")
	}

	return domain.ImageContent{URL: canonical, Data: data, MediaType: strings.ToLower(mediaType)}, nil
}

// EncodeBase64 streams r through a base64 encoder in fixed-size chunks.
func EncodeBase64(r io.Reader) (string, error) {
	var sb strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(enc, r, buf); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// CanonicalURL strips the query string and fragment.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// IsPDFURL reports whether the URL path names a PDF file.
func IsPDFURL(raw string) bool {
	return strings.HasSuffix(strings.ToLower(CanonicalURL(raw)), ".pdf")
}
