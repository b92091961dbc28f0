// Package vision runs OCR-style prompts over arbitrarily many images by splitting them into
// bounded batches and concatenating the per-batch model output.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"assesslab/internal/domain"
	"assesslab/internal/imagefetch"
	"assesslab/internal/logger"
	"assesslab/internal/port"
)

// MaxBatchSize is the most images sent in one vision call.
const MaxBatchSize = 4

const nextBatchSeparator = "\n\n--- NEXT PAGE/BATCH ---\n\n"

// ImageFetcher downloads and encodes a batch of images.
type ImageFetcher interface {
	ProcessBatch(ctx context.Context, urls []string) (domain.ImageProcessingOutcome, error)
}

// BatchRecorder observes batch outcomes.
type BatchRecorder interface {
	VisionBatch(success bool)
}

// Options are per-call model parameters.
type Options struct {
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// Orchestrator drives batched vision calls.
type Orchestrator struct {
	client    port.ModelClient
	fetcher   ImageFetcher
	batchSize int
	parallel  bool
	log       *zap.Logger
	recorder  BatchRecorder
}

// Config controls batching.
type Config struct {
	BatchSize int
	Parallel  bool
	Recorder  BatchRecorder
}

// New creates an Orchestrator. Batch sizes outside [1, MaxBatchSize] are clamped.
func New(client port.ModelClient, fetcher ImageFetcher, cfg Config, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		client:    client,
		fetcher:   fetcher,
		batchSize: clampBatchSize(cfg.BatchSize),
		parallel:  cfg.Parallel,
		log:       logger.OrNop(log).Named("vision"),
		recorder:  cfg.Recorder,
	}
}

func clampBatchSize(n int) int {
	if n < 1 || n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

// CreateImageBatches partitions urls into consecutive batches of at most size elements.
func CreateImageBatches(urls []string, size int) [][]string {
	size = clampBatchSize(size)
	batches := make([][]string, 0, (len(urls)+size-1)/size)
	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		batch := make([]string, end-start)
		copy(batch, urls[start:end])
		batches = append(batches, batch)
	}
	return batches
}

// NormalizeImageURLs expands a single JSON-array string into its elements and drops blanks.
func NormalizeImageURLs(inputs []string) []string {
	if len(inputs) == 1 {
		s := strings.TrimSpace(inputs[0])
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			var parsed []string
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				inputs = parsed
			}
		}
	}
	out := make([]string, 0, len(inputs))
	for _, u := range inputs {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

type batchResult struct {
	text string
	err  error
}

// ProcessImagesWithVision runs prompt over every image and returns the concatenated text.
// A failing batch contributes an inline error marker; the call fails only if no batch produced text.
func (o *Orchestrator) ProcessImagesWithVision(ctx context.Context, prompt string, imageURLs []string, opts Options) (string, error) {
	urls := NormalizeImageURLs(imageURLs)
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: no image URLs provided", domain.ErrInvalidInput)
	}
	for _, u := range urls {
		if imagefetch.IsPDFURL(u) {
			return "", fmt.Errorf("%w: PDF must be converted to images before vision processing: %s", domain.ErrDocumentAccess, u)
		}
	}

	batches := CreateImageBatches(urls, o.batchSize)
	o.log.Info("processing images with vision",
		zap.Int("images", len(urls)), zap.Int("batches", len(batches)), zap.Bool("parallel", o.parallel))

	results := make([]batchResult, len(batches))
	if o.parallel && len(batches) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i, batch := range batches {
			i, batch := i, batch
			g.Go(func() error {
				results[i] = o.runBatch(gctx, prompt, batch, i, len(batches), len(urls), opts)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, batch := range batches {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			results[i] = o.runBatch(ctx, prompt, batch, i, len(batches), len(urls), opts)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return o.combine(results)
}

func (o *Orchestrator) runBatch(ctx context.Context, prompt string, batch []string, idx, total, imageCount int, opts Options) batchResult {
	res := o.invokeBatch(ctx, prompt, batch, idx, total, imageCount, opts)
	if o.recorder != nil {
		o.recorder.VisionBatch(res.err == nil)
	}
	if res.err != nil {
		o.log.Warn("vision batch failed", zap.Int("batch", idx+1), zap.Int("of", total), zap.Error(res.err))
	}
	return res
}

func (o *Orchestrator) invokeBatch(ctx context.Context, prompt string, batch []string, idx, total, imageCount int, opts Options) batchResult {
	outcome, err := o.fetcher.ProcessBatch(ctx, batch)
	if err != nil {
		return batchResult{err: err}
	}

	batchPrompt := prompt
	if total > 1 {
		first := idx*o.batchSize + 1
		batchPrompt = fmt.Sprintf("%s\n\n[Batch %d of %d: images %d-%d of %d. Transcribe only the images in this batch.]",
			prompt, idx+1, total, first, first+len(batch)-1, imageCount)
	}

	resp, err := o.client.InvokeVision(ctx, port.VisionRequest{
		Prompt:       batchPrompt,
		Images:       outcome.Succeeded,
		MaxTokens:    opts.MaxTokens,
		Temperature:  opts.Temperature,
		SystemPrompt: opts.SystemPrompt,
	})
	if err != nil {
		return batchResult{err: err}
	}

	text := strings.TrimSpace(resp.Text)
	if len(outcome.Failed) > 0 {
		o.log.Info("batch completed with image failures",
			zap.Int("batch", idx+1), zap.Int("failed", len(outcome.Failed)), zap.Int("succeeded", len(outcome.Succeeded)))
	}
	return batchResult{text: text}
}

func (o *Orchestrator) combine(results []batchResult) (string, error) {
	if len(results) == 1 {
		if results[0].err != nil {
			return "", results[0].err
		}
		if results[0].text == "" {
			return "", fmt.Errorf("%w: vision model returned no text", domain.ErrParse)
		}
		return results[0].text, nil
	}

	parts := make([]string, 0, len(results))
	var errs []error
	succeeded := 0
	for i, r := range results {
		switch {
		case r.err != nil:
			errs = append(errs, fmt.Errorf("batch %d: %w", i+1, r.err))
			parts = append(parts, fmt.Sprintf("--- BATCH %d ERROR ---\n%s", i+1, r.err.Error()))
		case r.text == "":
			parts = append(parts, fmt.Sprintf("--- BATCH %d ERROR ---\nno text returned", i+1))
		default:
			succeeded++
			parts = append(parts, fmt.Sprintf("--- BATCH %d RESULTS ---\n%s", i+1, r.text))
		}
	}

	if succeeded == 0 {
		if len(errs) == 0 {
			return "", fmt.Errorf("%w: vision model returned no text for any batch", domain.ErrParse)
		}
		return "", fmt.Errorf("all %d vision batches failed: %w", len(results), errors.Join(errs...))
	}
	return strings.Join(parts, nextBatchSeparator), nil
}
