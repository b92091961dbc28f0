// Package app assembles the evaluation pipeline and its optional backing stores from config.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"assesslab/internal/cache/redis"
	"assesslab/internal/config"
	"assesslab/internal/docconvert"
	"assesslab/internal/evaluator"
	"assesslab/internal/extract"
	"assesslab/internal/handler"
	"assesslab/internal/imagefetch"
	"assesslab/internal/llm"
	"assesslab/internal/llm/bedrock"
	"assesslab/internal/llm/openai"
	"assesslab/internal/logger"
	"assesslab/internal/metrics"
	"assesslab/internal/pipeline"
	"assesslab/internal/port"
	"assesslab/internal/repository/postgres"
	s3storage "assesslab/internal/storage/s3"
	"assesslab/internal/vision"
)

var registerOnce sync.Once

// RegisterProviders registers the built-in model providers.
func RegisterProviders() {
	registerOnce.Do(func() {
		llm.RegisterProvider("bedrock", bedrock.Factory)
		llm.RegisterProvider("openai", openai.Factory)
	})
}

// App holds the assembled pipeline and the resources that must be closed on shutdown.
type App struct {
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
	// DB is nil when no database is configured.
	DB handler.Pinger

	closers []func() error
}

// Close releases database and cache connections.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// New wires every component named in cfg. Postgres, Redis and S3 are only connected when configured.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)
	RegisterProviders()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &App{Metrics: m}

	client, err := llm.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	store, err := a.ocrStore(ctx, cfg, m, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	var archive port.ObjectStorage
	if cfg.S3.ArchiveEnabled {
		archive, err = s3storage.NewArchive(ctx, &cfg.S3)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating evaluation archive: %w", err)
		}
	}

	fetcher := imagefetch.New(cfg.Pipeline.FetchTimeout, log,
		imagefetch.WithWorkers(cfg.Pipeline.FetchWorkers),
		imagefetch.WithFailureRecorder(m),
	)
	converter := docconvert.New(cfg.Pipeline.HeadTimeout, nil, log)
	orchestrator := vision.New(client, fetcher, vision.Config{
		BatchSize: cfg.Pipeline.BatchSize,
		Parallel:  cfg.Pipeline.ParallelBatches,
		Recorder:  m,
	}, log)

	a.Pipeline = pipeline.New(pipeline.Deps{
		Client:           client,
		Extractor:        extract.New(client, orchestrator, converter, log),
		Grader:           evaluator.New(client, log),
		Store:            store,
		Archive:          archive,
		ArchiveBucket:    cfg.S3.Bucket,
		CheckCredentials: cfg.CheckModelCredentials,
		Metrics:          m,
		Timeout:          cfg.Pipeline.Timeout,
	}, log)

	return a, nil
}

// ocrStore returns the Postgres store, fronted by Redis when both are configured.
// A Redis-only setup caches text without a durable store.
func (a *App) ocrStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (port.OCRTextStore, error) {
	var store port.OCRTextStore
	if cfg.DB.Enabled() {
		db, err := postgres.NewDB(&cfg.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.DB = postgres.Pinger{DB: db}
		store = postgres.NewOCRTextRepo(db)
	}

	if cfg.Redis.Addr == "" {
		return store, nil
	}
	rdb, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return redis.NewOCRTextCache(rdb, store, cfg.Redis.TTL, m, log), nil
}
