// Package metrics exposes Prometheus collectors for the evaluation pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors. Its methods satisfy the recorder interfaces of the
// pipeline, vision, imagefetch and cache packages.
type Metrics struct {
	gatherer prometheus.Gatherer

	EvaluationDuration *prometheus.HistogramVec
	EvaluationTotal    *prometheus.CounterVec
	VisionBatches      *prometheus.CounterVec
	ImageFetchFailures prometheus.Counter
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assesslab_evaluation_duration_seconds",
				Help:    "Evaluation pipeline duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300},
			},
			[]string{"outcome"},
		),
		EvaluationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assesslab_evaluation_total",
				Help: "Total number of evaluations by outcome",
			},
			[]string{"outcome"},
		),
		VisionBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assesslab_vision_batches_total",
				Help: "Total vision batches by status",
			},
			[]string{"status"},
		),
		ImageFetchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assesslab_image_fetch_failures_total",
				Help: "Total images that could not be fetched",
			},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assesslab_cache_hits_total",
				Help: "Total OCR text cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assesslab_cache_misses_total",
				Help: "Total OCR text cache misses",
			},
			[]string{"cache_type"},
		),
	}

	reg.MustRegister(
		m.EvaluationDuration,
		m.EvaluationTotal,
		m.VisionBatches,
		m.ImageFetchFailures,
		m.CacheHits,
		m.CacheMisses,
	)
	return m
}

// EvaluationFinished records one pipeline run.
func (m *Metrics) EvaluationFinished(outcome string, elapsed time.Duration) {
	m.EvaluationTotal.WithLabelValues(outcome).Inc()
	m.EvaluationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// VisionBatch records one vision call.
func (m *Metrics) VisionBatch(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.VisionBatches.WithLabelValues(status).Inc()
}

// ImageFetchFailed records one image that could not be used.
func (m *Metrics) ImageFetchFailed() {
	m.ImageFetchFailures.Inc()
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
