// Package metrics exposes run counters for the serve mode in the Prometheus
// exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
)

const namespace = "openclash_overwrite"

// Collector records pipeline runs. It implements pipeline.Observer.
type Collector struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastSuccess   prometheus.Gauge
	artifacts     *prometheus.GaugeVec
	errors        *prometheus.GaugeVec
	skipped       *prometheus.GaugeVec
	artifactsMade prometheus.Counter
}

// NewCollector registers the run metrics on registry, or on a fresh registry
// when nil. The fresh registry also carries the Go and process collectors.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	c := &Collector{
		registry: registry,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Generation runs by result (ok, failed).",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of generation runs.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that completed.",
		}),
		artifacts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "category_artifacts",
			Help:      "Artifacts generated per category in the last run.",
		}, []string{"category"}),
		errors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "category_errors",
			Help:      "Errors per category in the last run.",
		}, []string{"category"}),
		skipped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "category_skipped",
			Help:      "Skipped source documents per category in the last run.",
		}, []string{"category"}),
		artifactsMade: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_generated_total",
			Help:      "Artifacts generated since start.",
		}),
	}
	registry.MustRegister(c.runs, c.runDuration, c.lastSuccess, c.artifacts, c.errors, c.skipped, c.artifactsMade)
	return c
}

// RunFinished implements pipeline.Observer.
func (c *Collector) RunFinished(s *pipeline.Stats, err error) {
	if err != nil {
		c.runs.WithLabelValues("failed").Inc()
	} else {
		c.runs.WithLabelValues("ok").Inc()
	}
	if s == nil {
		return
	}
	c.runDuration.Observe(s.Duration().Seconds())
	if err != nil || s.DryRun {
		return
	}
	c.lastSuccess.Set(float64(s.FinishedAt.Unix()))
	c.artifactsMade.Add(float64(s.Total))

	c.artifacts.Reset()
	c.errors.Reset()
	c.skipped.Reset()
	for _, cat := range s.Categories {
		c.artifacts.WithLabelValues(cat.Name).Set(float64(cat.Artifacts))
		c.errors.WithLabelValues(cat.Name).Set(float64(cat.Errors))
		c.skipped.WithLabelValues(cat.Name).Set(float64(cat.Skipped))
	}
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
