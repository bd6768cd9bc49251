// Package metrics provides the in-process counters and histograms
// scraped by an external pull-based collector.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Collector owns a dedicated prometheus registry so several instances
// can coexist in one process (and in tests). All increments are safe
// for concurrent serving requests; prometheus vectors synchronize
// internally, so a scrape never blocks request handling beyond their
// short critical sections.
type Collector struct {
	registry *prometheus.Registry

	inferenceRequestsTotal *prometheus.CounterVec
	inferenceDuration      *prometheus.HistogramVec
	inferenceErrorsTotal   *prometheus.CounterVec
	modelLoadsTotal        *prometheus.CounterVec
	stageExecutionsTotal   *prometheus.CounterVec
	stageDuration          *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.inferenceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Total number of inference requests answered.",
		},
		[]string{"model", "version"},
	)
	c.inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Inference request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model", "version"},
	)
	c.inferenceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_errors_total",
			Help:      "Total number of failed inference requests by error code.",
		},
		[]string{"code"},
	)
	c.modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Total number of model load attempts by result.",
		},
		[]string{"result"},
	)
	c.stageExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_executions_total",
			Help:      "Total number of pipeline stage resolutions by cache outcome.",
		},
		[]string{"pipeline", "stage", "cache"},
	)
	c.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Executed stage duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"pipeline", "stage"},
	)

	c.registry.MustRegister(
		c.inferenceRequestsTotal,
		c.inferenceDuration,
		c.inferenceErrorsTotal,
		c.modelLoadsTotal,
		c.stageExecutionsTotal,
		c.stageDuration,
	)
	return c
}

// RecordInference counts one answered request and observes its latency.
func (c *Collector) RecordInference(model string, version int, duration time.Duration) {
	v := strconv.Itoa(version)
	c.inferenceRequestsTotal.WithLabelValues(model, v).Inc()
	c.inferenceDuration.WithLabelValues(model, v).Observe(duration.Seconds())
}

// RecordInferenceError counts one failed request by stable error code.
func (c *Collector) RecordInferenceError(code string) {
	c.inferenceErrorsTotal.WithLabelValues(code).Inc()
}

// RecordModelLoad counts one load attempt; result is "ok" or "error".
func (c *Collector) RecordModelLoad(result string) {
	c.modelLoadsTotal.WithLabelValues(result).Inc()
}

// RecordStage counts one stage resolution and, for executed stages,
// observes the execution duration.
func (c *Collector) RecordStage(pipeline, stage string, cacheHit bool, duration time.Duration) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	c.stageExecutionsTotal.WithLabelValues(pipeline, stage, cache).Inc()
	if !cacheHit {
		c.stageDuration.WithLabelValues(pipeline, stage).Observe(duration.Seconds())
	}
}

// Handler exposes the collector in prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Snapshot gathers the current state of every registered metric.
func (c *Collector) Snapshot() ([]*dto.MetricFamily, error) {
	return c.registry.Gather()
}
