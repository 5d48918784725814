package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector manages all Prometheus metrics for the dev server
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	buildsTotal   *prometheus.CounterVec
	buildDuration prometheus.Histogram

	invocationsTotal   *prometheus.CounterVec
	invocationDuration prometheus.Histogram

	cacheLookups *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewCollector creates and registers all dev server metrics
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "now_dev_requests_total",
				Help: "Total number of requests by dispatch outcome",
			},
			[]string{"outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "now_dev_request_duration_seconds",
				Help:    "Request handling duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"outcome"},
		),
		buildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "now_dev_builds_total",
				Help: "Total number of orchestration runs by status",
			},
			[]string{"status"},
		),
		buildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "now_dev_build_duration_seconds",
				Help:    "Orchestration run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "now_dev_invocations_total",
				Help: "Total number of function invocations by status",
			},
			[]string{"status"},
		),
		invocationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "now_dev_invocation_duration_seconds",
				Help:    "Function invocation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "now_dev_build_cache_lookups_total",
				Help: "Build cache lookups by result",
			},
			[]string{"result"},
		),
		registry: registry,
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.buildsTotal,
		c.buildDuration,
		c.invocationsTotal,
		c.invocationDuration,
		c.cacheLookups,
	)

	return c
}

// RecordRequest records one dispatched request
func (c *Collector) RecordRequest(outcome string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(outcome).Inc()
	c.requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordBuild records one orchestration run
func (c *Collector) RecordBuild(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.buildsTotal.WithLabelValues(status).Inc()
	c.buildDuration.Observe(duration.Seconds())
}

// RecordInvocation records one function invocation
func (c *Collector) RecordInvocation(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.invocationsTotal.WithLabelValues(status).Inc()
	c.invocationDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records a build cache hit or miss
func (c *Collector) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
