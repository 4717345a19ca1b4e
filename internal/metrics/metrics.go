// Package metrics exposes export and HTTP metrics in the Prometheus format.
//
// A Collector owns its own registry so tests and embedded uses never touch
// the global default registry.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "celerix_export"

// Collector records export outcomes and HTTP traffic.
type Collector struct {
	registry *prometheus.Registry

	exportsTotal      *prometheus.CounterVec
	exportErrors      *prometheus.CounterVec
	exportDuration    *prometheus.HistogramVec
	exportBytes       *prometheus.CounterVec
	exportRecords     *prometheus.HistogramVec
	brandingFallbacks prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector creates a collector registered on a fresh registry, together
// with the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Export calls by format and status.",
		}, []string{"format", "status"}),
		exportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_errors_total",
			Help:      "Failed exports by format and failure kind.",
		}, []string{"format", "kind"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Time spent normalizing, rendering and saving an export.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"format"}),
		exportBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_bytes_total",
			Help:      "Bytes delivered to sinks.",
		}, []string{"format"}),
		exportRecords: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_records",
			Help:      "Records per export.",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
		}, []string{"format"}),
		brandingFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "branding_fallbacks_total",
			Help:      "PDF exports that used the text header because the logo was unavailable.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.exportsTotal,
		c.exportErrors,
		c.exportDuration,
		c.exportBytes,
		c.exportRecords,
		c.brandingFallbacks,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

// ObserveExport implements export.Observer.
func (c *Collector) ObserveExport(res *export.Result, err error) {
	if res == nil {
		return
	}
	format := string(res.Format)
	c.exportsTotal.WithLabelValues(format, string(res.Status)).Inc()
	c.exportDuration.WithLabelValues(format).Observe(res.Duration.Seconds())

	if err != nil {
		kind := "unknown"
		var eerr *export.Error
		if errors.As(err, &eerr) {
			kind = eerr.Kind.String()
		}
		c.exportErrors.WithLabelValues(format, kind).Inc()
		return
	}
	if res.Status != export.StatusSaved {
		return
	}
	c.exportBytes.WithLabelValues(format).Add(float64(res.Bytes))
	c.exportRecords.WithLabelValues(format).Observe(float64(res.Records))
	if res.BrandingFallback {
		c.brandingFallbacks.Inc()
	}
}

// ObserveRequest records one served HTTP request. route is the matched
// route pattern, not the raw path.
func (c *Collector) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
