// Package telemetry exposes Prometheus metrics for the HTTP surface and the
// consultation ingestion pipeline.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ckd"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	consultations     prometheus.Counter
	ingestDuration    prometheus.Histogram
	alertsTriggered   *prometheus.CounterVec
	alertWriteFailure *prometheus.CounterVec
	warnings          *prometheus.CounterVec
	notifyFailures    prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}),
		consultations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "consultations_total",
			Help:      "Consultations persisted.",
		}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Time from validated payload to returned result.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		alertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "alerts_triggered_total",
			Help:      "Alerts persisted, by rule kind.",
		}, []string{"kind"}),
		alertWriteFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "alert_write_failures_total",
			Help:      "Alerts that could not be persisted after all attempts, by rule kind.",
		}, []string{"kind"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "warnings_total",
			Help:      "Ingestion warnings, by code.",
		}, []string{"code"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Alert events that could not be published.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.httpInFlight,
		m.consultations, m.ingestDuration,
		m.alertsTriggered, m.alertWriteFailure, m.warnings, m.notifyFailures,
	)
	return m
}

// Registry is exposed for callers that register their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ConsultationIngested(d time.Duration) {
	m.consultations.Inc()
	m.ingestDuration.Observe(d.Seconds())
}

func (m *Metrics) AlertTriggered(kind string) {
	m.alertsTriggered.WithLabelValues(kind).Inc()
}

func (m *Metrics) AlertWriteFailed(kind string) {
	m.alertWriteFailure.WithLabelValues(kind).Inc()
}

func (m *Metrics) IngestWarning(code string) {
	m.warnings.WithLabelValues(code).Inc()
}

func (m *Metrics) NotifyFailed() {
	m.notifyFailures.Inc()
}

// Middleware records request counts and latency keyed by the route pattern,
// so /patients/:id does not explode into one series per patient.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.httpInFlight.Inc()
			start := time.Now()

			err := next(c)

			m.httpInFlight.Dec()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
