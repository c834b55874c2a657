package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "style_suite"

// Metrics holds the Prometheus collectors exported on /metrics. Each instance owns its registry so
// tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	orders       *prometheus.CounterVec
	reservations *prometheus.CounterVec
	auth         *prometheus.CounterVec
}

// NewMetrics registers the API collectors plus the Go runtime and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route", "method"})
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "orders_created_total",
		Help:      "Orders committed, by ingestion gateway.",
	}, []string{"source"})
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "inventory_reservations_total",
		Help:      "Inventory reservation outcomes.",
	}, []string{"result"})

	auth := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "auth_verifications_total",
		Help:      "Token verification outcomes by credential kind.",
	}, []string{"kind", "result"})

	registry.MustRegister(
		requests,
		latency,
		orders,
		reservations,
		auth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:     registry,
		requests:     requests,
		latency:      latency,
		orders:       orders,
		reservations: reservations,
		auth:         auth,
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OrderCreated increments orders_created_total for the gateway.
func (m *Metrics) OrderCreated(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.orders.WithLabelValues(source).Inc()
}

// ReservationResult increments inventory_reservations_total for the outcome.
func (m *Metrics) ReservationResult(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

// RecordVerification counts session and service token checks. A failure is labelled with its reason.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !success && reason != "" {
		result = reason
	} else if !success {
		result = "failed"
	}
	m.auth.WithLabelValues(kind, result).Inc()
}

// Middleware records request counts and latency keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := SanitizeRoute(routePattern(r))
		method := SanitizeMethod(r.Method)
		m.requests.WithLabelValues(route, method, strconv.Itoa(writtenStatus(ww))).Inc()
		m.latency.WithLabelValues(route, method).Observe(float64(time.Since(start).Microseconds()) / 1000)
	})
}
