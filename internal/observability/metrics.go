package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	stockMovements  *prometheus.CounterVec
	stockConflicts  *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	jobsTotal       *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_movement_units_total",
		Help: "Absolute on-hand units moved, by ledger reason and direction.",
	}, []string{"reason", "direction"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_conflicts_total",
		Help: "Movements rejected for insufficient stock, by ledger reason.",
	}, []string{"reason"})
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_payment_verifications_total",
		Help: "Gateway payment verifications by resulting payment status.",
	}, []string{"status"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Background job executions by task type and outcome.",
	}, []string{"task", "outcome"})
	registry.MustRegister(requests, duration, movements, conflicts, verifications, jobs)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		stockMovements:  movements,
		stockConflicts:  conflicts,
		verifications:   verifications,
		jobsTotal:       jobs,
	}
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// StockMoved counts units moved by a ledger posting.
func (m *Metrics) StockMoved(reason string, delta int) {
	if m == nil || delta == 0 {
		return
	}
	direction := "in"
	if delta < 0 {
		direction = "out"
		delta = -delta
	}
	m.stockMovements.WithLabelValues(reason, direction).Add(float64(delta))
}

// StockConflict counts a movement rejected for insufficient stock.
func (m *Metrics) StockConflict(reason string) {
	if m == nil {
		return
	}
	m.stockConflicts.WithLabelValues(reason).Inc()
}

// PaymentVerified counts a gateway verification outcome.
func (m *Metrics) PaymentVerified(status string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(status).Inc()
}

// JobFinished counts a background job run.
func (m *Metrics) JobFinished(task string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.jobsTotal.WithLabelValues(task, outcome).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
