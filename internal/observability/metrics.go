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
	loginAttempts   *prometheus.CounterVec
	gateDecisions   *prometheus.CounterVec
	mailJobs        *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitbridge_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kitbridge_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitbridge_login_attempts_total",
		Help: "Login attempts by principal kind and outcome.",
	}, []string{"kind", "outcome"})
	gate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitbridge_gate_decisions_total",
		Help: "Session gate decisions by principal kind and outcome.",
	}, []string{"kind", "outcome", "reason"})
	mail := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitbridge_mail_jobs_total",
		Help: "Processed mail jobs by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, logins, gate, mail)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		loginAttempts:   logins,
		gateDecisions:   gate,
		mailJobs:        mail,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
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

// ObserveLogin counts a login attempt.
func (m *Metrics) ObserveLogin(kind, outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(kind, outcome).Inc()
}

// ObserveGate counts a session gate decision.
func (m *Metrics) ObserveGate(kind, outcome, reason string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(kind, outcome, reason).Inc()
}

// ObserveMail counts a processed mail job.
func (m *Metrics) ObserveMail(result string) {
	if m == nil {
		return
	}
	m.mailJobs.WithLabelValues(result).Inc()
}

// Registerer exposes the registry for custom collectors.
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
