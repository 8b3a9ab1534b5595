package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session operation labels.
const (
	OpLogin   = "login"
	OpRefresh = "refresh"
	OpLogout  = "logout"
	OpMe      = "me"
)

// Guard decision labels.
const (
	DecisionAccepted    = "accepted"
	DecisionRevoked     = "revoked"
	DecisionInvalid     = "invalid"
	DecisionExpired     = "expired"
	DecisionUnknownUser = "unknown_user"
	DecisionFailOpen    = "fail_open"
	DecisionFailClosed  = "fail_closed"
)

// MetricsService encapsulates Prometheus instrumentation for the auth service.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	sessions           *prometheus.CounterVec
	guardDecisions     *prometheus.CounterVec
	backgroundFailures *prometheus.CounterVec
	identityDuration   *prometheus.HistogramVec
	cacheLookups       *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_sessions_total",
		Help: "Session operations by outcome",
	}, []string{"op", "outcome"})

	guardDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_guard_decisions_total",
		Help: "Access guard decisions",
	}, []string{"decision"})

	backgroundFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_background_failures_total",
		Help: "Best-effort background jobs that were dropped or failed",
	}, []string{"job"})

	identityDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identity_call_duration_seconds",
		Help:    "Duration of identity provider calls including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revocation_cache_lookups_total",
		Help: "Revocation cache lookups by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, sessions, guardDecisions, backgroundFailures, identityDuration, cacheLookups, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		sessions:           sessions,
		guardDecisions:     guardDecisions,
		backgroundFailures: backgroundFailures,
		identityDuration:   identityDuration,
		cacheLookups:       cacheLookups,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordSession counts a session operation outcome. outcome is "ok" or an error code.
func (m *MetricsService) RecordSession(op, outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(op, outcome).Inc()
}

// RecordGuardDecision counts an access guard decision.
func (m *MetricsService) RecordGuardDecision(decision string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(decision).Inc()
}

// RecordBackgroundFailure counts a best-effort job that did not complete.
func (m *MetricsService) RecordBackgroundFailure(job string) {
	if m == nil {
		return
	}
	m.backgroundFailures.WithLabelValues(job).Inc()
}

// ObserveIdentityCall records the duration of an identity provider call.
func (m *MetricsService) ObserveIdentityCall(op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.identityDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCacheLookup counts a revocation cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
