// Package metrics provides Prometheus metrics for the backend API
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authconsole",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authconsole",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "authconsole",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// LoginAttemptsTotal counts login attempts by outcome
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authconsole",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// OTPChallengesTotal counts one-time code events by result
	OTPChallengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authconsole",
			Subsystem: "auth",
			Name:      "otp_challenges_total",
			Help:      "Total number of one-time code challenges by result",
		},
		[]string{"result"},
	)

	// AccountLockoutsTotal counts accounts locked by the failure threshold
	AccountLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "authconsole",
			Subsystem: "auth",
			Name:      "account_lockouts_total",
			Help:      "Total number of accounts locked after repeated failures",
		},
	)

	// TokensIssuedTotal counts JWTs issued by type
	TokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authconsole",
			Subsystem: "auth",
			Name:      "tokens_issued_total",
			Help:      "Total number of tokens issued by type",
		},
		[]string{"type"},
	)
)

var (
	// SessionsActive tracks the number of tracked live sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "authconsole",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live sessions currently tracked",
		},
	)

	// ReconciliationsTotal counts session reconciliation passes
	ReconciliationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "authconsole",
			Subsystem: "session",
			Name:      "reconciliations_total",
			Help:      "Total number of session reconciliation passes",
		},
	)

	// ReconciliationDuration measures reconciliation pass duration
	ReconciliationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "authconsole",
			Subsystem: "session",
			Name:      "reconciliation_duration_seconds",
			Help:      "Session reconciliation pass duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

var (
	// EmailsSentTotal counts outbound emails by result
	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authconsole",
			Subsystem: "mailer",
			Name:      "emails_sent_total",
			Help:      "Total number of outbound emails by result",
		},
		[]string{"result"},
	)

	// ActivityEntriesTotal counts activity log writes by action
	ActivityEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authconsole",
			Subsystem: "activity",
			Name:      "entries_total",
			Help:      "Total number of activity log entries by action",
		},
		[]string{"action"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := getRoutePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// getRoutePattern returns the route pattern from chi context.
// Falls back to URL path if pattern not available.
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
