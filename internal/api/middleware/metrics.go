package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	requestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Business metrics — exported for use by handlers
	ProvisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workspace_orchestrator_provisions_total",
			Help: "Total provisioning operations by resource and status",
		},
		[]string{"resource", "status"},
	)

	RoutingSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workspace_orchestrator_routing_syncs_total",
			Help: "Total routing synchronizations by status",
		},
		[]string{"status"},
	)

	ExecSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workspace_orchestrator_exec_sessions_total",
			Help: "Total exec sessions opened",
		},
	)

	ExecSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workspace_orchestrator_exec_sessions_active",
			Help: "Current number of live exec sessions",
		},
	)

	CapacityAvailableWorkspaces = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workspace_orchestrator_available_workspace_capacity",
			Help: "Cluster-wide spare capacity in workspace units, as of the last capacity query",
		},
	)

	PanicsRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workspace_orchestrator_panics_recovered_total",
			Help: "Total number of recovered panics",
		},
	)
)

// Metrics returns a middleware that collects Prometheus metrics
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		status := strconv.Itoa(wrapped.statusCode)

		// Use Chi route pattern to avoid cardinality explosion from dynamic path segments
		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		// Normalize trailing slashes
		endpoint = strings.TrimRight(endpoint, "/")
		if endpoint == "" {
			endpoint = "/"
		}

		// Record metrics
		requestDuration.WithLabelValues(r.Method, endpoint, status).Observe(duration.Seconds())
		requestCount.WithLabelValues(r.Method, endpoint, status).Inc()
	})
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
