// Package metrics provides Prometheus instrumentation for the team engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueriesTotal counts engine queries by endpoint and outcome.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nupips_team_queries_total",
		Help: "Total downline queries served",
	}, []string{"endpoint", "status"})

	// TraversalNodes tracks how many nodes a single traversal visited.
	TraversalNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nupips_team_traversal_nodes",
		Help:    "Nodes visited per traversal",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000},
	})

	// TraversalDepth tracks the deepest level a traversal reached.
	TraversalDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nupips_team_traversal_depth",
		Help:    "Deepest level reached per traversal",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15},
	})

	// CycleAlarms counts traversals aborted by a parent-pointer cycle.
	// Any non-zero value means the forest data is corrupted.
	CycleAlarms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nupips_team_cycle_alarms_total",
		Help: "Traversals aborted due to a detected referral cycle",
	})

	// TruncatedTraversals counts traversals that hit the depth bound.
	TruncatedTraversals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nupips_team_truncated_traversals_total",
		Help: "Traversals truncated at the depth bound",
	})

	// StoreRetries counts node store fetches that were retried.
	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nupips_team_store_retries_total",
		Help: "Node store fetches retried after a transient failure",
	}, []string{"op"})

	// WebSocketClients tracks connected live-stats subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nupips_team_websocket_clients",
		Help: "Number of connected live-stats WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nupips_team_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nupips_team_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
