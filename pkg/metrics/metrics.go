package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActorsRunning tracks live actors
	ActorsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentd_actors_running",
			Help: "Number of live agent actors",
		},
	)

	// EventsTotal counts events accepted by actors, by tag
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_events_total",
			Help: "Total number of events accepted by actors",
		},
		[]string{"tag"},
	)

	// EventsRejected counts intake failures, by reason
	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_events_rejected_total",
			Help: "Total number of events rejected at intake",
		},
		[]string{"reason"},
	)

	// TurnsTotal counts finished turns, by outcome
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_turns_total",
			Help: "Total number of agent turns by outcome",
		},
		[]string{"outcome"},
	)

	// TurnDuration tracks how long turns run
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_turn_duration_seconds",
			Help:    "Turn duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// Subscribers tracks open broadcast subscriptions
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentd_subscribers",
			Help: "Number of open event subscriptions",
		},
	)

	// ToolCalls tracks MCP tool invocations
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)
)

// Turn outcomes.
const (
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
	OutcomeSuperseded  = "superseded"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses agent names out of paths to bound label cardinality.
func normalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/agents", "/mcp":
		return path
	}
	if strings.HasPrefix(path, "/mcp/") {
		return "/mcp"
	}
	if rest, ok := strings.CutPrefix(path, "/agent/"); ok && rest != "" {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/agent/{name}" + rest[i:]
		}
		return "/agent/{name}"
	}
	return "other"
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTurn records a finished turn.
func RecordTurn(outcome string, d time.Duration) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordToolCall records an MCP tool invocation
func RecordToolCall(tool, status string) {
	ToolCalls.WithLabelValues(tool, status).Inc()
}
