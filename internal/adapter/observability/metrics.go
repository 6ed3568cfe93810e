package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"provider", "operation"},
	)
	AICredentialFailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_credential_failovers_total",
			Help: "Credential rotations by the upstream status that triggered them",
		},
		[]string{"status"},
	)
	AICredentialsExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_credentials_exhausted_total",
			Help: "Requests that exhausted both sweeps of the credential pool",
		},
	)
	AIAnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_answers_total",
			Help: "Answer evaluations by strategy and verdict",
		},
		[]string{"strategy", "verdict"},
	)
	AIContextTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_context_tokens",
			Help:    "Estimated token count of pasted contexts",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 8),
		},
	)

	EscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalations_total",
			Help: "Messages sent to the human channel by kind and result",
		},
		[]string{"kind", "result"},
	)
	RepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_replies_total",
			Help: "Inbound human replies by delivery result",
		},
		[]string{"result"},
	)
	PendingEscalations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "escalations_pending",
			Help: "Correlation entries currently held in memory",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state by name (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_sessions",
			Help: "Connected websocket sessions",
		},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(AIRequestsTotal)
		prometheus.MustRegister(AIRequestDuration)
		prometheus.MustRegister(AICredentialFailoversTotal)
		prometheus.MustRegister(AICredentialsExhaustedTotal)
		prometheus.MustRegister(AIAnswersTotal)
		prometheus.MustRegister(AIContextTokens)
		prometheus.MustRegister(EscalationsTotal)
		prometheus.MustRegister(RepliesTotal)
		prometheus.MustRegister(PendingEscalations)
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(LiveSessions)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveAIRequest records one provider call.
func ObserveAIRequest(provider, operation string, start time.Time) {
	AIRequestsTotal.WithLabelValues(provider, operation).Inc()
	AIRequestDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

// RecordFailover counts a credential rotation caused by status.
func RecordFailover(status int) {
	AICredentialFailoversTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordAnswer counts an evaluator verdict.
func RecordAnswer(strategy string, usable bool) {
	verdict := "unusable"
	if usable {
		verdict = "usable"
	}
	AIAnswersTotal.WithLabelValues(strategy, verdict).Inc()
}

// RecordEscalation counts a human channel send.
func RecordEscalation(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EscalationsTotal.WithLabelValues(kind, result).Inc()
}
