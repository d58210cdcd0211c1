package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
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
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"route", "method"},
	)

	SessionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Total number of assessment sessions started",
		},
		[]string{"instrument"},
	)
	SessionConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_conflicts_total",
			Help: "Session creations refused because an active session already exists",
		},
		[]string{"instrument"},
	)
	SessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Session state transitions by target state",
		},
		[]string{"state"},
	)
	SessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_expired_by_sweeper_total",
			Help: "Sessions bulk-expired by the background sweeper",
		},
	)
	ResultsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "results_created_total",
			Help: "Total number of results stored",
		},
		[]string{"instrument"},
	)
	SideEffectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "side_effects_total",
			Help: "Post-commit effect outcomes",
		},
		[]string{"effect", "outcome"},
	)
	ComparisonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normative_comparisons_total",
			Help: "Normative comparisons computed on result reads",
		},
		[]string{"instrument"},
	)
	ComparisonCohortSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "normative_cohort_size",
			Help:    "Size of the cohort used for a normative comparison",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	EffectBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "effect_breaker_state",
			Help: "Circuit breaker state per effect (0 closed, 1 open, 2 half-open)",
		},
		[]string{"effect"},
	)
	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_rate_limited_total",
			Help: "Requests refused by the per-user token bucket",
		},
		[]string{"class"},
	)
	ScoreDriftGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "score_drift_ratio",
			Help: "Relative drift of the recent score mean from its baseline",
		},
		[]string{"instrument", "instrument_version", "engine_version", "metric"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(SessionsCreatedTotal)
	prometheus.MustRegister(SessionConflictsTotal)
	prometheus.MustRegister(SessionTransitionsTotal)
	prometheus.MustRegister(SessionsExpiredTotal)
	prometheus.MustRegister(ResultsCreatedTotal)
	prometheus.MustRegister(SideEffectsTotal)
	prometheus.MustRegister(ComparisonsTotal)
	prometheus.MustRegister(ComparisonCohortSize)
	prometheus.MustRegister(EffectBreakerState)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(ScoreDriftGauge)
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

func SessionCreated(instrumentID string) {
	SessionsCreatedTotal.WithLabelValues(instrumentID).Inc()
	SessionTransitionsTotal.WithLabelValues(string(domain.SessionStarted)).Inc()
}

func SessionConflict(instrumentID string) {
	SessionConflictsTotal.WithLabelValues(instrumentID).Inc()
}

func SessionTransition(to domain.SessionState) {
	SessionTransitionsTotal.WithLabelValues(string(to)).Inc()
}

// SessionsExpired counts sessions expired in bulk by the sweeper.
func SessionsExpired(n int64) {
	if n > 0 {
		SessionsExpiredTotal.Add(float64(n))
	}
}

func ResultCreated(instrumentID string) {
	ResultsCreatedTotal.WithLabelValues(instrumentID).Inc()
}

// SideEffect records one post-commit effect outcome (ok, failed, skipped).
func SideEffect(effect, outcome string) {
	SideEffectsTotal.WithLabelValues(effect, outcome).Inc()
}

// ComparisonComputed records a normative comparison and its cohort size.
func ComparisonComputed(instrumentID string, cohortSize int) {
	ComparisonsTotal.WithLabelValues(instrumentID).Inc()
	ComparisonCohortSize.Observe(float64(cohortSize))
}

func RateLimited(class string) {
	RateLimitedTotal.WithLabelValues(class).Inc()
}
