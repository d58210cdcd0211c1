package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	httpserver "github.com/fairyhunter13/psychometric-engine/internal/adapter/httpserver"
	"github.com/fairyhunter13/psychometric-engine/internal/adapter/observability"
	"github.com/fairyhunter13/psychometric-engine/internal/config"
)

// SessionWriteClass is the per-user bucket shared by session creation,
// answers, progress and completion.
const SessionWriteClass = "session_writes"

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// userWriteLimit picks the Redis token bucket when available and falls back
// to an in-process per-user window otherwise.
func userWriteLimit(cfg config.Config, limiter httpserver.RateLimiter) func(http.Handler) http.Handler {
	if limiter != nil {
		return httpserver.UserRateLimit(limiter, SessionWriteClass)
	}
	if cfg.UserRateLimitPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(cfg.UserRateLimitPerMin, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return httpserver.UserIDFrom(r.Context()), nil
		}))
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server, limiter httpserver.RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "ETag", "Retry-After", "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httpserver.AcceptJSON)
		if cfg.RateLimitPerMin > 0 {
			v1.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		}
		v1.Use(httpserver.Identity())

		v1.Get("/instruments", srv.ListInstrumentsHandler())
		v1.Get("/instruments/{id}", srv.GetInstrumentHandler())

		v1.Get("/sessions", srv.ListSessionsHandler())
		v1.Get("/sessions/{id}", srv.GetSessionHandler())
		v1.Delete("/sessions/{id}", srv.DeleteSessionHandler())
		v1.Post("/sessions/{id}/abandon", srv.AbandonSessionHandler())
		v1.Group(func(wr chi.Router) {
			wr.Use(userWriteLimit(cfg, limiter))
			wr.Post("/sessions", srv.CreateSessionHandler())
			wr.Post("/sessions/{id}/answers", srv.RecordAnswerHandler())
			wr.Patch("/sessions/{id}/progress", srv.UpdateProgressHandler())
			wr.Post("/sessions/{id}/complete", srv.CompleteSessionHandler())
		})

		v1.Get("/results", srv.ListResultsHandler())
		v1.Get("/results/{id}", srv.GetResultHandler())
		v1.Patch("/results/{id}/interpretation", srv.UpdateInterpretationHandler())
		v1.Post("/results/{id}/regenerate", srv.RegenerateResultHandler())
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/readyz", srv.ReadyzHandler())

	return otelhttp.NewHandler(httpserver.SecurityHeaders(r), "http.server")
}
