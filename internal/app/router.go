// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/watermark-removal/internal/adapter/httpserver"
	"github.com/fairyhunter13/watermark-removal/internal/adapter/observability"
	"github.com/fairyhunter13/watermark-removal/internal/config"
	"github.com/fairyhunter13/watermark-removal/internal/domain"
	"github.com/fairyhunter13/watermark-removal/internal/lifecycle"
	"github.com/fairyhunter13/watermark-removal/internal/ratelimiter"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes for
// the submission API (spec.md §6 "External Interfaces"). ctrl is the
// submitter's lifecycle controller, serving /healthz, /readyz, and
// /capabilities; jobs backs the aggregate /status endpoint.
func BuildRouter(cfg config.Config, srv *httpserver.Server, ctrl *lifecycle.Controller, jobs domain.JobRepository, userLimiter *ratelimiter.RedisLuaLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(httpserver.AcceptNegotiation)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Unauthenticated diagnostics (spec.md §6).
	r.Get("/healthz", ctrl.LivenessHandler)
	r.Get("/readyz", ctrl.ReadinessHandler)
	r.Get("/capabilities", ctrl.CapabilitiesHandler)
	r.Get("/status", StatusHandler(ctrl, jobs))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/api/v1/platforms", srv.PlatformsHandler)

	// Bearer-authenticated job API, rate-limited per caller IP.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Use(httpserver.BearerRequired)
		wr.Use(httpserver.PerUserRateLimit(userLimiter, cfg.RateLimitPerMin))
		wr.Post("/api/v1/jobs", srv.SubmitJobHandler)
		wr.Post("/api/v1/jobs/batch", srv.BatchJobHandler)
		wr.Post("/api/v1/jobs/upload", srv.UploadJobHandler)
		wr.Get("/api/v1/jobs/{id}", srv.JobHandler)
		wr.Get("/api/v1/jobs/{id}/download", srv.DownloadJobHandler)
		wr.Delete("/api/v1/jobs/{id}", srv.CancelJobHandler)
	})

	// Trusted worker callback, shared-secret authenticated.
	r.Group(func(wr chi.Router) {
		wr.Use(httpserver.InternalSecretRequired(cfg.InternalSecret))
		wr.Post("/api/internal/jobs/{id}/complete", srv.InternalCompleteHandler)
	})

	return httpserver.SecurityHeaders(r)
}
