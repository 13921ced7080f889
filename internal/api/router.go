package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/sentilytics/sentilytics/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Metered analysis
	AnalyzeSentiment http.HandlerFunc
	AnalyzeLive      http.HandlerFunc
	AnalyzePDF       http.HandlerFunc
	PDFStatus        http.HandlerFunc
	RegisterVideo    http.HandlerFunc

	// Quota
	GetQuota      http.HandlerFunc
	GetAPIKey     http.HandlerFunc
	ListPurchases http.HandlerFunc
	GrantCredits  http.HandlerFunc

	ListAuditLogs http.HandlerFunc

	AuthMiddleware func(http.Handler) http.Handler
	InternalGuard  func(http.Handler) http.Handler
}

// HealthCheck is one dependency probed by the readiness endpoint. A nil
// Check reports the dependency as not configured.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins  []string
	AnalysisRateLimiter func(http.Handler) http.Handler
	HealthChecks        []HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		HandleError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		HandleError(w, ErrMethodNotAllowed)
	})

	// Liveness probe, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for _, hc := range cfg.HealthChecks {
			if hc.Check == nil {
				health[hc.Name] = "not configured"
				continue
			}
			if err := hc.Check(ctx); err != nil {
				health[hc.Name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[hc.Name] = "healthy"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Billing callbacks authenticate with the shared internal token, not a user identity.
		r.Route("/internal", func(r chi.Router) {
			r.Use(h.InternalGuard)
			r.Post("/grants", h.GrantCredits)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/analysis", func(r chi.Router) {
				r.Get("/pdf/status", h.PDFStatus)
				r.Post("/videos", h.RegisterVideo)

				r.Group(func(r chi.Router) {
					if cfg.AnalysisRateLimiter != nil {
						r.Use(cfg.AnalysisRateLimiter)
					}
					r.Post("/sentiment", h.AnalyzeSentiment)
					r.Post("/live", h.AnalyzeLive)
					r.Post("/pdf", h.AnalyzePDF)
				})
			})

			r.Route("/quota", func(r chi.Router) {
				r.Get("/", h.GetQuota)
				r.Get("/api-key", h.GetAPIKey)
				r.Get("/purchases", h.ListPurchases)
			})

			r.Get("/audit", h.ListAuditLogs)
		})
	})

	return r
}
