package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/widgetly-platform/widgetly/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Widget chat handlers
	CreateSession http.HandlerFunc
	SendMessage   http.HandlerFunc

	// Admin usage handlers
	IssueWidgetToken http.HandlerFunc
	ProvisionEntity  http.HandlerFunc
	GetUsage         http.HandlerFunc
	ChangePlan       http.HandlerFunc
	DeleteEntity     http.HandlerFunc
	ListUsageEvents  http.HandlerFunc

	WidgetAuth func(http.Handler) http.Handler
	AdminAuth  func(http.Handler) http.Handler
	Admission  func(http.Handler) http.Handler
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	ChatRateLimiter    func(http.Handler) http.Handler
	// Checks are run by the readiness probe. A nil check is reported as "not configured".
	Checks map[string]HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for name, check := range cfg.Checks {
			if check == nil {
				health[name] = "not configured"
				continue
			}
			if err := check(r.Context()); err != nil {
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[name] = "healthy"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Widget chat: token, burst limit, then plan quota
		r.Route("/chat", func(r chi.Router) {
			r.Use(h.WidgetAuth)
			if cfg.ChatRateLimiter != nil {
				r.Use(cfg.ChatRateLimiter)
			}
			r.Use(h.Admission)
			r.Post("/session", h.CreateSession)
			r.Post("/message", h.SendMessage)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.AdminAuth)
			r.Post("/widget-tokens", h.IssueWidgetToken)
			r.Post("/entities", h.ProvisionEntity)
			r.Route("/entities/{kind}/{entityID}", func(r chi.Router) {
				r.Delete("/", h.DeleteEntity)
				r.Get("/usage", h.GetUsage)
				r.Put("/plan", h.ChangePlan)
				r.Get("/events", h.ListUsageEvents)
			})
		})
	})

	return r
}
