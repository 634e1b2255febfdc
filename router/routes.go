package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mstgnz/storepay/handler"
	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/infra/middle"
	"github.com/mstgnz/storepay/infra/response"
	v1 "github.com/mstgnz/storepay/router/v1"
)

// Handlers are every endpoint the service exposes
type Handlers struct {
	Payments  *handler.PaymentHandler
	Callbacks *handler.CallbackHandler
	Health    *handler.HealthHandler
	Logs      *handler.LogsHandler
}

// New builds the service router. The rate limiter's sweeper stops with ctx.
func New(ctx context.Context, cfg config.ServerConfig, h Handlers) chi.Router {
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middle.PanicRecoveryMiddleware())
	r.Use(middleware.Timeout(60 * time.Second))

	// Security Middleware
	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.RateLimitMiddleware(middle.NewRateLimiter(ctx, cfg.RateLimit, time.Minute)))
	r.Use(middle.RequestValidationMiddleware())

	// CORS
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300, // Preflight cache time (second)
	}))

	r.Get("/health", h.Health.CheckHealth)

	// Gateway callbacks, authenticated by signature
	r.HandleFunc("/callback/{gateway}", h.Callbacks.HandleCallback)
	r.Post("/webhooks/{gateway}", h.Callbacks.HandleWebhook)

	r.Route("/v1", func(r chi.Router) {
		v1.Routes(r, v1.Handlers{Payments: h.Payments, Logs: h.Logs}, middle.IPWhitelistMiddleware(cfg.IPWhitelist))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "Not Found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
	})

	return r
}
