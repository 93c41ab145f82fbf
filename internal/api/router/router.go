package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/whatsapp-gemini-relay/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/whatsapp-gemini-relay/internal/http/middleware"
	"github.com/wolfman30/whatsapp-gemini-relay/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	WebhookHandler *handlers.WhatsAppWebhookHandler
	MetricsHandler http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/", handlers.Home)
	r.Get("/health", handlers.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.WebhookHandler != nil {
		r.Get("/webhook", cfg.WebhookHandler.HandleVerification)
		r.Post("/webhook", cfg.WebhookHandler.HandleInbound)
	}

	return r
}
