package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/tripwire/internal/handlers"
	"github.com/BradenHooton/tripwire/internal/middleware"
)

// RegisterRoutes registers the ops endpoints
func RegisterRoutes(router chi.Router, opsHandler *handlers.OpsHandler, rateLimit middleware.RateLimitConfig) {
	// Probes and scrapes are not rate limited
	router.Get("/health", opsHandler.Health)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimit))
		r.Get("/blocks/{ip}", opsHandler.GetBlock)
		r.Get("/detector/state", opsHandler.DetectorState)
	})
}
