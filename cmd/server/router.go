package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certinv/internal/handlers"
	"certinv/internal/inventory"
	"certinv/middleware"
)

const maxBodyBytes = 1 << 20

func buildRouter(app *application) http.Handler {
	r := chi.NewRouter()

	limits := middleware.DefaultRateLimitConfig()
	limits.TrustProxy = app.cfg.TrustProxy
	if app.cfg.RateLimit.MaxRequests > 0 {
		limits.MaxRequests = app.cfg.RateLimit.MaxRequests
	}
	if app.cfg.RateLimit.Window > 0 {
		limits.Window = app.cfg.RateLimit.Window
	}

	// Middleware must be registered before any routes. Logger reads the
	// session identity, so it runs after the session middleware.
	r.Use(middleware.RequestID)
	r.Use(app.sessions.Middleware)
	r.Use(middleware.Logger(app.cfg.TrustProxy))
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Metrics(app.registry))
	r.Use(middleware.RateLimit(limits))
	r.Use(middleware.BodyLimit(maxBodyBytes))
	r.Use(middleware.CSRFProtection)

	app.sessions.RegisterRoutes(r)
	handlers.NewOps(app.store, app.directory, app.cfg).RegisterRoutes(r)
	handlers.NewAPI(inventory.NewActions(app.service), app.listings, app.recorder).RegisterRoutes(r)
	r.Get("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}).ServeHTTP)

	return r
}
