package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.instrument)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.Origins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.RequestTimeoutDuration()))
		r.Get("/", s.handleRoot)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		r.Get("/api/health", s.handleHealthCheck)
		r.Get("/api/v1/iap/{productId}/{locale}/latest", s.handleLatestSnapshot)
	})

	// Extraction requests set their own deadline from the locale count.
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post("/iap", s.handleFetch)
		r.Post("/api/v1/iap", s.handleFetch)
	})

	return r
}
