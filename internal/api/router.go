package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		if s.metrics.Enabled && s.gatherer != nil {
			path := s.metrics.Path
			if path == "" {
				path = "/metrics"
			}
			r.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.With(middleware.AllowContentType("application/json")).Post("/commands", s.handleDeviceCommand)
				r.Get("/commands", s.handleDeviceCommands)
			})
		})

		r.Get("/commands", s.handleListCommands)

		r.Route("/gateway", func(r chi.Router) {
			r.Get("/snapshot", s.handleGatewaySnapshot)
			r.Get("/stats", s.handleGatewayStats)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	if s.panel != nil {
		r.Handle("/*", s.panel)
	}

	return r
}
