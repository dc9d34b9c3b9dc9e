package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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
		r.Get("/stats", s.handleStats)

		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", s.handleListSensors)
			r.Get("/latest", s.handleLatestSensor)
			r.Get("/chart", s.handleSensorChart)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/status", s.handleAllDeviceStatus)
			r.Get("/controls", s.handleListControls)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/status", s.handleDeviceStatus)
				r.Post("/control", s.handleDeviceControl)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
