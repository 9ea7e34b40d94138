package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health / collector liveness
	r.Get("/health", s.HandleHealth)

	// Device registry
	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.HandleListDevices)
		r.Post("/", s.HandleCreateDevice)
		r.Delete("/{id}", s.HandleDeleteDevice)
	})

	// Live sessions and samples
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.HandleListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.HandleGetSession)
			r.Get("/samples", s.HandleListSamples)
			r.Put("/title", s.HandleSetSessionTitle)
			r.Delete("/", s.HandleDeleteSession)
		})
	})
}
