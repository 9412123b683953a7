package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Session controls
		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.HandleGetSession)
			r.Post("/mode", s.HandleSelectMode)
			r.Post("/back", s.HandleBack)
			r.Post("/connect", s.HandleConnect)
			r.Post("/activate", s.HandleActivate)
			r.Post("/reset", s.HandleReset)
			r.Post("/keyboard", s.HandleToggleKeyboard)
			r.Post("/keys", s.HandleKeyPress)
		})

		// Event log
		r.Route("/log", func(r chi.Router) {
			r.Get("/", s.HandleGetLog)
			r.Delete("/", s.HandleClearLog)
		})

		// Live stream
		r.Get("/stream", s.HandleStream)
	})
}
