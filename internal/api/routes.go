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

	if !s.protected() {
		return
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/me", s.HandleMe)

		// Sessions
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.HandleListSessions)
			r.Post("/", s.HandleCreateSession)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.HandleGetSession)
				r.Delete("/", s.HandleDeleteSession)
				r.Post("/activate", s.HandleActivateSession)
				r.Post("/reset", s.HandleResetSession)
				r.Put("/params/{param}", s.HandleSetParam)
				r.Delete("/params/{param}", s.HandleUnsetParam)
			})
		})

		// Analyzer
		r.Get("/analyzer", s.HandleAnalyzerState)
		r.Get("/frames", s.HandleRecentFrames)
		r.Post("/frames/decode", s.HandleDecodeFrame)

		// Crypto tools
		r.Post("/keys/derive", s.HandleDeriveKeys)

		// Forger
		r.Post("/forge/{kind}", s.HandleForge)

		// Radio side
		r.Get("/gateways", s.HandleListGateways)
		r.Post("/integrations/test", s.HandleTestIntegration)
	})
}
