package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBody))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/events", s.handleListEvents)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/subsystems", func(r chi.Router) {
			r.Get("/", s.handleListSubsystems)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetSubsystem)
				r.Get("/tuning", s.handleTuningHistory)

				// Operator token required
				r.Group(func(r chi.Router) {
					r.Use(s.authMiddleware)
					r.Put("/gains", s.handleSetGains)
					r.Put("/constraints", s.handleSetConstraints)
					r.Post("/zero", s.handleZero)
				})
			})
		})

		r.Route("/routines", func(r chi.Router) {
			r.Get("/", s.handleListRoutines)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/stop", s.handleStopRoutine)
				r.Post("/{name}/start", s.handleStartRoutine)
			})
		})
	})

	return r
}

// handleHealth reports liveness. With a store attached it also reports the
// schema, and answers 503 while migrations are pending or unreadable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "ok",
		"version":  s.version,
		"robot_id": s.robotID,
	}
	code := http.StatusOK

	if s.db != nil {
		schema, err := s.db.SchemaStatus(r.Context())
		switch {
		case err != nil:
			resp["schema_error"] = err.Error()
			resp["status"] = "degraded"
			code = http.StatusServiceUnavailable
		case !schema.Current():
			resp["schema"] = schema
			resp["status"] = "degraded"
			code = http.StatusServiceUnavailable
		default:
			resp["schema"] = schema
		}
	}

	writeJSON(w, code, resp)
}
