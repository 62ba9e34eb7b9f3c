package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the administrator console endpoints. Every route
// requires an authenticated administrator.
func RegisterRoutes(r chi.Router, handler *AdminHandler, authMiddleware, adminMiddleware func(http.Handler) http.Handler) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(adminMiddleware)

		r.Get("/users", handler.ListUsers)
		r.Patch("/users/{userID}/status", handler.UpdateUserStatus)
		r.Post("/users/{userID}/verify", handler.VerifyUser)
		r.Delete("/users/{userID}", handler.DeleteUser)
		r.Put("/users/{userID}/overrides", handler.SetOverrides)
		r.Delete("/users/{userID}/overrides", handler.ClearOverrides)

		r.Get("/sessions", handler.ListSessions)
		r.Delete("/sessions/{sessionID}", handler.TerminateSession)

		r.Get("/overrides", handler.ListOverrides)
		r.Get("/stats", handler.GetStats)
	})
}
