package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the authentication endpoints on the given router.
// rateLimit throttles the credential endpoints per client IP; routes inside
// the protected Group require a valid access token.
func RegisterRoutes(r chi.Router, handler *AuthHandler, authMiddleware, rateLimit func(http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		// Public endpoints
		r.Post("/register", handler.Register)
		r.Post("/refresh", handler.Refresh)
		r.Get("/verify-email", handler.VerifyEmail)
		r.Post("/unlock-account", handler.UnlockAccount)
		r.Post("/reset-password", handler.ResetPassword)

		// Credential endpoints, throttled per client IP
		r.Group(func(r chi.Router) {
			r.Use(rateLimit)
			r.Post("/login", handler.Login)
			r.Post("/login/federated", handler.FederatedLogin)
			r.Post("/verify-otp", handler.VerifyOTP)
			r.Post("/forgot-password", handler.ForgotPassword)
		})

		// Protected endpoints
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout", handler.Logout)
			r.Post("/change-password", handler.ChangePassword)
			r.Get("/me", handler.GetMe)
			r.Delete("/me", handler.DeregisterMe)
		})
	})
}
