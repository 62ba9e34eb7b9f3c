package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/auth-console/backend/internal/auth"
	appctx "github.com/auth-console/backend/internal/context"
	"github.com/auth-console/backend/internal/repository"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMiddleware handles JWT authentication for protected routes
type AuthMiddleware struct {
	tokenService *auth.TokenService
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(tokenService *auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

// Authenticate is a middleware that validates JWT tokens from the
// Authorization header. The system-administrator sentinel is resolved
// before any store lookup; it never has a user row to find.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenMissing, "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid authorization header format")
			return
		}

		tokenString := parts[1]
		if tokenString == "" {
			m.writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Token is empty")
			return
		}

		claims, err := m.tokenService.ValidateAccessToken(tokenString)
		if err != nil {
			m.writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token")
			return
		}

		isSystemAdmin := claims.IsSystemAdmin && claims.UserID() == auth.SystemAdminUserID

		ctx := context.WithValue(r.Context(), appctx.UserIDKey, claims.UserID())
		ctx = context.WithValue(ctx, appctx.EmailKey, claims.Email)
		ctx = context.WithValue(ctx, appctx.RoleKey, claims.Role)
		ctx = context.WithValue(ctx, appctx.SystemAdminKey, isSystemAdmin)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin allows only administrator callers through. It must run
// after Authenticate.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if appctx.IsSystemAdmin(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}

		role, ok := appctx.ExtractRole(r.Context())
		if !ok || role != repository.RoleAdmin {
			m.writeError(w, http.StatusForbidden, auth.CodeForbidden, "Administrator access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeError writes a JSON error response
func (m *AuthMiddleware) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	return appctx.ExtractUserID(ctx)
}

// ExtractEmail extracts the email from the request context
func ExtractEmail(ctx context.Context) (string, bool) {
	return appctx.ExtractEmail(ctx)
}
