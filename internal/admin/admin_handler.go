package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/auth-console/backend/internal/auth"
	appctx "github.com/auth-console/backend/internal/context"
)

// AdminHandler handles HTTP requests for the administrator console
type AdminHandler struct {
	adminService *AdminService
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(adminService *AdminService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
	}
}

// ListUsers returns all accounts
// GET /api/v1/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.adminService.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// ListSessions returns the reconciled live sessions
// GET /api/v1/admin/sessions
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.adminService.ListSessions(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// TerminateSession force-ends one session
// DELETE /api/v1/admin/sessions/{sessionID}
func (h *AdminHandler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, auth.CodeValidationError, "session id is required", nil)
		return
	}

	terminatedBy, _ := appctx.ExtractUserID(r.Context())

	wasTracked, err := h.adminService.TerminateSession(r.Context(), sessionID, terminatedBy, clientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSessionID):
			h.writeError(w, http.StatusBadRequest, auth.CodeValidationError, "Invalid session id", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message":     "Session terminated",
		"session_id":  sessionID,
		"was_tracked": wasTracked,
	})
}

// UpdateUserStatus enables or disables an account
// PATCH /api/v1/admin/users/{userID}/status
func (h *AdminHandler) UpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		h.writeError(w, http.StatusBadRequest, auth.CodeValidationError, "is_active is required", nil)
		return
	}

	if err := h.adminService.SetUserActive(r.Context(), userID, *req.IsActive); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user_id":   userID,
		"is_active": *req.IsActive,
	})
}

// VerifyUser marks an account as verified without a token
// POST /api/v1/admin/users/{userID}/verify
func (h *AdminHandler) VerifyUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.adminService.VerifyUser(r.Context(), userID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "User verified",
		"user_id": userID,
	})
}

// DeleteUser soft-deletes an account
// DELETE /api/v1/admin/users/{userID}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	deletedBy, _ := appctx.ExtractUserID(r.Context())

	if err := h.adminService.DeleteUser(r.Context(), userID, deletedBy, clientIP(r), r.UserAgent()); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "User deleted",
		"user_id": userID,
	})
}

// ListOverrides returns every user with permission overrides
// GET /api/v1/admin/overrides
func (h *AdminHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.adminService.ListOverrides(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"overrides": overrides,
		"count":     len(overrides),
	})
}

// SetOverrides replaces a user's permission override set
// PUT /api/v1/admin/users/{userID}/overrides
func (h *AdminHandler) SetOverrides(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, auth.CodeValidationError, "Invalid request body", nil)
		return
	}

	perms, err := ParsePermissions(req.Permissions)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, auth.CodeValidationError, err.Error(), nil)
		return
	}

	if err := h.adminService.SetOverrides(r.Context(), userID, perms); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"permissions": Strings(perms),
	})
}

// ClearOverrides removes all permission overrides from a user
// DELETE /api/v1/admin/users/{userID}/overrides
func (h *AdminHandler) ClearOverrides(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.adminService.ClearOverrides(r.Context(), userID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Overrides cleared",
		"user_id": userID,
	})
}

// GetStats returns the dashboard summary
// GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.adminService.GetStats(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, stats)
}

func (h *AdminHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, auth.CodeUserNotFound, "User not found", nil)
	case errors.Is(err, ErrProtectedAccount):
		h.writeError(w, http.StatusForbidden, auth.CodeForbidden, "The system administrator account cannot be modified", nil)
	default:
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// writeSuccess writes a successful JSON response
func (h *AdminHandler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := auth.APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func (h *AdminHandler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := auth.APIResponse{
		Success: false,
		Error: &auth.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// clientIP extracts the client IP address from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
