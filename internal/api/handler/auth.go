package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/api/middleware"
	"github.com/hazinapay/backend/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		RespondError(w, r, http.StatusBadRequest, "auth/missing-credentials", "email and password are required")
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			RespondError(w, r, http.StatusUnauthorized, "auth/invalid-credentials", "invalid email or password")
			return
		}
		zap.L().Error("login failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/login-failed", "login failed")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword handles POST /v1/auth/password. The temporary password
// issued at registration is replaced through here on first login.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	if err := h.auth.ReplacePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			RespondError(w, r, http.StatusUnauthorized, "auth/invalid-credentials", "current password is incorrect")
			return
		}
		zap.L().Warn("password change rejected", zap.String("user_id", userID), zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "auth/password-change-rejected", err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}
