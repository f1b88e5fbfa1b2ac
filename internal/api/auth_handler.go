package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/auth"
)

// AuthHandler handles the admin login and password rotation endpoints.
type AuthHandler struct {
	passwords *auth.PasswordStore
	tokens    *auth.TokenService
	logger    *zap.Logger
}

func NewAuthHandler(passwords *auth.PasswordStore, tokens *auth.TokenService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		passwords: passwords,
		tokens:    tokens,
		logger:    logger,
	}
}

type loginRequest struct {
	Password string `json:"password"`
}

// Login godoc
//
//	@Summary		Admin login
//	@Description	Verify the admin password and issue a session token
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		loginRequest	true	"Admin password"
//	@Success		200		{object}	object{token=string,expires_in=int}	"Session token"
//	@Failure		401		{object}	map[string]string	"Invalid password"
//	@Router			/api/auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.passwords.Verify(req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			writeError(w, http.StatusUnauthorized, "Invalid password")
			return
		}
		h.logger.Error("Password verification failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to verify password")
		return
	}

	token, _, err := h.tokens.Issue()
	if err != nil {
		h.logger.Error("Token issue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int(h.tokens.TokenTTL().Seconds()),
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword godoc
//
//	@Summary		Rotate the admin password
//	@Description	Verify the current password and persist a new bcrypt hash
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		changePasswordRequest	true	"Current and new password"
//	@Success		200		{object}	map[string]string	"Password changed"
//	@Failure		400		{object}	map[string]string	"New password too short"
//	@Failure		401		{object}	map[string]string	"Current password is incorrect"
//	@Router			/api/auth/change_password [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.passwords.Change(req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "New password must be at least 8 characters")
		case errors.Is(err, auth.ErrInvalidPassword):
			writeError(w, http.StatusUnauthorized, "Current password is incorrect")
		default:
			h.logger.Error("Password change failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
