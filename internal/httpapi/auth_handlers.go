package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"backoffice.dev/internal/accounts"
	"backoffice.dev/internal/audit"
	"backoffice.dev/internal/auth"
	"backoffice.dev/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenResponse(t auth.Token) tokenResponse {
	return tokenResponse{Token: t.Value, TokenType: strings.TrimSpace(bearer), ExpiresAt: t.ExpiresAt}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	principal, err := a.credentials.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			obs.AuthFailures.WithLabelValues("bad_credentials").Inc()
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
				"email": auth.NormalizeEmail(req.Email),
			})
		}
		handleServiceError(w, r, err)
		return
	}

	token, err := a.tokens.Issue(principal)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithPrincipal(r.Context(), principal), "auth.login.succeeded", map[string]any{
		"expires_at": token.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, newTokenResponse(token))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	token, err := a.tokens.Refresh(principal)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(token))
}

func (a *API) handleLogued(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	user, err := a.accounts.Profile(r.Context(), principal)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	a.register(w, r, a.accounts.RegisterClient)
}

func (a *API) handleRegisterEmployee(w http.ResponseWriter, r *http.Request) {
	a.register(w, r, a.accounts.RegisterEmployee)
}

func (a *API) register(w http.ResponseWriter, r *http.Request, fn func(context.Context, accounts.RegisterInput) (accounts.Confirmation, error)) {
	var req accounts.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	confirmation, err := fn(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, confirmation)
}
