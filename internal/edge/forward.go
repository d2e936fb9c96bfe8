package edge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// EmployeeBackend forwards employee registrations.
type EmployeeBackend interface {
	RegisterEmployee(ctx context.Context, body []byte) (Response, error)
}

// ProfileBackend forwards profile updates with the caller's bearer token.
type ProfileBackend interface {
	UpdateProfile(ctx context.Context, path, authorization string, body []byte) (Response, error)
}

// Backend paths the update handler may target.
const (
	UpdateClientPath   = "/api/update/client"
	UpdateEmployeePath = "/api/update/employee"
)

// EmployeeRegisterHandler relays employee registrations unchanged. The backend
// endpoint is public, so nothing beyond a non-empty body is checked here.
type EmployeeRegisterHandler struct {
	backend EmployeeBackend
	logger  *slog.Logger
}

func NewEmployeeRegisterHandler(backend EmployeeBackend, logger *slog.Logger) *EmployeeRegisterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmployeeRegisterHandler{backend: backend, logger: logger}
}

func (h *EmployeeRegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, http.MethodPost)
	if !ok {
		return
	}
	resp, err := h.backend.RegisterEmployee(r.Context(), body)
	relay(w, h.logger, "register employee", resp, err)
}

// UpdateHandler forwards a profile update to one of the backend update
// endpoints. The caller's token is passed through; the backend decides who
// may change what.
type UpdateHandler struct {
	backend ProfileBackend
	path    string
	logger  *slog.Logger
}

func NewUpdateHandler(backend ProfileBackend, path string, logger *slog.Logger) *UpdateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateHandler{backend: backend, path: path, logger: logger}
}

type profileUpdate struct {
	Email    *string `json:"email"`
	Username *string `json:"username"`
}

func (h *UpdateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authorization, "Bearer ") || strings.TrimSpace(authorization[len("Bearer "):]) == "" {
		writeError(w, http.StatusUnauthorized, "bearer token required")
		return
	}
	body, ok := readBody(w, r, http.MethodPut)
	if !ok {
		return
	}
	var in profileUpdate
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if in.Email == nil || in.Username == nil {
		writeError(w, http.StatusBadRequest, "missing required fields: email, username")
		return
	}
	resp, err := h.backend.UpdateProfile(r.Context(), h.path, authorization, body)
	relay(w, h.logger, "update profile", resp, err)
}

// readBody enforces method and reads a bounded, non-empty body.
func readBody(w http.ResponseWriter, r *http.Request, method string) ([]byte, bool) {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large or unreadable")
		return nil, false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, "request body must not be empty")
		return nil, false
	}
	return body, true
}
