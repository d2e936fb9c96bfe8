package edge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

const maxRequestBody = 64 << 10

// Backend is the subset of Client used by the registration handler.
type Backend interface {
	UsernameTaken(ctx context.Context, username string) (bool, error)
	EmailTaken(ctx context.Context, email string) (bool, error)
	RegisterClient(ctx context.Context, body []byte) (Response, error)
}

type registration struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

// RegisterHandler validates a client registration, rejects taken usernames
// and emails, and forwards the untouched body to the backend.
type RegisterHandler struct {
	backend Backend
	logger  *slog.Logger
}

func NewRegisterHandler(backend Backend, logger *slog.Logger) *RegisterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegisterHandler{backend: backend, logger: logger}
}

func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, http.MethodPost)
	if !ok {
		return
	}
	var in registration
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if in.Username == nil || in.Email == nil || in.Password == nil {
		writeError(w, http.StatusBadRequest, "missing required fields: username, email, password")
		return
	}
	username := strings.TrimSpace(*in.Username)
	email := strings.TrimSpace(*in.Email)
	if username == "" || email == "" || strings.TrimSpace(*in.Password) == "" {
		writeError(w, http.StatusBadRequest, "username, email and password must not be empty")
		return
	}

	ctx := r.Context()
	taken, err := h.backend.UsernameTaken(ctx, username)
	if err != nil {
		upstreamFailure(w, h.logger, "check username", err)
		return
	}
	if taken {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}
	taken, err = h.backend.EmailTaken(ctx, email)
	if err != nil {
		upstreamFailure(w, h.logger, "check email", err)
		return
	}
	if taken {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	resp, err := h.backend.RegisterClient(ctx, body)
	relay(w, h.logger, "register", resp, err)
}

// relay copies a backend reply to w. Transport failures become 503 or 504 and
// backend server errors become 502; everything else passes through.
func relay(w http.ResponseWriter, logger *slog.Logger, step string, resp Response, err error) {
	if err != nil {
		upstreamFailure(w, logger, step, err)
		return
	}
	if resp.Status >= http.StatusInternalServerError {
		logger.Error("backend call failed", "step", step, "status", resp.Status, "body", truncate(resp.Body, 512))
		writeError(w, http.StatusBadGateway, "backend error")
		return
	}

	logger.Info("request forwarded", "step", step, "status", resp.Status)
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func upstreamFailure(w http.ResponseWriter, logger *slog.Logger, step string, err error) {
	logger.Error("backend call failed", "step", step, "error", err)
	switch {
	case errors.Is(err, ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "backend timed out")
	case errors.Is(err, ErrUpstream):
		writeError(w, http.StatusServiceUnavailable, "backend unavailable")
	default:
		writeError(w, http.StatusBadGateway, "backend error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
