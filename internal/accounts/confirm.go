package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Confirmation is returned by the registration endpoints.
type Confirmation struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"confirmation_message,omitempty"`
}

// Confirmer notifies an external service about a new account and returns its
// reply.
type Confirmer interface {
	Confirm(ctx context.Context, c Confirmation) (string, error)
}

// HTTPConfirmer posts {username,email,role} to a fixed URL.
type HTTPConfirmer struct {
	url    string
	client *http.Client
}

const maxConfirmationReply = 4 << 10

// NewHTTPConfirmer returns nil when url is empty. A zero timeout defaults to 5s.
func NewHTTPConfirmer(url string, timeout time.Duration, client *http.Client) *HTTPConfirmer {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	c := *client
	c.Timeout = timeout
	return &HTTPConfirmer{url: url, client: &c}
}

func (h *HTTPConfirmer) Confirm(ctx context.Context, c Confirmation) (string, error) {
	if h == nil {
		return "", errors.New("confirmer not configured")
	}
	body, err := json.Marshal(struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
	}{c.Username, c.Email, c.Role})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxConfirmationReply))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("confirmation endpoint returned %d", resp.StatusCode)
	}
	return strings.TrimSpace(string(reply)), nil
}
