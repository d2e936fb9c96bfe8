// Package edge implements the public functions that sit in front of the
// backend: client and employee registration and profile update forwarding.
package edge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backoffice.dev/internal/servicetrust"
)

var (
	// ErrUpstream means the backend could not be reached.
	ErrUpstream = errors.New("backend unreachable")
	// ErrTimeout means the backend did not answer in time.
	ErrTimeout = errors.New("backend timed out")
	// ErrBadGateway means the backend answered with a server error or an
	// unexpected status.
	ErrBadGateway = errors.New("backend error")
)

const maxBackendBody = 1 << 20

// Client calls the signed backend endpoints.
type Client struct {
	baseURL string
	signer  *servicetrust.Signer
	http    *http.Client
}

// NewClient validates baseURL. A nil httpClient gets a 10s timeout.
func NewClient(baseURL string, signer *servicetrust.Signer, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q is not absolute", baseURL)
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: u.String(), signer: signer, http: httpClient}, nil
}

// UsernameTaken asks the backend whether username is registered.
func (c *Client) UsernameTaken(ctx context.Context, username string) (bool, error) {
	return c.exists(ctx, "/api/users/check-username/"+url.PathEscape(username))
}

// EmailTaken asks the backend whether email is registered.
func (c *Client) EmailTaken(ctx context.Context, email string) (bool, error) {
	return c.exists(ctx, "/api/users/check-email/"+url.PathEscape(email))
}

func (c *Client) exists(ctx context.Context, path string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	c.signer.Apply(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return false, transportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBackendBody))

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s returned %d", ErrBadGateway, path, resp.StatusCode)
	}
}

// Response is a backend reply relayed to the caller.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// RegisterClient forwards body to the signed registration endpoint with a
// fresh signature.
func (c *Client) RegisterClient(ctx context.Context, body []byte) (Response, error) {
	return c.forward(ctx, http.MethodPost, "/api/register/cliente", body, nil, true)
}

// RegisterEmployee forwards body to the public employee registration endpoint.
func (c *Client) RegisterEmployee(ctx context.Context, body []byte) (Response, error) {
	return c.forward(ctx, http.MethodPost, "/api/register/employee", body, nil, false)
}

// UpdateProfile forwards a profile update to path on behalf of the bearer of
// authorization, signed so the backend can tell it came through the edge.
func (c *Client) UpdateProfile(ctx context.Context, path, authorization string, body []byte) (Response, error) {
	h := http.Header{}
	h.Set("Authorization", authorization)
	return c.forward(ctx, http.MethodPut, path, body, h, true)
}

func (c *Client) forward(ctx context.Context, method, path string, body []byte, header http.Header, signed bool) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		c.signer.Apply(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, transportError(err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		return Response{}, fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}
	return Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
