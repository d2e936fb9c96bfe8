package edge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice.dev/internal/accounts"
	"backoffice.dev/internal/alerts"
	"backoffice.dev/internal/auth"
	"backoffice.dev/internal/servicetrust"
)

type recordedRequest struct {
	method        string
	path          string
	authorization string
	signature     string
	body          string
}

type recordingBackend struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

func (b *recordingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.requests = append(b.requests, recordedRequest{
		method:        r.Method,
		path:          r.URL.Path,
		authorization: r.Header.Get("Authorization"),
		signature:     r.Header.Get(servicetrust.HeaderName),
		body:          string(raw),
	})
	status := b.status
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (b *recordingBackend) last(t *testing.T) recordedRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.requests)
	return b.requests[len(b.requests)-1]
}

func newRecordingClient(t *testing.T, status int) (*recordingBackend, *Client) {
	t.Helper()
	rb := &recordingBackend{status: status}
	srv := httptest.NewServer(rb)
	t.Cleanup(srv.Close)
	signer, err := servicetrust.NewSigner(testSecret)
	require.NoError(t, err)
	client, err := NewClient(srv.URL, signer, nil)
	require.NoError(t, err)
	return rb, client
}

func serve(h http.Handler, method, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestEmployeeRegisterForwardsUnsigned(t *testing.T) {
	rb, client := newRecordingClient(t, http.StatusCreated)
	h := NewEmployeeRegisterHandler(client, nil)
	body := `{"username":"emp","email":"emp@example.com","password":"pw"}`

	rr := serve(h, http.MethodPost, body, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"ok":true}`, rr.Body.String())

	got := rb.last(t)
	assert.Equal(t, "/api/register/employee", got.path)
	assert.Equal(t, body, got.body)
	assert.Empty(t, got.signature)

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "  ", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, body, nil).Code)
}

func TestUpdateHandlerValidatesAndForwards(t *testing.T) {
	rb, client := newRecordingClient(t, http.StatusOK)
	h := NewUpdateHandler(client, UpdateEmployeePath, nil)
	bearer := http.Header{"Authorization": []string{"Bearer abc.def.ghi"}}
	body := `{"email":"emp@example.com","username":"emp2"}`

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPut, body, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPut, body, http.Header{"Authorization": []string{"Bearer "}}).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPut, `{"email":"emp@example.com"}`, bearer).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPut, `{not json`, bearer).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodPost, body, bearer).Code)
	rb.mu.Lock()
	assert.Empty(t, rb.requests)
	rb.mu.Unlock()

	rr := serve(h, http.MethodPut, body, bearer)
	require.Equal(t, http.StatusOK, rr.Code)
	got := rb.last(t)
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, UpdateEmployeePath, got.path)
	assert.Equal(t, "Bearer abc.def.ghi", got.authorization)
	assert.NotEmpty(t, got.signature)
	assert.Equal(t, body, got.body)
}

func TestForwardBackendFailureMapping(t *testing.T) {
	_, failing := newRecordingClient(t, http.StatusInternalServerError)
	body := `{"username":"emp","email":"emp@example.com","password":"pw"}`
	assert.Equal(t, http.StatusBadGateway, serve(NewEmployeeRegisterHandler(failing, nil), http.MethodPost, body, nil).Code)

	_, rejecting := newRecordingClient(t, http.StatusForbidden)
	bearer := http.Header{"Authorization": []string{"Bearer t"}}
	assert.Equal(t, http.StatusForbidden,
		serve(NewUpdateHandler(rejecting, UpdateClientPath, nil), http.MethodPut, `{"email":"a@b.c","username":"a"}`, bearer).Code)

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })
	signer, err := servicetrust.NewSigner(testSecret)
	require.NoError(t, err)
	client, err := NewClient(slow.URL, signer, &http.Client{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, serve(NewEmployeeRegisterHandler(client, nil), http.MethodPost, body, nil).Code)

	down, err := NewClient("http://127.0.0.1:1", signer, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, serve(NewEmployeeRegisterHandler(down, nil), http.MethodPost, body, nil).Code)
}

func TestEmployeeFlowAgainstRealBackend(t *testing.T) {
	backendURL, store := newBackend(t)
	signer, err := servicetrust.NewSigner(testSecret)
	require.NoError(t, err)
	client, err := NewClient(backendURL, signer, nil)
	require.NoError(t, err)

	rr := serve(NewEmployeeRegisterHandler(client, nil), http.MethodPost,
		`{"username":"emp","email":"emp@example.com","password":"emp-password"}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var conf accounts.Confirmation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conf))
	assert.Equal(t, auth.RoleEmployee, conf.Role)

	tokens, err := auth.NewTokenManager(backendTokenSecret)
	require.NoError(t, err)
	token, err := tokens.Issue(auth.Principal{Email: "emp@example.com"})
	require.NoError(t, err)
	bearer := http.Header{"Authorization": []string{"Bearer " + token.Value}}

	rr = serve(NewUpdateHandler(client, UpdateEmployeePath, nil), http.MethodPut,
		`{"email":"emp@example.com","username":"emp.renamed"}`, bearer)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var alert alerts.Alert
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &alert))
	assert.Equal(t, alerts.UpdateEmployee, alert.ModificationType)

	u, err := store.FindByEmail(context.Background(), "emp@example.com")
	require.NoError(t, err)
	assert.Equal(t, "emp.renamed", u.Username)

	rr = serve(NewUpdateHandler(client, UpdateClientPath, nil), http.MethodPut,
		`{"email":"emp@example.com","username":"x"}`, bearer)
	assert.Equal(t, http.StatusConflict, rr.Code)
}
