package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backoffice.dev/internal/accounts"
	"backoffice.dev/internal/alerts"
	"backoffice.dev/internal/auth"
	"backoffice.dev/internal/servicetrust"
	"backoffice.dev/internal/store/memstore"
	"backoffice.dev/internal/stream"
)

const (
	testTokenSecret   = "test-token-secret-0123456789abcdef"
	testServiceSecret = "test-service-secret"
	adminEmail        = "root@example.com"
	adminPassword     = "root-password"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	signer  *servicetrust.Signer
	store   *memstore.Store
	t       *testing.T
}

func newTestAPI(t *testing.T, verifierOpts ...servicetrust.Option) *apiClient {
	t.Helper()

	store := memstore.New()
	tokens, err := auth.NewTokenManager(testTokenSecret)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	creds, err := auth.NewCredentialAuthenticator(store)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	roles, err := auth.NewRoleService(store)
	if err != nil {
		t.Fatalf("role service: %v", err)
	}
	hub := stream.New()
	dispatcher, err := alerts.NewDispatcher(store, hub)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	svc, err := accounts.NewService(store, store, dispatcher)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if _, _, err := svc.EnsureAdmin(context.Background(), "root", adminEmail, adminPassword); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	verifier, err := servicetrust.NewVerifier(testServiceSecret, verifierOpts...)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	signer, err := servicetrust.NewSigner(testServiceSecret)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	api, err := New(Deps{
		Tokens:      tokens,
		Credentials: creds,
		Accounts:    svc,
		Roles:       roles,
		Verifier:    verifier,
		Stream:      hub,
		Version:     "test",
	}, Options{RateBurst: 1000, RatePerSec: 1000})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		signer:  signer,
		store:   store,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) signed() map[string]string {
	return map[string]string{servicetrust.HeaderName: c.signer.Sign()}
}

func (c *apiClient) login(email, password string) string {
	c.t.Helper()
	resp := c.post("/api/login", map[string]any{"email": email, "password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	payload := decode[tokenResponse](c.t, resp)
	if payload.Token == "" || payload.TokenType != "Bearer" {
		c.t.Fatalf("unexpected token response: %+v", payload)
	}
	return payload.Token
}

func (c *apiClient) registerClient(username, email, password string) {
	c.t.Helper()
	resp := c.post("/api/register/cliente", map[string]any{
		"username": username, "email": email, "password": password,
	}, c.signed())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("unexpected register status: %d", resp.StatusCode)
	}
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("expected %d, got %d", want, resp.StatusCode)
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestLoginLoguedAndTamperedToken(t *testing.T) {
	api := newTestAPI(t)
	api.registerClient("ana", "ana@example.com", "ana-password")

	token := api.login("ana@example.com", "ana-password")

	resp := api.get("/api/logued", bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	profile := decode[map[string]any](t, resp)
	if profile["email"] != "ana@example.com" {
		t.Fatalf("unexpected profile: %v", profile)
	}
	if _, leaked := profile["PasswordHash"]; leaked {
		t.Fatal("password hash must not be serialized")
	}

	sig := strings.LastIndex(token, ".") + 1
	replacement := "A"
	if token[sig] == 'A' {
		replacement = "B"
	}
	tampered := token[:sig] + replacement + token[sig+1:]
	resp = api.get("/api/logued", bearerHeader(tampered))
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	expectStatus(t, resp, http.StatusUnauthorized)

	lastChar := "A"
	if strings.HasSuffix(token, "A") {
		lastChar = "B"
	}
	expectStatus(t, api.get("/api/logued", bearerHeader(token[:len(token)-1]+lastChar)), http.StatusUnauthorized)

	expectStatus(t, api.get("/api/logued", map[string]string{"Authorization": "Token " + token}), http.StatusUnauthorized)
}

func TestLoginFailures(t *testing.T) {
	api := newTestAPI(t)

	expectStatus(t, api.post("/api/login", map[string]any{"email": adminEmail, "password": "wrong"}, nil), http.StatusUnauthorized)
	expectStatus(t, api.post("/api/login", map[string]any{"email": "nobody@example.com", "password": "x"}, nil), http.StatusUnauthorized)
	expectStatus(t, api.post("/api/login", map[string]any{"email": adminEmail}, nil), http.StatusBadRequest)
	expectStatus(t, api.post("/api/login", map[string]any{"email": adminEmail, "password": "x", "extra": 1}, nil), http.StatusBadRequest)
}

func TestRefreshToken(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(adminEmail, adminPassword)

	resp := api.post("/api/refresh-token", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	refreshed := decode[tokenResponse](t, resp)
	expectStatus(t, api.get("/api/logued", bearerHeader(refreshed.Token)), http.StatusOK)

	expectStatus(t, api.post("/api/refresh-token", nil, nil), http.StatusUnauthorized)
}

func TestRegisterClienteRequiresSignature(t *testing.T) {
	api := newTestAPI(t)
	body := map[string]any{"username": "ana", "email": "ana@example.com", "password": "pw"}

	expectStatus(t, api.post("/api/register/cliente", body, nil), http.StatusUnauthorized)
	expectStatus(t, api.post("/api/register/cliente", body, map[string]string{
		servicetrust.HeaderName: "1760000000:AAAA",
	}), http.StatusUnauthorized)

	forger, err := servicetrust.NewSigner("some-other-secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	expectStatus(t, api.post("/api/register/cliente", body, map[string]string{
		servicetrust.HeaderName: forger.Sign(),
	}), http.StatusUnauthorized)

	resp := api.post("/api/register/cliente", body, api.signed())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	conf := decode[accounts.Confirmation](t, resp)
	if conf.Role != auth.RoleUser || conf.Email != "ana@example.com" {
		t.Fatalf("unexpected confirmation: %+v", conf)
	}

	expectStatus(t, api.post("/api/register/cliente", body, api.signed()), http.StatusConflict)
	expectStatus(t, api.post("/api/register/cliente", map[string]any{"username": "x"}, api.signed()), http.StatusBadRequest)
}

func TestRegisterClienteSignatureIsSingleUseWithGuard(t *testing.T) {
	api := newTestAPI(t, servicetrust.WithReplayGuard(servicetrust.NewMemoryReplayGuard(64, time.Minute)))
	header := api.signed()

	// The edge function checks availability with the same header it registers with.
	expectStatus(t, api.get("/api/users/check-username/ana", header), http.StatusNotFound)
	expectStatus(t, api.get("/api/users/check-email/ana@example.com", header), http.StatusNotFound)

	body := map[string]any{"username": "ana", "email": "ana@example.com", "password": "pw"}
	expectStatus(t, api.post("/api/register/cliente", body, header), http.StatusCreated)

	other := map[string]any{"username": "bob", "email": "bob@example.com", "password": "pw"}
	expectStatus(t, api.post("/api/register/cliente", other, header), http.StatusUnauthorized)
	if exists, _ := api.store.ExistsByEmail(context.Background(), "bob@example.com"); exists {
		t.Fatal("replayed registration must not create an account")
	}
}

func TestRegisterEmployeeIsPublic(t *testing.T) {
	api := newTestAPI(t)
	resp := api.post("/api/register/employee", map[string]any{
		"username": "emp", "email": "emp@example.com", "password": "pw",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	conf := decode[accounts.Confirmation](t, resp)
	if conf.Role != auth.RoleEmployee {
		t.Fatalf("unexpected role: %s", conf.Role)
	}
}

func TestRegisterRejectsOverlongPassword(t *testing.T) {
	api := newTestAPI(t)
	expectStatus(t, api.post("/api/register/employee", map[string]any{
		"username": "emp", "email": "emp@example.com", "password": strings.Repeat("p", 80),
	}, nil), http.StatusBadRequest)
}

func TestAvailabilityChecksAreSigned(t *testing.T) {
	api := newTestAPI(t)
	api.registerClient("ana", "ana@example.com", "pw")

	resp := api.get("/api/users/check-email/ana@example.com", api.signed())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if taken := decode[bool](t, resp); !taken {
		t.Fatal("expected true body")
	}
	expectStatus(t, api.get("/api/users/check-email/free@example.com", api.signed()), http.StatusNotFound)
	expectStatus(t, api.get("/api/users/check-username/ana", api.signed()), http.StatusOK)
	expectStatus(t, api.get("/api/users/check-username/bob", api.signed()), http.StatusNotFound)

	expectStatus(t, api.get("/api/users/check-username/ana", nil), http.StatusUnauthorized)
	token := api.login("ana@example.com", "pw")
	expectStatus(t, api.get("/api/users/check-username/ana", bearerHeader(token)), http.StatusUnauthorized)
}

func TestEncodedSlashDoesNotBypassPolicy(t *testing.T) {
	api := newTestAPI(t)
	api.registerClient("ana", "ana@example.com", "pw")
	token := api.login("ana@example.com", "pw")

	expectStatus(t, api.get("/api/users/check-username/a%2Fb", bearerHeader(token)), http.StatusUnauthorized)
	expectStatus(t, api.get("/api/users/check-username/a%2Fb", api.signed()), http.StatusNotFound)
}

func TestAdminGates(t *testing.T) {
	api := newTestAPI(t)
	api.registerClient("ana", "ana@example.com", "pw")
	userToken := api.login("ana@example.com", "pw")
	adminToken := api.login(adminEmail, adminPassword)

	resp := api.get("/api/users", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected public list, got %d", resp.StatusCode)
	}
	users := decode[[]map[string]any](t, resp)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	var anaID string
	for _, u := range users {
		if u["email"] == "ana@example.com" {
			anaID = u["id"].(string)
		}
	}

	expectStatus(t, api.get("/api/users/"+anaID, nil), http.StatusUnauthorized)
	expectStatus(t, api.get("/api/users/"+anaID, bearerHeader(userToken)), http.StatusForbidden)
	expectStatus(t, api.get("/api/users/"+anaID, bearerHeader(adminToken)), http.StatusOK)
	expectStatus(t, api.get("/api/users/client/"+anaID, bearerHeader(adminToken)), http.StatusOK)
	expectStatus(t, api.get("/api/users/employee/"+anaID, bearerHeader(adminToken)), http.StatusNotFound)
	expectStatus(t, api.get("/api/alerts", bearerHeader(userToken)), http.StatusForbidden)
	expectStatus(t, api.get("/api/roles", bearerHeader(userToken)), http.StatusForbidden)

	expectStatus(t, api.do(http.MethodPut, "/api/users/"+anaID, map[string]any{"roles": []string{"USER", "EMPLOYEE"}}, bearerHeader(adminToken)), http.StatusOK)
	expectStatus(t, api.do(http.MethodDelete, "/api/users/client/"+anaID, nil, bearerHeader(adminToken)), http.StatusNoContent)
	expectStatus(t, api.get("/api/users/"+anaID, bearerHeader(adminToken)), http.StatusNotFound)
}

func TestUnknownRouteRequiresAuthentication(t *testing.T) {
	api := newTestAPI(t)
	expectStatus(t, api.get("/api/nowhere", nil), http.StatusUnauthorized)

	token := api.login(adminEmail, adminPassword)
	expectStatus(t, api.get("/api/nowhere", bearerHeader(token)), http.StatusNotFound)
}

func TestUpdateClientAndAlerts(t *testing.T) {
	api := newTestAPI(t)
	api.registerClient("ana", "ana@example.com", "pw")
	userToken := api.login("ana@example.com", "pw")
	adminToken := api.login(adminEmail, adminPassword)

	expectStatus(t, api.do(http.MethodPut, "/api/update/client", map[string]any{
		"email": "ana@example.com", "username": "ana",
	}, bearerHeader(userToken)), http.StatusNoContent)

	resp := api.do(http.MethodPut, "/api/update/client", map[string]any{
		"email": "ana@example.com", "username": "ana.maria",
	}, bearerHeader(userToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	alert := decode[alerts.Alert](t, resp)
	if alert.ModificationType != alerts.UpdateClient {
		t.Fatalf("unexpected alert: %+v", alert)
	}

	expectStatus(t, api.do(http.MethodPut, "/api/update/employee", map[string]any{
		"email": "ana@example.com", "username": "x",
	}, bearerHeader(userToken)), http.StatusForbidden)
	expectStatus(t, api.do(http.MethodPut, "/api/update/client", map[string]any{
		"email": adminEmail, "username": "x",
	}, bearerHeader(userToken)), http.StatusForbidden)

	resp = api.get("/api/alerts", bearerHeader(adminToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	list := decode[[]alerts.Alert](t, resp)
	if len(list) != 1 || list[0].ID != alert.ID {
		t.Fatalf("unexpected alerts: %+v", list)
	}

	resp = api.get("/api/alerts/user/"+alert.UserID, bearerHeader(adminToken))
	if got := decode[[]alerts.Alert](t, resp); len(got) != 1 {
		t.Fatalf("expected one user alert, got %d", len(got))
	}
	expectStatus(t, api.get("/api/alerts/user/missing", bearerHeader(adminToken)), http.StatusNotFound)

	resp = api.do(http.MethodPut, "/api/alerts/"+alert.ID+"/read", nil, bearerHeader(adminToken))
	if read := decode[alerts.Alert](t, resp); !read.Read {
		t.Fatal("expected alert marked read")
	}
}

func TestRoleCRUD(t *testing.T) {
	api := newTestAPI(t)
	adminToken := api.login(adminEmail, adminPassword)
	h := bearerHeader(adminToken)

	resp := api.post("/api/roles", map[string]any{"name": "auditor"}, h)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") == "" {
		t.Fatal("expected Location header")
	}
	role := decode[auth.Role](t, resp)
	if role.Name != "AUDITOR" {
		t.Fatalf("unexpected role name: %s", role.Name)
	}

	expectStatus(t, api.post("/api/roles", map[string]any{"name": "AUDITOR"}, h), http.StatusConflict)
	expectStatus(t, api.post("/api/roles", map[string]any{"name": "x y"}, h), http.StatusBadRequest)
	expectStatus(t, api.do(http.MethodPut, "/api/roles/"+memstore.RoleAdminID, map[string]any{"name": "ROOT"}, h), http.StatusConflict)

	resp = api.do(http.MethodPut, "/api/roles/"+role.ID, map[string]any{"name": "REVIEWER"}, h)
	if renamed := decode[auth.Role](t, resp); renamed.Name != "REVIEWER" {
		t.Fatalf("unexpected rename: %+v", renamed)
	}
	expectStatus(t, api.get("/api/roles/"+role.ID, h), http.StatusOK)
	expectStatus(t, api.do(http.MethodDelete, "/api/roles/"+role.ID, nil, h), http.StatusNoContent)
	expectStatus(t, api.get("/api/roles/"+role.ID, h), http.StatusNotFound)

	resp = api.get("/api/roles", h)
	if roles := decode[[]auth.Role](t, resp); len(roles) != 3 {
		t.Fatalf("expected built-in roles only, got %d", len(roles))
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)
	expectStatus(t, api.get("/healthz", nil), http.StatusOK)
	expectStatus(t, api.get("/readyz", nil), http.StatusOK)
	expectStatus(t, api.get("/api/health", nil), http.StatusOK)
	expectStatus(t, api.get("/api/home", nil), http.StatusOK)
	expectStatus(t, api.get("/metrics", nil), http.StatusOK)
}

func TestAlertStreamDeliversNotifications(t *testing.T) {
	api := newTestAPI(t)
	api.registerClient("ana", "ana@example.com", "pw")
	userToken := api.login("ana@example.com", "pw")
	adminToken := api.login(adminEmail, adminPassword)

	expectStatus(t, api.get("/api/alerts/stream", bearerHeader(userToken)), http.StatusForbidden)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/api/alerts/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("unexpected preamble %q: %v", line, err)
	}

	expectStatus(t, api.do(http.MethodPut, "/api/update/client", map[string]any{
		"email": "ana@example.com", "username": "ana.maria",
	}, bearerHeader(userToken)), http.StatusOK)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var n alerts.Notification
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &n); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if n.UserEmail != "ana@example.com" || n.ModificationType != alerts.UpdateClient {
			t.Fatalf("unexpected notification: %+v", n)
		}
		return
	}
}
