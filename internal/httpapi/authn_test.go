package httpapi

import (
	"net/http"
	"testing"

	"backoffice.dev/internal/auth"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"Bearer   padded  ", "padded", true},
		{"Bearer ", "", false},
		{"bearer abc", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		token, ok := extractBearerToken(tc.header)
		if token != tc.token || ok != tc.ok {
			t.Fatalf("extractBearerToken(%q) = %q, %v; want %q, %v", tc.header, token, ok, tc.token, tc.ok)
		}
	}
}

func TestDefaultPolicyDecisions(t *testing.T) {
	policy := DefaultPolicy()
	anonymous := auth.Access{}
	service := auth.Access{Service: true}
	user := auth.Access{Principal: &auth.Principal{UserID: "u1", Roles: []string{auth.RoleUser}}}
	employee := auth.Access{Principal: &auth.Principal{UserID: "u2", Roles: []string{auth.RoleEmployee}}}
	admin := auth.Access{Principal: &auth.Principal{UserID: "u3", Roles: []string{auth.RoleAdmin}}}
	adminAndUser := auth.Access{Principal: &auth.Principal{UserID: "u4", Roles: []string{auth.RoleAdmin, auth.RoleUser}}}

	cases := []struct {
		name   string
		method string
		path   string
		access auth.Access
		want   auth.Decision
	}{
		{"login is public", http.MethodPost, "/api/login", anonymous, auth.Allow},
		{"login GET falls back", http.MethodGet, "/api/login", anonymous, auth.Unauthenticated},
		{"employee registration is public", http.MethodPost, "/api/register/employee", anonymous, auth.Allow},
		{"client registration needs signature", http.MethodPost, "/api/register/cliente", anonymous, auth.Unauthenticated},
		{"client registration with token still unsigned", http.MethodPost, "/api/register/cliente", admin, auth.Unauthenticated},
		{"client registration signed", http.MethodPost, "/api/register/cliente", service, auth.Allow},
		{"check email signed", http.MethodGet, "/api/users/check-email/a@b.c", service, auth.Allow},
		{"check username with bearer only", http.MethodGet, "/api/users/check-username/ana", user, auth.Unauthenticated},
		{"encoded slash stays one segment", http.MethodGet, "/api/users/check-username/a%2Fb", user, auth.Unauthenticated},
		{"user list is public", http.MethodGet, "/api/users", anonymous, auth.Allow},
		{"HEAD maps to GET", http.MethodHead, "/api/users", anonymous, auth.Allow},
		{"user detail anonymous", http.MethodGet, "/api/users/42", anonymous, auth.Unauthenticated},
		{"user detail as user", http.MethodGet, "/api/users/42", user, auth.Forbidden},
		{"user detail as admin", http.MethodGet, "/api/users/42", admin, auth.Allow},
		{"admin with extra roles", http.MethodGet, "/api/users/42", adminAndUser, auth.Allow},
		{"roles root is admin only", http.MethodGet, "/api/roles", user, auth.Forbidden},
		{"alerts are admin only", http.MethodPut, "/api/alerts/a1/read", employee, auth.Forbidden},
		{"update client as user", http.MethodPut, "/api/update/client", user, auth.Allow},
		{"update client as employee", http.MethodPut, "/api/update/client", employee, auth.Forbidden},
		{"update employee as admin", http.MethodPut, "/api/update/employee", admin, auth.Allow},
		{"logued needs a principal", http.MethodGet, "/api/logued", anonymous, auth.Unauthenticated},
		{"logued with a principal", http.MethodGet, "/api/logued", employee, auth.Allow},
		{"probes are public", http.MethodGet, "/readyz", anonymous, auth.Allow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, rule := policy.Decide(tc.method, tc.path, tc.access)
			if got != tc.want {
				t.Fatalf("Decide(%s %s) = %v via %q, want %v", tc.method, tc.path, got, rule.Pattern, tc.want)
			}
		})
	}
}
