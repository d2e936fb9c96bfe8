package auth

import (
	"net/http"
	"testing"
)

func principal(roles ...string) *Principal {
	return &Principal{Email: "p@example.com", Roles: normalizeRoles(roles)}
}

func TestRequirementEvaluate(t *testing.T) {
	cases := []struct {
		name   string
		req    Requirement
		access Access
		want   Decision
	}{
		{"public anonymous", Public(), Access{}, Allow},
		{"authenticated anonymous", Authenticated(), Access{}, Unauthenticated},
		{"authenticated any principal", Authenticated(), Access{Principal: principal()}, Allow},
		{"any of match", AnyOf(RoleUser, RoleAdmin), Access{Principal: principal("admin")}, Allow},
		{"any of miss", AnyOf(RoleUser, RoleAdmin), Access{Principal: principal(RoleEmployee)}, Forbidden},
		{"any of anonymous", AnyOf(RoleUser), Access{}, Unauthenticated},
		{"exactly match", Exactly(RoleAdmin), Access{Principal: principal(RoleUser, RoleAdmin)}, Allow},
		{"exactly miss", Exactly(RoleAdmin), Access{Principal: principal(RoleUser)}, Forbidden},
		{"service signed", ServiceSigned(), Access{Service: true}, Allow},
		{"service unsigned", ServiceSigned(), Access{Principal: principal(RoleAdmin)}, Unauthenticated},
		{"unknown kind", Requirement{Kind: 99}, Access{Principal: principal(RoleAdmin)}, Forbidden},
	}
	for _, tc := range cases {
		if got := tc.req.Evaluate(tc.access); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestPolicyFirstMatchWins(t *testing.T) {
	p := MustPolicy(
		Rule{Method: http.MethodGet, Pattern: "/api/users", Requirement: Public()},
		Rule{Pattern: "/api/users/check-email/{email}", Requirement: ServiceSigned()},
		Rule{Pattern: "/api/users/{id}", Requirement: Exactly(RoleAdmin)},
		Rule{Pattern: "/api/users/**", Requirement: Public()},
		Rule{Pattern: "/api/alerts/**", Requirement: Exactly(RoleAdmin)},
	)
	cases := []struct {
		method, path string
		wantPattern  string
	}{
		{http.MethodGet, "/api/users", "/api/users"},
		{http.MethodPost, "/api/users", "/api/users/**"},
		{http.MethodGet, "/api/users/check-email/a@b.c", "/api/users/check-email/{email}"},
		{http.MethodGet, "/api/users/42", "/api/users/{id}"},
		{http.MethodGet, "/api/users/42/", "/api/users/{id}"},
		{http.MethodDelete, "/api/users/client/42", "/api/users/**"},
		{http.MethodGet, "/api/alerts", "/api/alerts/**"},
		{http.MethodPut, "/api/alerts/7/read", "/api/alerts/**"},
		{http.MethodGet, "/api/alertsx", "/**"},
		{http.MethodGet, "/api/logued", "/**"},
	}
	for _, tc := range cases {
		if got := p.Match(tc.method, tc.path); got.Pattern != tc.wantPattern {
			t.Fatalf("%s %s matched %q, want %q", tc.method, tc.path, got.Pattern, tc.wantPattern)
		}
	}
}

func TestPolicyDecideIsDeterministic(t *testing.T) {
	p := MustPolicy(
		Rule{Pattern: "/api/update/client", Requirement: AnyOf(RoleUser, RoleAdmin)},
		Rule{Pattern: "/api/update/**", Requirement: Public()},
	)
	access := Access{Principal: principal(RoleEmployee)}
	for range 50 {
		d, rule := p.Decide(http.MethodPut, "/api/update/client", access)
		if d != Forbidden || rule.Pattern != "/api/update/client" {
			t.Fatalf("unexpected decision %s by %q", d, rule.Pattern)
		}
	}
	d, _ := p.Decide(http.MethodPut, "/api/update/client", Access{})
	if d != Unauthenticated {
		t.Fatalf("anonymous should be unauthenticated, got %s", d)
	}
	d, _ = p.Decide(http.MethodHead, "/api/update/other", Access{})
	if d != Allow {
		t.Fatalf("expected later public rule to apply, got %s", d)
	}
}

func TestNewPolicyRejectsMalformedPatterns(t *testing.T) {
	bad := []string{"api/users", "/api/**/x", "/api/us*rs", "/api/{id"}
	for _, pattern := range bad {
		if _, err := NewPolicy(Rule{Pattern: pattern, Requirement: Public()}); err == nil {
			t.Fatalf("expected error for %q", pattern)
		}
	}
}
