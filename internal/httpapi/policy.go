package httpapi

import (
	"net/http"

	"backoffice.dev/internal/auth"
)

// DefaultPolicy is the route table of the API. Order matters: the first
// matching rule wins and anything unmatched needs an authenticated principal.
//
// POST /api/register/employee is public while /api/register/cliente requires
// a service signature; the asymmetry is deliberate and kept as is.
func DefaultPolicy() *auth.Policy {
	return auth.MustPolicy(
		auth.Rule{Pattern: "/healthz", Requirement: auth.Public()},
		auth.Rule{Pattern: "/readyz", Requirement: auth.Public()},
		auth.Rule{Pattern: "/metrics", Requirement: auth.Public()},

		auth.Rule{Method: http.MethodPost, Pattern: "/api/login", Requirement: auth.Public()},
		auth.Rule{Method: http.MethodPost, Pattern: "/api/register/cliente", Requirement: auth.ServiceSigned()},
		auth.Rule{Method: http.MethodPost, Pattern: "/api/register/employee", Requirement: auth.Public()},
		auth.Rule{Pattern: "/api/home", Requirement: auth.Public()},
		auth.Rule{Pattern: "/api/health", Requirement: auth.Public()},

		auth.Rule{Pattern: "/api/users/check-username/{username}", Requirement: auth.ServiceSigned()},
		auth.Rule{Pattern: "/api/users/check-email/{email}", Requirement: auth.ServiceSigned()},

		auth.Rule{Pattern: "/api/update/client", Requirement: auth.AnyOf(auth.RoleUser, auth.RoleAdmin)},
		auth.Rule{Pattern: "/api/update/employee", Requirement: auth.AnyOf(auth.RoleEmployee, auth.RoleAdmin)},

		auth.Rule{Method: http.MethodGet, Pattern: "/api/users", Requirement: auth.Public()},
		auth.Rule{Pattern: "/api/users/{id}", Requirement: auth.Exactly(auth.RoleAdmin)},
		auth.Rule{Pattern: "/api/users/client/**", Requirement: auth.Exactly(auth.RoleAdmin)},
		auth.Rule{Pattern: "/api/users/employee/**", Requirement: auth.Exactly(auth.RoleAdmin)},
		auth.Rule{Pattern: "/api/roles/**", Requirement: auth.Exactly(auth.RoleAdmin)},
		auth.Rule{Pattern: "/api/alerts/**", Requirement: auth.Exactly(auth.RoleAdmin)},
	)
}
