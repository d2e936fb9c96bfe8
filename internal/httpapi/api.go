package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"backoffice.dev/internal/accounts"
	"backoffice.dev/internal/auth"
	"backoffice.dev/internal/obs"
	"backoffice.dev/internal/servicetrust"
	"backoffice.dev/internal/stream"
)

const serviceName = "backoffice-api"

// ReadinessChecker reports whether downstream dependencies are usable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the collaborators the API needs.
type Deps struct {
	Tokens      *auth.TokenManager
	Credentials *auth.CredentialAuthenticator
	Accounts    *accounts.Service
	Roles       *auth.RoleService
	Verifier    *servicetrust.Verifier
	Policy      *auth.Policy
	Ready       ReadinessChecker
	Stream      *stream.Hub
	Version     string
}

// Options tune the outer middleware.
type Options struct {
	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64
	CORSOrigins  []string

	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	tokens      *auth.TokenManager
	credentials *auth.CredentialAuthenticator
	accounts    *accounts.Service
	roles       *auth.RoleService
	verifier    *servicetrust.Verifier
	policy      *auth.Policy
	ready       ReadinessChecker
	stream      *stream.Hub
	version     string
	opts        Options
}

func New(d Deps, opts Options) (*API, error) {
	if d.Tokens == nil || d.Credentials == nil || d.Accounts == nil || d.Roles == nil {
		return nil, errors.New("httpapi: tokens, credentials, accounts and roles are required")
	}
	if d.Verifier == nil {
		return nil, errors.New("httpapi: service signature verifier is required")
	}
	if d.Policy == nil {
		d.Policy = DefaultPolicy()
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &API{
		tokens:      d.Tokens,
		credentials: d.Credentials,
		accounts:    d.Accounts,
		roles:       d.Roles,
		verifier:    d.Verifier,
		policy:      d.Policy,
		ready:       d.Ready,
		stream:      d.Stream,
		version:     d.Version,
		opts:        opts,
	}, nil
}

// Handler builds the router. Every request passes the signature check,
// bearer authentication and the policy before reaching a handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		LoggingJSON,
		obs.Instrument,
		SecurityHeaders,
		CORS(a.opts.CORSOrigins),
		func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.opts.MaxBodyBytes) },
		func(next http.Handler) http.Handler { return RateLimit(next, a.opts.RateBurst, a.opts.RatePerSec, a.opts.TrustedProxies...) },
		a.serviceTrust,
		a.authenticate,
		a.authorize,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/home", a.handleHome)
		r.Get("/health", a.Healthz)

		r.Post("/login", a.handleLogin)
		r.Post("/refresh-token", a.handleRefresh)
		r.Get("/logued", a.handleLogued)
		r.With(a.singleUseSignature).Post("/register/cliente", a.handleRegisterClient)
		r.Post("/register/employee", a.handleRegisterEmployee)

		r.Put("/update/client", a.handleUpdateClient)
		r.Put("/update/employee", a.handleUpdateEmployee)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", a.handleListUsers)
			r.Get("/check-username/{username}", a.handleCheckUsername)
			r.Get("/check-email/{email}", a.handleCheckEmail)
			r.Get("/client/{id}", a.handleGetByRole(auth.RoleUser))
			r.Delete("/client/{id}", a.handleDeleteByRole(auth.RoleUser))
			r.Get("/employee/{id}", a.handleGetByRole(auth.RoleEmployee))
			r.Delete("/employee/{id}", a.handleDeleteByRole(auth.RoleEmployee))
			r.Get("/{id}", a.handleGetByRole(""))
			r.Put("/{id}", a.handleAdminUpdateUser)
			r.Delete("/{id}", a.handleDeleteByRole(""))
		})

		r.Route("/roles", func(r chi.Router) {
			r.Get("/", a.handleListRoles)
			r.Post("/", a.handleCreateRole)
			r.Get("/{id}", a.handleGetRole)
			r.Put("/{id}", a.handleRenameRole)
			r.Delete("/{id}", a.handleDeleteRole)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", a.handleListAlerts)
			r.Get("/stream", a.handleAlertStream)
			r.Get("/user/{id}", a.handleUserAlerts)
			r.Put("/{id}/read", a.handleMarkAlertRead)
		})
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready.Check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
