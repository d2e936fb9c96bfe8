package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"backoffice.dev/internal/audit"
	"backoffice.dev/internal/auth"
	"backoffice.dev/internal/obs"
	"backoffice.dev/internal/servicetrust"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// serviceTrust marks requests carrying a valid service signature. Invalid
// signatures are recorded and the request continues unmarked; the policy
// decides whether that matters.
func (a *API) serviceTrust(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(servicetrust.HeaderName)
		if header == "" || a.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.verifier.Verify(r.Context(), header); err != nil {
			reason := servicetrust.Reason(err)
			obs.SignatureRejections.WithLabelValues(reason).Inc()
			_ = audit.LogEvent(r.Context(), "servicetrust.rejected", map[string]any{
				"reason": reason,
				"path":   r.URL.Path,
			})
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithServiceCaller(r.Context())))
	})
}

// singleUseSignature claims the request's signature with the replay guard.
// Only state-changing signed routes use it; the availability checks the edge
// function sends first carry the same header within one second.
func (a *API) singleUseSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.verifier.Consume(r.Context(), r.Header.Get(servicetrust.HeaderName)); err != nil {
			reason := servicetrust.Reason(err)
			obs.SignatureRejections.WithLabelValues(reason).Inc()
			_ = audit.LogEvent(r.Context(), "servicetrust.rejected", map[string]any{
				"reason": reason,
				"path":   r.URL.Path,
			})
			if reason == servicetrust.ReasonReplayUnavailable {
				writeError(w, r, http.StatusServiceUnavailable, "signature check unavailable")
				return
			}
			writeError(w, r, http.StatusUnauthorized, "invalid service signature")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves a bearer token to the subject's current principal.
// Missing or invalid tokens leave the request anonymous.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r.Header.Get(authHeader))
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		subject, err := a.tokens.Subject(token)
		if err != nil {
			obs.AuthFailures.WithLabelValues("invalid_token").Inc()
			next.ServeHTTP(w, r)
			return
		}
		principal, err := a.credentials.Resolve(r.Context(), subject)
		if err != nil {
			if errors.Is(err, auth.ErrUnavailable) {
				handleServiceError(w, r, err)
				return
			}
			obs.AuthFailures.WithLabelValues("unknown_subject").Inc()
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// authorize applies the policy to the path chi routes on, so percent-encoded
// separators cannot select a different rule than the handler.
func (a *API) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		path := r.URL.Path
		if r.URL.RawPath != "" {
			path = r.URL.RawPath
		}
		decision, rule := a.policy.Decide(r.Method, path, auth.AccessFromContext(r.Context()))
		switch decision {
		case auth.Allow:
			next.ServeHTTP(w, r)
		case auth.Unauthenticated:
			obs.PolicyDenials.WithLabelValues(decision.String()).Inc()
			if rule.Requirement.Kind == auth.KindServiceSigned {
				writeError(w, r, http.StatusUnauthorized, "invalid service signature")
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="backoffice"`)
			writeError(w, r, http.StatusUnauthorized, "authentication required")
		default:
			obs.PolicyDenials.WithLabelValues(decision.String()).Inc()
			writeError(w, r, http.StatusForbidden, "forbidden")
		}
	})
}

// extractBearerToken requires the literal "Bearer " prefix.
func extractBearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
