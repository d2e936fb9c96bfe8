package auth

import "context"

type principalContextKey struct{}
type serviceContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithServiceCaller marks the request as carrying a verified service signature.
func ContextWithServiceCaller(ctx context.Context) context.Context {
	return context.WithValue(ctx, serviceContextKey{}, true)
}

// IsServiceCaller reports whether a verified service signature was attached.
func IsServiceCaller(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(serviceContextKey{}).(bool)
	return v
}

// AccessFromContext collects what the authorization policy needs to know about a request.
func AccessFromContext(ctx context.Context) Access {
	access := Access{Service: IsServiceCaller(ctx)}
	if p, ok := PrincipalFromContext(ctx); ok {
		access.Principal = &p
	}
	return access
}
