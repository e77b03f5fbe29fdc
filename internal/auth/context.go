// ABOUTME: Authenticated caller identity carried through request handlers
// ABOUTME: Provides WithPrincipal/FromContext for propagating it via context

package auth

import "context"

// Method names how a caller authenticated.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodBearer Method = "bearer"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string // token subject, or "api-key" for the shared key
	Method  Method
}

type principalKey struct{}

// WithPrincipal returns a new context with p attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached to ctx, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
