package shared

import "context"

// Principal is the authenticated caller as asserted by the external token issuer.
type Principal struct {
	Subject string
	Name    string
	Roles   []string
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

// ActorFromContext returns the principal subject or "system".
func ActorFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil && p.Subject != "" {
		return p.Subject
	}
	return "system"
}
