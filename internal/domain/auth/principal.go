package auth

import "context"

// Principal is the authenticated caller of a request.
type Principal struct {
	CustomerID string
	IsAdmin    bool
}

// CanAccess reports whether the principal may read or act on a resource
// owned by ownerID.
func (p Principal) CanAccess(ownerID string) bool {
	return p.IsAdmin || (p.CustomerID != "" && p.CustomerID == ownerID)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
