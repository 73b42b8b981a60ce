package auth

import "context"

type identityContextKey struct{}

// ContextWithIdentity attaches the verified identity to the context.
func ContextWithIdentity(ctx context.Context, identity VerifiedIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &identity)
}

// IdentityFromContext extracts the verified identity from the context.
func IdentityFromContext(ctx context.Context) (VerifiedIdentity, bool) {
	if ctx == nil {
		return VerifiedIdentity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*VerifiedIdentity)
	if !ok || v == nil {
		return VerifiedIdentity{}, false
	}
	return *v, true
}

// SubjectFromContext returns the verified subject id, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.Subject == "" {
		return "", false
	}
	return id.Subject, true
}
