package auth

import "context"

type credentialsKey struct{}

type credentials struct {
	principal Principal
	token     string
}

// WithPrincipal returns a context carrying the authorized principal together
// with the bearer token it was decoded from.
func WithPrincipal(ctx context.Context, p Principal, token string) context.Context {
	return context.WithValue(ctx, credentialsKey{}, credentials{principal: p, token: token})
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	c, ok := credentialsFrom(ctx)
	return c.principal, ok
}

// TokenFrom returns the raw bearer token stored by WithPrincipal.
func TokenFrom(ctx context.Context) (string, bool) {
	c, ok := credentialsFrom(ctx)
	if !ok || c.token == "" {
		return "", false
	}
	return c.token, true
}

func credentialsFrom(ctx context.Context) (credentials, bool) {
	if ctx == nil {
		return credentials{}, false
	}
	c, ok := ctx.Value(credentialsKey{}).(credentials)
	return c, ok
}
