package auth

import (
	"context"
	"net/http"

	"github.com/louisbranch/gatehouse/user"
)

// authContextKey is the context key for the request's auth handle.
type authContextKey struct{}

// WithAuth stores an auth handle in context.
func WithAuth(ctx context.Context, a *Auth) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, authContextKey{}, a)
}

// FromContext returns the auth handle stored in context.
func FromContext(ctx context.Context) (*Auth, bool) {
	if ctx == nil {
		return nil, false
	}
	a, ok := ctx.Value(authContextKey{}).(*Auth)
	if !ok || a == nil {
		return nil, false
	}
	return a, true
}

// FromRequest returns the auth handle stored in the request context.
func FromRequest(r *http.Request) (*Auth, bool) {
	if r == nil {
		return nil, false
	}
	return FromContext(r.Context())
}

// CurrentUser returns the authenticated user for the request context.
func CurrentUser(ctx context.Context) (user.User, bool) {
	a, ok := FromContext(ctx)
	if !ok {
		return user.User{}, false
	}
	return a.User()
}
