package scheme

import "time"

// Options carries per-call settings for scheme operations. Each scheme
// reads the options it understands and ignores the rest.
type Options struct {
	// Remember asks the session scheme to issue a long-lived remember-me
	// token alongside the session.
	Remember bool
	// RefreshToken asks the jwt scheme to issue a refresh token alongside
	// the access token.
	RefreshToken bool
	// Name labels an issued token for later listing.
	Name string
	// TTL overrides the scheme's configured lifetime for the issued
	// credential. Zero keeps the default.
	TTL time.Duration
	// Claims adds custom payload claims to an issued JWT.
	Claims map[string]any
}

// Option mutates Options.
type Option func(*Options)

// WithRemember issues a remember-me token alongside the session.
func WithRemember() Option {
	return func(o *Options) { o.Remember = true }
}

// WithRefreshToken issues a refresh token alongside the access token.
func WithRefreshToken() Option {
	return func(o *Options) { o.RefreshToken = true }
}

// WithName labels the issued token.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithTTL overrides the issued credential's lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = ttl }
}

// WithClaims adds custom payload claims to an issued JWT.
func WithClaims(claims map[string]any) Option {
	return func(o *Options) { o.Claims = claims }
}

// ApplyOptions folds opts over a zero Options value.
func ApplyOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
