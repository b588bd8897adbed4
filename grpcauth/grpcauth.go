// Package grpcauth guards gRPC services with the bearer-token schemes.
//
// The interceptors read the authorization metadata header, verify the
// credential through a BearerVerifier, and attach the resolved user to
// the handler context:
//
//	server := grpc.NewServer(
//		grpc.UnaryInterceptor(grpcauth.UnaryServerInterceptor(tokens)),
//	)
//
// The jwt and token schemes both satisfy BearerVerifier. Failures are
// converted to gRPC statuses with structured details, localized from the
// caller's accept-language metadata.
package grpcauth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/user"
)

// AuthorizationHeader is the incoming metadata key carrying the bearer
// credential.
const AuthorizationHeader = "authorization"

// LocaleHeader is the incoming metadata key carrying the caller locale
// used for translated error messages.
const LocaleHeader = "accept-language"

// healthServicePrefix matches the standard grpc.health.v1 methods, which
// stay public so probes work without credentials.
const healthServicePrefix = "/grpc.health.v1.Health/"

// ErrMissingToken indicates a request without a bearer credential in its
// metadata.
var ErrMissingToken = apperrors.New(apperrors.CodeTokenMissing, "no bearer token in request metadata")

// BearerVerifier verifies a raw bearer credential.
type BearerVerifier interface {
	VerifyBearer(ctx context.Context, token string) (user.User, error)
}

// Option adjusts how the interceptors guard methods.
type Option func(*options)

type options struct {
	publicMethods map[string]bool
}

// WithPublicMethods exempts full method names (such as
// "/gatehouse.v1.UserService/Login") from authentication.
func WithPublicMethods(methods ...string) Option {
	return func(o *options) {
		for _, method := range methods {
			method = strings.TrimSpace(method)
			if method == "" {
				continue
			}
			o.publicMethods[method] = true
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{publicMethods: make(map[string]bool)}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o options) isPublic(fullMethod string) bool {
	if o.publicMethods[fullMethod] {
		return true
	}
	return strings.HasPrefix(fullMethod, healthServicePrefix)
}

// userContextKey is the context key for the authenticated user.
type userContextKey struct{}

// WithUser stores the authenticated user in context.
func WithUser(ctx context.Context, u user.User) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the user attached by the interceptors.
func UserFromContext(ctx context.Context) (user.User, bool) {
	if ctx == nil {
		return user.User{}, false
	}
	u, ok := ctx.Value(userContextKey{}).(user.User)
	if !ok || u.ID == "" {
		return user.User{}, false
	}
	return u, true
}

// UnaryServerInterceptor authenticates unary calls through the verifier.
func UnaryServerInterceptor(verifier BearerVerifier, opts ...Option) grpc.UnaryServerInterceptor {
	o := buildOptions(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if o.isPublic(info.FullMethod) {
			return handler(ctx, req)
		}
		if verifier == nil {
			return nil, status.Error(codes.Internal, "bearer verifier is not configured")
		}
		u, err := authenticate(ctx, verifier)
		if err != nil {
			return nil, apperrors.HandleError(err, localeFromContext(ctx))
		}
		return handler(WithUser(ctx, u), req)
	}
}

// StreamServerInterceptor authenticates streaming calls through the
// verifier.
func StreamServerInterceptor(verifier BearerVerifier, opts ...Option) grpc.StreamServerInterceptor {
	o := buildOptions(opts)
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if o.isPublic(info.FullMethod) {
			return handler(srv, stream)
		}
		if verifier == nil {
			return status.Error(codes.Internal, "bearer verifier is not configured")
		}
		ctx := stream.Context()
		u, err := authenticate(ctx, verifier)
		if err != nil {
			return apperrors.HandleError(err, localeFromContext(ctx))
		}
		return handler(srv, &wrappedServerStream{ServerStream: stream, ctx: WithUser(ctx, u)})
	}
}

// wrappedServerStream overrides the context for a gRPC stream.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the authenticated stream context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

func authenticate(ctx context.Context, verifier BearerVerifier) (user.User, error) {
	token, ok := bearerFromContext(ctx)
	if !ok {
		return user.User{}, ErrMissingToken
	}
	return verifier.VerifyBearer(ctx, token)
}

func bearerFromContext(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	value := firstMetadataValue(md, AuthorizationHeader)
	if !strings.HasPrefix(value, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func localeFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	return firstMetadataValue(md, LocaleHeader)
}

// firstMetadataValue returns the first printable ASCII metadata value for
// a key, matching keys case-insensitively.
func firstMetadataValue(md metadata.MD, key string) string {
	if len(md) == 0 {
		return ""
	}
	for mdKey, values := range md {
		if !strings.EqualFold(mdKey, key) {
			continue
		}
		for _, value := range values {
			if isPrintableASCII(value) {
				return value
			}
		}
	}
	return ""
}

func isPrintableASCII(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 0x20 || value[i] > 0x7e {
			return false
		}
	}
	return true
}
