package auth

import (
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/internal/platform/httpx"
	"github.com/louisbranch/gatehouse/scheme"
)

// Default paths used by the redirecting middleware options.
const (
	DefaultLoginPath = "/login"
	DefaultGuestPath = "/"
)

// MiddlewareOption adjusts how Authenticate answers failed requests.
type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	loginRedirect  string
	basicChallenge bool
	basicRealm     string
}

// WithLoginRedirect redirects failed browser requests to the login page
// instead of writing a JSON 401. The empty path redirects to /login.
func WithLoginRedirect(path string) MiddlewareOption {
	return func(o *middlewareOptions) {
		path = strings.TrimSpace(path)
		if path == "" {
			path = DefaultLoginPath
		}
		o.loginRedirect = path
	}
}

// WithBasicChallenge answers failed requests with a WWW-Authenticate
// header so HTTP clients prompt for credentials. The empty realm defers
// to the first tried scheme that advertises its own challenge.
func WithBasicChallenge(realm string) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.basicChallenge = true
		o.basicRealm = strings.TrimSpace(realm)
	}
}

// Init resolves the request user best-effort and stores the handle in
// the request context. The request proceeds whether or not a user was
// found; handlers read the outcome through CurrentUser or FromRequest.
func (m *Manager) Init() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle := m.Handle(w, r)
			_, _ = handle.Check()
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), handle)))
		})
	}
}

// Authenticate gates the wrapped handler behind the named
// authenticators, given as a comma-separated list and tried in order.
// The empty list tries the default authenticator. The first success
// stores its handle in the request context; when every authenticator
// fails the middleware answers with a JSON error unless an option
// selects a redirect or a basic challenge.
func (m *Manager) Authenticate(names string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var options middlewareOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	tryNames := splitNames(names)

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := otel.Tracer(tracerName).Start(r.Context(), "auth.authenticate",
				trace.WithAttributes(attribute.StringSlice("gatehouse.authenticators", tryNames)))
			defer span.End()
			r = r.WithContext(ctx)

			var firstErr error
			for _, name := range tryNames {
				handle := m.requestHandle(w, r, name)
				if _, err := handle.Check(); err != nil {
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				next.ServeHTTP(w, r.WithContext(WithAuth(ctx, handle)))
				return
			}
			if firstErr == nil {
				firstErr = apperrors.New(apperrors.CodeCredentialsInvalid, "authentication required")
			}
			span.RecordError(firstErr)
			span.SetStatus(otelcodes.Error, firstErr.Error())
			m.deny(w, r, firstErr, options, tryNames)
		})
	}
}

// Guest bounces authenticated users away from guest-only pages such as
// the login form. Anonymous requests pass through. The empty redirect
// target falls back to /.
func (m *Manager) Guest(redirectTo string) func(http.Handler) http.Handler {
	redirectTo = strings.TrimSpace(redirectTo)
	if redirectTo == "" {
		redirectTo = DefaultGuestPath
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle := m.requestHandle(w, r, "")
			if _, ok := handle.User(); ok {
				httpx.WriteRedirect(w, r, redirectTo)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestHandle reuses the handle Init stored in the request context
// when it is bound to the same authenticator, keeping its memoized
// check result. Otherwise it builds a fresh handle.
func (m *Manager) requestHandle(w http.ResponseWriter, r *http.Request, name string) *Auth {
	if existing, ok := FromRequest(r); ok && existing.manager == m && existing.name == name {
		return existing
	}
	return &Auth{manager: m, name: name, w: w, r: r}
}

func (m *Manager) deny(w http.ResponseWriter, r *http.Request, err error, options middlewareOptions, tried []string) {
	if options.loginRedirect != "" {
		httpx.WriteRedirect(w, r, options.loginRedirect)
		return
	}
	if options.basicChallenge {
		if options.basicRealm != "" {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", options.basicRealm))
		} else if challenger := m.challenger(tried); challenger != nil {
			challenger.Challenge(w)
		} else {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted", charset="UTF-8"`)
		}
	}
	payload := map[string]any{"error": err.Error()}
	if code := apperrors.GetCode(err); code != apperrors.CodeUnknown {
		payload["code"] = string(code)
	}
	_ = httpx.WriteJSON(w, apperrors.HTTPStatus(err), payload)
}

func (m *Manager) challenger(names []string) scheme.Challenger {
	for _, name := range names {
		authenticator, err := m.Use(name)
		if err != nil {
			continue
		}
		if challenger, ok := authenticator.Scheme.(scheme.Challenger); ok {
			return challenger
		}
	}
	return nil
}

func splitNames(names string) []string {
	parts := strings.Split(names, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		out = append(out, "")
	}
	return out
}
