package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/scheme"
	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

// Auth is a per-request view of one authenticator. The middleware
// creates a handle and carries it in the request context; Handle builds
// one directly for code outside the middleware path.
//
// Check results are memoized for the life of the handle, so repeated
// CurrentUser lookups cost one scheme check per request. Handles are
// safe for concurrent use.
type Auth struct {
	manager *Manager
	name    string
	w       http.ResponseWriter
	r       *http.Request

	mu       sync.Mutex
	checked  bool
	user     user.User
	checkErr error
}

// Handle builds a request handle bound to the default authenticator.
func (m *Manager) Handle(w http.ResponseWriter, r *http.Request) *Auth {
	return &Auth{manager: m, w: w, r: r}
}

// Authenticator returns a handle for the same request bound to another
// named authenticator. Unknown names surface on the first operation.
func (a *Auth) Authenticator(name string) *Auth {
	return &Auth{manager: a.manager, name: name, w: a.w, r: a.r}
}

// Name reports the resolved authenticator name.
func (a *Auth) Name() string {
	authenticator, err := a.authenticator()
	if err != nil {
		return a.name
	}
	return authenticator.Name
}

// Check resolves the request credentials through the bound scheme. The
// first call runs the scheme; later calls return the memoized result.
// Schemes that renew login state as a check side effect get the chance
// to do so when the handle carries a response writer.
func (a *Auth) Check() (user.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checked {
		return a.user, a.checkErr
	}
	a.checked = true
	a.user, a.checkErr = a.runCheck()
	return a.user, a.checkErr
}

// User returns the authenticated user, running Check on first use.
func (a *Auth) User() (user.User, bool) {
	u, err := a.Check()
	if err != nil || u.ID == "" {
		return user.User{}, false
	}
	return u, true
}

// Attempt validates uid and password through the bound scheme. Stateful
// schemes also establish login state on the response.
func (a *Auth) Attempt(uid string, password string, opts ...scheme.Option) (user.User, error) {
	authenticator, err := a.authenticator()
	if err != nil {
		return user.User{}, err
	}
	attempter, ok := authenticator.Scheme.(scheme.Attempter)
	if !ok {
		return user.User{}, unsupported(authenticator.Name, "Attempt")
	}
	u, err := attempter.Attempt(a.ctx(), a.w, a.r, uid, password, opts...)
	if err != nil {
		return user.User{}, err
	}
	a.cacheUser(u)
	return u, nil
}

// Login establishes login state for the given user.
func (a *Auth) Login(u user.User, opts ...scheme.Option) error {
	authenticator, err := a.authenticator()
	if err != nil {
		return err
	}
	sessions, ok := authenticator.Scheme.(scheme.SessionManager)
	if !ok {
		return unsupported(authenticator.Name, "Login")
	}
	if err := sessions.Login(a.ctx(), a.w, a.r, u, opts...); err != nil {
		return err
	}
	a.cacheUser(u)
	return nil
}

// LoginViaID establishes login state for the user with the given id.
func (a *Auth) LoginViaID(id string, opts ...scheme.Option) (user.User, error) {
	authenticator, err := a.authenticator()
	if err != nil {
		return user.User{}, err
	}
	sessions, ok := authenticator.Scheme.(scheme.SessionManager)
	if !ok {
		return user.User{}, unsupported(authenticator.Name, "LoginViaID")
	}
	u, err := sessions.LoginViaID(a.ctx(), a.w, a.r, id, opts...)
	if err != nil {
		return user.User{}, err
	}
	a.cacheUser(u)
	return u, nil
}

// Logout tears down the request's login state. The next Check runs the
// scheme again, so a revoked session no longer resolves.
func (a *Auth) Logout() error {
	authenticator, err := a.authenticator()
	if err != nil {
		return err
	}
	sessions, ok := authenticator.Scheme.(scheme.SessionManager)
	if !ok {
		return unsupported(authenticator.Name, "Logout")
	}
	if err := sessions.Logout(a.ctx(), a.w, a.r); err != nil {
		return err
	}
	a.forgetUser()
	return nil
}

// Generate mints bearer credentials for the given user.
func (a *Auth) Generate(u user.User, opts ...scheme.Option) (scheme.TokenPair, error) {
	authenticator, err := a.authenticator()
	if err != nil {
		return scheme.TokenPair{}, err
	}
	issuer, ok := authenticator.Scheme.(scheme.TokenIssuer)
	if !ok {
		return scheme.TokenPair{}, unsupported(authenticator.Name, "Generate")
	}
	return issuer.Generate(a.ctx(), u, opts...)
}

// Refresh trades a refresh token for a fresh token pair.
func (a *Auth) Refresh(refreshToken string) (scheme.TokenPair, error) {
	authenticator, err := a.authenticator()
	if err != nil {
		return scheme.TokenPair{}, err
	}
	refresher, ok := authenticator.Scheme.(scheme.TokenRefresher)
	if !ok {
		return scheme.TokenPair{}, unsupported(authenticator.Name, "Refresh")
	}
	return refresher.Refresh(a.ctx(), refreshToken)
}

// ListTokens lists the current user's live tokens for the bound scheme.
func (a *Auth) ListTokens() ([]serializer.Token, error) {
	authenticator, err := a.authenticator()
	if err != nil {
		return nil, err
	}
	tokens, ok := authenticator.Scheme.(scheme.TokenManager)
	if !ok {
		return nil, unsupported(authenticator.Name, "ListTokens")
	}
	u, err := a.Check()
	if err != nil {
		return nil, err
	}
	return tokens.ListTokens(a.ctx(), u)
}

// RevokeTokens revokes the listed tokens for the current user. With
// inverse set it revokes every token except the listed ones.
func (a *Auth) RevokeTokens(tokens []string, inverse bool) error {
	authenticator, err := a.authenticator()
	if err != nil {
		return err
	}
	manager, ok := authenticator.Scheme.(scheme.TokenManager)
	if !ok {
		return unsupported(authenticator.Name, "RevokeTokens")
	}
	u, err := a.Check()
	if err != nil {
		return err
	}
	return manager.RevokeTokens(a.ctx(), u, tokens, inverse)
}

func (a *Auth) runCheck() (user.User, error) {
	authenticator, err := a.authenticator()
	if err != nil {
		return user.User{}, err
	}

	ctx, span := otel.Tracer(tracerName).Start(a.ctx(), "auth.check",
		trace.WithAttributes(attribute.String("gatehouse.authenticator", authenticator.Name)))
	defer span.End()

	var u user.User
	if renewer, ok := authenticator.Scheme.(scheme.Renewer); ok && a.w != nil {
		u, err = renewer.CheckRenew(ctx, a.w, a.r)
	} else {
		u, err = authenticator.Scheme.Check(ctx, a.r)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return user.User{}, err
	}
	return u, nil
}

func (a *Auth) authenticator() (Authenticator, error) {
	if a.manager == nil {
		return Authenticator{}, apperrors.New(apperrors.CodeAuthenticatorUnknown, "handle has no authenticator manager")
	}
	return a.manager.Use(a.name)
}

func (a *Auth) ctx() context.Context {
	if a.r == nil {
		return context.Background()
	}
	return a.r.Context()
}

func (a *Auth) cacheUser(u user.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checked = true
	a.user = u
	a.checkErr = nil
}

func (a *Auth) forgetUser() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checked = false
	a.user = user.User{}
	a.checkErr = nil
}

func unsupported(name string, operation string) error {
	return apperrors.WithMetadata(apperrors.CodeSchemeUnsupported,
		fmt.Sprintf("authenticator %q does not support %s", name, operation),
		map[string]string{"Scheme": name, "Operation": operation})
}
