// Package scheme defines the credential-transport side of an authenticator.
//
// Every scheme resolves an HTTP request to a user via Check. Schemes
// additionally implement the capability interfaces matching how their
// credentials move: session-backed schemes manage login state, bearer
// schemes mint and revoke tokens. The auth package asserts these
// capabilities at call time and rejects unsupported operations.
package scheme

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

// Scheme authenticates an HTTP request.
type Scheme interface {
	// Check resolves the request credentials to a user.
	Check(ctx context.Context, r *http.Request) (user.User, error)
}

// Attempter is implemented by schemes that resolve uid/password credentials
// to a user. Stateful schemes also establish login state on the response;
// stateless schemes validate only.
type Attempter interface {
	Attempt(ctx context.Context, w http.ResponseWriter, r *http.Request, uid string, password string, opts ...Option) (user.User, error)
}

// SessionManager is implemented by schemes that keep server-side login state.
type SessionManager interface {
	Login(ctx context.Context, w http.ResponseWriter, r *http.Request, u user.User, opts ...Option) error
	LoginViaID(ctx context.Context, w http.ResponseWriter, r *http.Request, id string, opts ...Option) (user.User, error)
	Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// TokenPair carries bearer credentials issued by a scheme.
type TokenPair struct {
	Type         string    `json:"type"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenIssuer is implemented by schemes that mint bearer credentials.
type TokenIssuer interface {
	Generate(ctx context.Context, u user.User, opts ...Option) (TokenPair, error)
}

// TokenRefresher is implemented by schemes that rotate bearer credentials.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// TokenManager is implemented by schemes whose issued credentials can be
// listed and revoked. RevokeTokens accepts plaintext tokens or their stored
// hashes; with inverse set it revokes every token except the listed ones.
type TokenManager interface {
	ListTokens(ctx context.Context, u user.User) ([]serializer.Token, error)
	RevokeTokens(ctx context.Context, u user.User, tokens []string, inverse bool) error
}

// Renewer is implemented by schemes that can refresh login state as a side
// effect of a check, such as re-issuing a session from a remember-me token.
type Renewer interface {
	CheckRenew(ctx context.Context, w http.ResponseWriter, r *http.Request) (user.User, error)
}

// Challenger is implemented by schemes that can answer an unauthenticated
// request with an authentication challenge.
type Challenger interface {
	Challenge(w http.ResponseWriter)
}

// BearerToken extracts the credential from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
