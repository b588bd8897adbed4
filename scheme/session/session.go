// Package session implements the cookie session scheme.
//
// Logins create a server-side session referenced by an opaque cookie. With
// the remember option the scheme also issues a long-lived remember-me token
// that re-authenticates the browser after the session itself is gone.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/internal/platform/id"
	"github.com/louisbranch/gatehouse/scheme"
	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

// Default lifetimes applied when configuration leaves them unset.
const (
	DefaultTTL         = 24 * time.Hour
	DefaultRememberTTL = 30 * 24 * time.Hour
)

var (
	// ErrMissing indicates no session cookie was presented.
	ErrMissing = apperrors.New(apperrors.CodeSessionMissing, "no session cookie")
	// ErrInvalid indicates the session is unknown or revoked.
	ErrInvalid = apperrors.New(apperrors.CodeSessionInvalid, "session is not valid")
	// ErrExpired indicates the session lifetime has passed.
	ErrExpired = apperrors.New(apperrors.CodeSessionExpired, "session has expired")
)

// Session is a server-side login session referenced by an opaque cookie.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Store persists sessions.
type Store interface {
	PutSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	// RevokeSession marks a session revoked. Revoking an unknown session
	// returns serializer.ErrNotFound.
	RevokeSession(ctx context.Context, id string, revokedAt time.Time) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}

// Config controls cookie names and lifetimes for the scheme.
type Config struct {
	CookieName         string        `env:"GATEHOUSE_SESSION_COOKIE"  envDefault:"gatehouse_session"`
	RememberCookieName string        `env:"GATEHOUSE_REMEMBER_COOKIE" envDefault:"gatehouse_remember"`
	TTL                time.Duration `env:"GATEHOUSE_SESSION_TTL"     envDefault:"24h"`
	RememberTTL        time.Duration `env:"GATEHOUSE_REMEMBER_TTL"    envDefault:"720h"`
}

// LoadConfigFromEnv loads session configuration and applies defensive defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = "gatehouse_session"
	}
	if c.RememberCookieName == "" {
		c.RememberCookieName = "gatehouse_remember"
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.RememberTTL <= 0 {
		c.RememberTTL = DefaultRememberTTL
	}
	return c
}

// Scheme authenticates browsers with cookie-referenced server sessions.
type Scheme struct {
	serializer  serializer.Serializer
	store       Store
	tokens      serializer.TokenStore
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// New builds a session scheme over the serializer and session store.
// Remember-me tokens are enabled when the serializer also implements
// serializer.TokenStore.
func New(ser serializer.Serializer, store Store, cfg Config) *Scheme {
	s := &Scheme{
		serializer:  ser,
		store:       store,
		config:      cfg.withDefaults(),
		clock:       time.Now,
		idGenerator: id.NewID,
	}
	if tokens, ok := ser.(serializer.TokenStore); ok {
		s.tokens = tokens
	}
	return s
}

var (
	_ scheme.Scheme         = (*Scheme)(nil)
	_ scheme.Attempter      = (*Scheme)(nil)
	_ scheme.SessionManager = (*Scheme)(nil)
	_ scheme.Renewer        = (*Scheme)(nil)
)

// Attempt resolves uid via the serializer, validates the password, and logs
// the user in. Unknown uids fail exactly like wrong passwords.
func (s *Scheme) Attempt(ctx context.Context, w http.ResponseWriter, r *http.Request, uid string, password string, opts ...scheme.Option) (user.User, error) {
	u, err := s.serializer.FindByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return user.User{}, user.ErrInvalidCredentials
		}
		return user.User{}, fmt.Errorf("find user: %w", err)
	}
	if err := s.serializer.ValidateCredentials(ctx, u, password); err != nil {
		return user.User{}, err
	}
	if err := s.Login(ctx, w, r, u, opts...); err != nil {
		return user.User{}, err
	}
	return u, nil
}

// Login creates a session for the user and sets the session cookie. The
// remember option additionally issues a remember-me token in its own cookie.
func (s *Scheme) Login(ctx context.Context, w http.ResponseWriter, r *http.Request, u user.User, opts ...scheme.Option) error {
	options := scheme.ApplyOptions(opts)

	sessionID, err := s.idGenerator()
	if err != nil {
		return fmt.Errorf("generate session id: %w", err)
	}

	ttl := s.config.TTL
	if options.TTL > 0 {
		ttl = options.TTL
	}
	now := s.clock().UTC()
	sess := Session{
		ID:        sessionID,
		UserID:    u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	writeCookie(w, r, s.config.CookieName, sess.ID, 0)

	if options.Remember {
		if err := s.issueRemember(ctx, w, r, u, now); err != nil {
			return err
		}
	}
	return nil
}

// LoginViaID logs in the user with the given ID without a credential check.
func (s *Scheme) LoginViaID(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string, opts ...scheme.Option) (user.User, error) {
	u, err := s.serializer.FindByID(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	if err := s.Login(ctx, w, r, u, opts...); err != nil {
		return user.User{}, err
	}
	return u, nil
}

// Check resolves the session cookie to a user. When the session is missing,
// revoked, or expired, a valid remember-me cookie still authenticates the
// request; use CheckRenew to also re-issue the session.
func (s *Scheme) Check(ctx context.Context, r *http.Request) (user.User, error) {
	u, _, err := s.check(ctx, r)
	return u, err
}

// CheckRenew behaves like Check and re-issues a fresh session when the
// request authenticated through the remember-me token.
func (s *Scheme) CheckRenew(ctx context.Context, w http.ResponseWriter, r *http.Request) (user.User, error) {
	u, remembered, err := s.check(ctx, r)
	if err != nil {
		return user.User{}, err
	}
	if remembered {
		if err := s.Login(ctx, w, r, u); err != nil {
			return user.User{}, err
		}
	}
	return u, nil
}

func (s *Scheme) check(ctx context.Context, r *http.Request) (user.User, bool, error) {
	sessionID, ok := readCookie(r, s.config.CookieName)
	if !ok {
		return s.checkRemember(ctx, r, ErrMissing)
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return s.checkRemember(ctx, r, ErrInvalid)
		}
		return user.User{}, false, fmt.Errorf("get session: %w", err)
	}

	now := s.clock().UTC()
	if sess.RevokedAt != nil {
		return s.checkRemember(ctx, r, ErrInvalid)
	}
	if !sess.ExpiresAt.After(now) {
		return s.checkRemember(ctx, r, ErrExpired)
	}

	u, err := s.serializer.FindByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return user.User{}, false, ErrInvalid
		}
		return user.User{}, false, fmt.Errorf("find session user: %w", err)
	}
	return u, false, nil
}

// checkRemember authenticates through the remember-me cookie. The cause is
// returned unchanged when the fallback cannot help, so callers see why the
// primary session failed.
func (s *Scheme) checkRemember(ctx context.Context, r *http.Request, cause *apperrors.Error) (user.User, bool, error) {
	if s.tokens == nil {
		return user.User{}, false, cause
	}
	secret, ok := readCookie(r, s.config.RememberCookieName)
	if !ok {
		return user.User{}, false, cause
	}

	tok, err := s.tokens.FindToken(ctx, serializer.HashToken(secret), serializer.KindRemember)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return user.User{}, false, cause
		}
		return user.User{}, false, fmt.Errorf("find remember token: %w", err)
	}
	if tok.Revoked() || tok.Expired(s.clock().UTC()) {
		return user.User{}, false, cause
	}

	u, err := s.serializer.FindByID(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return user.User{}, false, cause
		}
		return user.User{}, false, fmt.Errorf("find remember user: %w", err)
	}
	return u, true, nil
}

// Logout revokes the presented session and remember-me token and clears
// both cookies. Logging out an unauthenticated request is a no-op.
func (s *Scheme) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	now := s.clock().UTC()

	if sessionID, ok := readCookie(r, s.config.CookieName); ok {
		if err := s.store.RevokeSession(ctx, sessionID, now); err != nil && !errors.Is(err, serializer.ErrNotFound) {
			return fmt.Errorf("revoke session: %w", err)
		}
	}

	if s.tokens != nil {
		if secret, ok := readCookie(r, s.config.RememberCookieName); ok {
			hash := serializer.HashToken(secret)
			tok, err := s.tokens.FindToken(ctx, hash, serializer.KindRemember)
			switch {
			case err == nil:
				if err := s.tokens.RevokeTokens(ctx, tok.UserID, serializer.KindRemember, []string{hash}, false, now); err != nil {
					return fmt.Errorf("revoke remember token: %w", err)
				}
			case !errors.Is(err, serializer.ErrNotFound):
				return fmt.Errorf("find remember token: %w", err)
			}
		}
	}

	clearCookie(w, r, s.config.CookieName)
	clearCookie(w, r, s.config.RememberCookieName)
	return nil
}

func (s *Scheme) issueRemember(ctx context.Context, w http.ResponseWriter, r *http.Request, u user.User, now time.Time) error {
	if s.tokens == nil {
		return apperrors.WithMetadata(apperrors.CodeSchemeUnsupported, "serializer does not persist tokens", map[string]string{
			"Scheme":    "session",
			"Operation": "remember",
		})
	}

	secret, err := newRememberSecret()
	if err != nil {
		return err
	}
	tok := serializer.Token{
		Hash:      serializer.HashToken(secret),
		UserID:    u.ID,
		Kind:      serializer.KindRemember,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.RememberTTL),
	}
	if err := s.tokens.SaveToken(ctx, tok); err != nil {
		return fmt.Errorf("save remember token: %w", err)
	}
	writeCookie(w, r, s.config.RememberCookieName, secret, int(s.config.RememberTTL/time.Second))
	return nil
}

func newRememberSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
