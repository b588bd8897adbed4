// Package serializer defines the data-store side of an authenticator.
//
// A serializer resolves login identifiers to user records and validates
// their credentials. Schemes that issue durable secrets (API tokens, JWT
// refresh tokens, remember-me tokens) additionally persist them through a
// TokenStore. Driver packages under serializer/ implement both against a
// concrete database.
package serializer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrUserExists indicates the email or username is already taken by another
// user.
var ErrUserExists = errors.New(errors.CodeUserAlreadyExists, "email or username is already in use")

// Serializer fetches and validates user records from a data store.
type Serializer interface {
	// FindByID returns the user with the given ID.
	FindByID(ctx context.Context, id string) (user.User, error)
	// FindByUID returns the user whose email or username matches uid.
	FindByUID(ctx context.Context, uid string) (user.User, error)
	// ValidateCredentials checks the password against the stored credential.
	ValidateCredentials(ctx context.Context, u user.User, password string) error
	// PutUser inserts or updates a user record.
	PutUser(ctx context.Context, u user.User) error
	// ListUsers returns a page of users ordered by ID. The page token is the
	// last ID of the previous page.
	ListUsers(ctx context.Context, pageSize int, pageToken string) (UserPage, error)
}

// UserPage describes a page of user records.
type UserPage struct {
	Users         []user.User
	NextPageToken string
}

// Token kinds partition stored secrets by the scheme that issued them.
const (
	// KindAPI identifies opaque personal access tokens.
	KindAPI = "api"
	// KindJWTRefresh identifies refresh tokens issued by the jwt scheme.
	KindJWTRefresh = "jwt_refresh"
	// KindRemember identifies remember-me tokens issued by the session scheme.
	KindRemember = "remember"
)

// Token is a stored credential secret. Only the SHA-256 hash of the secret
// is persisted; the plaintext is shown once at issue time and never stored.
type Token struct {
	Hash      string
	UserID    string
	Kind      string
	Name      string
	CreatedAt time.Time
	// ExpiresAt is the expiry instant. The zero time means no expiry.
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Expired reports whether the token expiry has passed at now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Revoked reports whether the token has been revoked.
func (t Token) Revoked() bool {
	return t.RevokedAt != nil
}

// HashToken returns the hex SHA-256 digest under which a token secret is
// stored.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// TokenStore persists hashed credential secrets.
type TokenStore interface {
	// SaveToken inserts a token record.
	SaveToken(ctx context.Context, t Token) error
	// FindToken returns the token with the given hash and kind regardless of
	// its expiry or revocation state. Callers decide how stale tokens fail.
	FindToken(ctx context.Context, hash string, kind string) (Token, error)
	// ListTokens returns the non-revoked tokens of one kind for a user,
	// newest first.
	ListTokens(ctx context.Context, userID string, kind string) ([]Token, error)
	// RevokeTokens marks the listed tokens revoked. With inverse set, every
	// token of the kind except the listed ones is revoked instead. Revoking
	// an already revoked token is a no-op.
	RevokeTokens(ctx context.Context, userID string, kind string, hashes []string, inverse bool, revokedAt time.Time) error
	// DeleteExpiredTokens removes tokens whose expiry has passed.
	DeleteExpiredTokens(ctx context.Context, now time.Time) error
}
