// Package token implements the opaque personal access token scheme.
//
// Tokens are random secrets shown to the user once and stored hashed. The
// gh_ prefix plus fixed length lets malformed values be rejected before any
// storage lookup.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/scheme"
	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

// Prefix marks plaintext personal access tokens.
const Prefix = "gh_"

// secretBytes yields 40 hex characters after encoding.
const secretBytes = 20

var (
	// ErrMissing indicates no bearer token was presented.
	ErrMissing = apperrors.New(apperrors.CodeTokenMissing, "no bearer token")
	// ErrInvalid indicates the token is malformed or unknown.
	ErrInvalid = apperrors.New(apperrors.CodeTokenInvalid, "token is not valid")
	// ErrRevoked indicates the token was revoked.
	ErrRevoked = apperrors.New(apperrors.CodeTokenRevoked, "token has been revoked")
	// ErrExpired indicates the token lifetime has passed.
	ErrExpired = apperrors.New(apperrors.CodeTokenExpired, "token has expired")
)

// Scheme authenticates requests from Authorization: Bearer personal access
// tokens.
type Scheme struct {
	serializer serializer.Serializer
	tokens     serializer.TokenStore
	clock      func() time.Time
}

// New builds a personal access token scheme. The serializer must implement
// serializer.TokenStore; tokens cannot work without persistence.
func New(ser serializer.Serializer) (*Scheme, error) {
	tokens, ok := ser.(serializer.TokenStore)
	if !ok {
		return nil, errors.New("serializer does not persist tokens")
	}
	return &Scheme{serializer: ser, tokens: tokens, clock: time.Now}, nil
}

var (
	_ scheme.Scheme       = (*Scheme)(nil)
	_ scheme.Attempter    = (*Scheme)(nil)
	_ scheme.TokenIssuer  = (*Scheme)(nil)
	_ scheme.TokenManager = (*Scheme)(nil)
)

// Generate issues a new personal access token for the user. The plaintext
// is returned once; only its hash is stored. Tokens default to no expiry.
func (s *Scheme) Generate(ctx context.Context, u user.User, opts ...scheme.Option) (scheme.TokenPair, error) {
	options := scheme.ApplyOptions(opts)

	secret, err := newSecret()
	if err != nil {
		return scheme.TokenPair{}, err
	}

	now := s.clock().UTC()
	tok := serializer.Token{
		Hash:      serializer.HashToken(secret),
		UserID:    u.ID,
		Kind:      serializer.KindAPI,
		Name:      options.Name,
		CreatedAt: now,
	}
	if options.TTL > 0 {
		tok.ExpiresAt = now.Add(options.TTL)
	}
	if err := s.tokens.SaveToken(ctx, tok); err != nil {
		return scheme.TokenPair{}, fmt.Errorf("save token: %w", err)
	}
	return scheme.TokenPair{Type: "bearer", Token: secret, ExpiresAt: tok.ExpiresAt}, nil
}

// Attempt resolves uid via the serializer and validates the password.
// Tokens are issued separately through Generate.
func (s *Scheme) Attempt(ctx context.Context, _ http.ResponseWriter, _ *http.Request, uid string, password string, _ ...scheme.Option) (user.User, error) {
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
	return u, nil
}

// Check resolves the bearer token on the request to its owner.
func (s *Scheme) Check(ctx context.Context, r *http.Request) (user.User, error) {
	secret, ok := scheme.BearerToken(r)
	if !ok {
		return user.User{}, ErrMissing
	}
	return s.VerifyBearer(ctx, secret)
}

// VerifyBearer verifies a raw access token outside an HTTP request, for
// transports like gRPC metadata.
func (s *Scheme) VerifyBearer(ctx context.Context, secret string) (user.User, error) {
	if !ValidFormat(secret) {
		return user.User{}, ErrInvalid
	}

	tok, err := s.tokens.FindToken(ctx, serializer.HashToken(secret), serializer.KindAPI)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return user.User{}, ErrInvalid
		}
		return user.User{}, fmt.Errorf("find token: %w", err)
	}
	if tok.Revoked() {
		return user.User{}, ErrRevoked
	}
	if tok.Expired(s.clock().UTC()) {
		return user.User{}, ErrExpired
	}

	u, err := s.serializer.FindByID(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return user.User{}, ErrInvalid
		}
		return user.User{}, fmt.Errorf("find token user: %w", err)
	}
	return u, nil
}

// ListTokens returns the user's active personal access tokens.
func (s *Scheme) ListTokens(ctx context.Context, u user.User) ([]serializer.Token, error) {
	return s.tokens.ListTokens(ctx, u.ID, serializer.KindAPI)
}

// RevokeTokens revokes the user's personal access tokens. Entries may be
// plaintext tokens or their hashes. With inverse set, every token except
// the listed ones is revoked.
func (s *Scheme) RevokeTokens(ctx context.Context, u user.User, tokens []string, inverse bool) error {
	hashes := make([]string, 0, len(tokens))
	for _, t := range tokens {
		hashes = append(hashes, normalizeHash(t))
	}
	return s.tokens.RevokeTokens(ctx, u.ID, serializer.KindAPI, hashes, inverse, s.clock().UTC())
}

// ValidFormat reports whether a plaintext token has the expected shape.
func ValidFormat(token string) bool {
	if !strings.HasPrefix(token, Prefix) {
		return false
	}
	rest := strings.TrimPrefix(token, Prefix)
	if len(rest) != secretBytes*2 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// normalizeHash passes stored hashes through and hashes plaintext tokens.
func normalizeHash(token string) string {
	token = strings.TrimSpace(token)
	if len(token) == 64 {
		if _, err := hex.DecodeString(token); err == nil {
			return token
		}
	}
	return serializer.HashToken(token)
}

func newSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return Prefix + hex.EncodeToString(raw), nil
}
