// Package jwt implements the JWT bearer scheme.
//
// Access tokens are signed JWTs verified on every request without storage.
// Refresh tokens are opaque secrets persisted hashed through the serializer
// and rotated on use.
package jwt

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/internal/platform/id"
	"github.com/louisbranch/gatehouse/scheme"
	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

// Supported signing algorithms.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmEdDSA = "EdDSA"
)

// Default lifetimes applied when configuration leaves them unset.
const (
	DefaultTTL        = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	// ErrMissing indicates no bearer token was presented.
	ErrMissing = apperrors.New(apperrors.CodeTokenMissing, "no bearer token")
	// ErrExpired indicates the token lifetime has passed.
	ErrExpired = apperrors.New(apperrors.CodeTokenExpired, "token has expired")
	// ErrRefreshInvalid indicates the refresh token is unknown, expired, or
	// already rotated.
	ErrRefreshInvalid = apperrors.New(apperrors.CodeRefreshTokenInvalid, "refresh token is not valid")
)

// configEnv holds raw env values before post-parse validation.
type configEnv struct {
	Algorithm  string        `env:"GATEHOUSE_JWT_ALGORITHM" envDefault:"HS256"`
	AppKey     string        `env:"GATEHOUSE_APP_KEY"`
	PrivateKey string        `env:"GATEHOUSE_JWT_PRIVATE_KEY"`
	PublicKey  string        `env:"GATEHOUSE_JWT_PUBLIC_KEY"`
	Issuer     string        `env:"GATEHOUSE_JWT_ISSUER" envDefault:"gatehouse"`
	Audience   string        `env:"GATEHOUSE_JWT_AUDIENCE"`
	TTL        time.Duration `env:"GATEHOUSE_JWT_TTL" envDefault:"1h"`
	RefreshTTL time.Duration `env:"GATEHOUSE_JWT_REFRESH_TTL" envDefault:"720h"`
	Leeway     time.Duration `env:"GATEHOUSE_JWT_LEEWAY"`
}

// Config defines how tokens are signed and verified.
type Config struct {
	// Algorithm selects the signing method, AlgorithmHS256 or AlgorithmEdDSA.
	Algorithm string
	// Secret signs and verifies HS256 tokens.
	Secret []byte
	// PrivateKey signs EdDSA tokens. Verification-only deployments may
	// leave it unset.
	PrivateKey ed25519.PrivateKey
	// PublicKey verifies EdDSA tokens. Derived from PrivateKey when unset.
	PublicKey ed25519.PublicKey
	// Issuer is embedded as iss and required on verification.
	Issuer string
	// Audience is embedded as aud and required on verification when set.
	Audience   string
	TTL        time.Duration
	RefreshTTL time.Duration
	// Leeway tolerates clock skew when validating exp and nbf.
	Leeway time.Duration
}

// LoadConfigFromEnv reads signing configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	var raw configEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse jwt env: %w", err)
	}
	cfg := Config{
		Algorithm:  strings.TrimSpace(raw.Algorithm),
		Issuer:     strings.TrimSpace(raw.Issuer),
		Audience:   strings.TrimSpace(raw.Audience),
		TTL:        raw.TTL,
		RefreshTTL: raw.RefreshTTL,
		Leeway:     raw.Leeway,
	}

	switch cfg.Algorithm {
	case AlgorithmHS256:
		secret := strings.TrimSpace(raw.AppKey)
		if secret == "" {
			return Config{}, fmt.Errorf("GATEHOUSE_APP_KEY is required for %s", AlgorithmHS256)
		}
		cfg.Secret = []byte(secret)
	case AlgorithmEdDSA:
		private := strings.TrimSpace(raw.PrivateKey)
		public := strings.TrimSpace(raw.PublicKey)
		if private == "" && public == "" {
			return Config{}, fmt.Errorf("GATEHOUSE_JWT_PRIVATE_KEY or GATEHOUSE_JWT_PUBLIC_KEY is required for %s", AlgorithmEdDSA)
		}
		if public != "" {
			keyBytes, err := decodeBase64(public)
			if err != nil {
				return Config{}, fmt.Errorf("decode jwt public key: %w", err)
			}
			if len(keyBytes) != ed25519.PublicKeySize {
				return Config{}, fmt.Errorf("jwt public key must be %d bytes", ed25519.PublicKeySize)
			}
			cfg.PublicKey = ed25519.PublicKey(keyBytes)
		}
		if private != "" {
			keyBytes, err := decodeBase64(private)
			if err != nil {
				return Config{}, fmt.Errorf("decode jwt private key: %w", err)
			}
			if len(keyBytes) != ed25519.PrivateKeySize {
				return Config{}, fmt.Errorf("jwt private key must be %d bytes", ed25519.PrivateKeySize)
			}
			cfg.PrivateKey = ed25519.PrivateKey(keyBytes)
			if cfg.PublicKey == nil {
				cfg.PublicKey = cfg.PrivateKey.Public().(ed25519.PublicKey)
			}
		}
	default:
		return Config{}, fmt.Errorf("unsupported jwt algorithm %q", cfg.Algorithm)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmHS256
	}
	if c.Issuer == "" {
		c.Issuer = "gatehouse"
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if c.Leeway < 0 {
		c.Leeway = 0
	}
	return c
}

// Claims captures the validated claims of an access token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	ID        string
	Data      map[string]any
}

// jwtClaims is the internal claims type used for signing and parsing.
type jwtClaims struct {
	jwt.RegisteredClaims
	Data map[string]any `json:"data,omitempty"`
}

// Scheme authenticates requests from Authorization: Bearer JWTs.
type Scheme struct {
	serializer  serializer.Serializer
	tokens      serializer.TokenStore
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// New builds a JWT scheme over the serializer. Refresh tokens are enabled
// when the serializer also implements serializer.TokenStore.
func New(ser serializer.Serializer, cfg Config) (*Scheme, error) {
	cfg = cfg.withDefaults()
	switch cfg.Algorithm {
	case AlgorithmHS256:
		if len(cfg.Secret) == 0 {
			return nil, errors.New("jwt secret is required")
		}
	case AlgorithmEdDSA:
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("jwt public key is required")
		}
	default:
		return nil, fmt.Errorf("unsupported jwt algorithm %q", cfg.Algorithm)
	}

	s := &Scheme{
		serializer:  ser,
		config:      cfg,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
	if tokens, ok := ser.(serializer.TokenStore); ok {
		s.tokens = tokens
	}
	return s, nil
}

var (
	_ scheme.Scheme         = (*Scheme)(nil)
	_ scheme.Attempter      = (*Scheme)(nil)
	_ scheme.TokenIssuer    = (*Scheme)(nil)
	_ scheme.TokenRefresher = (*Scheme)(nil)
	_ scheme.TokenManager   = (*Scheme)(nil)
)

// Generate signs an access token for the user. The refresh option also
// persists an opaque refresh token and returns it in the pair.
func (s *Scheme) Generate(ctx context.Context, u user.User, opts ...scheme.Option) (scheme.TokenPair, error) {
	options := scheme.ApplyOptions(opts)

	jti, err := s.idGenerator()
	if err != nil {
		return scheme.TokenPair{}, fmt.Errorf("generate jti: %w", err)
	}

	ttl := s.config.TTL
	if options.TTL > 0 {
		ttl = options.TTL
	}
	now := s.clock().UTC()
	expiresAt := now.Add(ttl)

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		Data: options.Claims,
	}
	if s.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.config.Audience}
	}

	key, err := s.signingKey()
	if err != nil {
		return scheme.TokenPair{}, err
	}
	signed, err := jwt.NewWithClaims(s.signingMethod(), claims).SignedString(key)
	if err != nil {
		return scheme.TokenPair{}, fmt.Errorf("sign token: %w", err)
	}

	pair := scheme.TokenPair{Type: "bearer", Token: signed, ExpiresAt: expiresAt}
	if options.RefreshToken {
		refresh, err := s.issueRefresh(ctx, u, now)
		if err != nil {
			return scheme.TokenPair{}, err
		}
		pair.RefreshToken = refresh
	}
	return pair, nil
}

// Attempt resolves uid via the serializer and validates the password. JWTs
// are issued separately through Generate.
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

// Check verifies the bearer token on the request and loads the subject user.
func (s *Scheme) Check(ctx context.Context, r *http.Request) (user.User, error) {
	token, ok := scheme.BearerToken(r)
	if !ok {
		return user.User{}, ErrMissing
	}
	return s.VerifyBearer(ctx, token)
}

// VerifyBearer verifies a raw access token outside an HTTP request, for
// transports like gRPC metadata.
func (s *Scheme) VerifyBearer(ctx context.Context, token string) (user.User, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return user.User{}, err
	}
	u, err := s.serializer.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return user.User{}, apperrors.New(apperrors.CodeTokenInvalid, "token subject is unknown")
		}
		return user.User{}, fmt.Errorf("find token user: %w", err)
	}
	return u, nil
}

// Parse verifies a token string and validates its claims.
func (s *Scheme) Parse(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMissing
	}

	var parsed jwtClaims
	_, err := jwt.ParseWithClaims(token, &parsed, s.verificationKey,
		jwt.WithValidMethods([]string{s.config.Algorithm}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != s.config.Issuer {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeTokenInvalid, "token issuer mismatch", map[string]string{"Field": "issuer"})
	}
	if s.config.Audience != "" && !audienceContains(parsed.Audience, s.config.Audience) {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeTokenInvalid, "token audience mismatch", map[string]string{"Field": "audience"})
	}
	if parsed.Subject == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "token sub is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "token exp is required")
	}

	now := s.clock().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.Add(s.config.Leeway).After(now) {
		return Claims{}, ErrExpired
	}
	if parsed.NotBefore != nil {
		nbf := parsed.NotBefore.Time.UTC()
		if now.Add(s.config.Leeway).Before(nbf) {
			return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "token not active yet")
		}
	}

	claims := Claims{
		Subject:   parsed.Subject,
		Issuer:    parsed.Issuer,
		Audience:  []string(parsed.Audience),
		ExpiresAt: exp,
		ID:        parsed.ID,
		Data:      parsed.Data,
	}
	if parsed.NotBefore != nil {
		claims.NotBefore = parsed.NotBefore.Time.UTC()
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair with a new refresh token is issued. Reuse after rotation fails.
func (s *Scheme) Refresh(ctx context.Context, refreshToken string) (scheme.TokenPair, error) {
	if s.tokens == nil {
		return scheme.TokenPair{}, s.unsupported("refresh")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return scheme.TokenPair{}, ErrRefreshInvalid
	}

	hash := serializer.HashToken(refreshToken)
	tok, err := s.tokens.FindToken(ctx, hash, serializer.KindJWTRefresh)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return scheme.TokenPair{}, ErrRefreshInvalid
		}
		return scheme.TokenPair{}, fmt.Errorf("find refresh token: %w", err)
	}

	now := s.clock().UTC()
	if tok.Revoked() || tok.Expired(now) {
		return scheme.TokenPair{}, ErrRefreshInvalid
	}

	u, err := s.serializer.FindByID(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return scheme.TokenPair{}, ErrRefreshInvalid
		}
		return scheme.TokenPair{}, fmt.Errorf("find refresh user: %w", err)
	}

	pair, err := s.Generate(ctx, u, scheme.WithRefreshToken())
	if err != nil {
		return scheme.TokenPair{}, err
	}
	// A failed rotation must leave the presented token usable, so the
	// replacement is saved before the revoke.
	if err := s.tokens.RevokeTokens(ctx, tok.UserID, serializer.KindJWTRefresh, []string{hash}, false, now); err != nil {
		return scheme.TokenPair{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	return pair, nil
}

// ListTokens returns the user's active refresh tokens.
func (s *Scheme) ListTokens(ctx context.Context, u user.User) ([]serializer.Token, error) {
	if s.tokens == nil {
		return nil, s.unsupported("list tokens")
	}
	return s.tokens.ListTokens(ctx, u.ID, serializer.KindJWTRefresh)
}

// RevokeTokens revokes the user's refresh tokens. Entries may be plaintext
// tokens or their hashes. With inverse set, every token except the listed
// ones is revoked.
func (s *Scheme) RevokeTokens(ctx context.Context, u user.User, tokens []string, inverse bool) error {
	if s.tokens == nil {
		return s.unsupported("revoke tokens")
	}
	hashes := make([]string, 0, len(tokens))
	for _, t := range tokens {
		hashes = append(hashes, normalizeHash(t))
	}
	return s.tokens.RevokeTokens(ctx, u.ID, serializer.KindJWTRefresh, hashes, inverse, s.clock().UTC())
}

func (s *Scheme) issueRefresh(ctx context.Context, u user.User, now time.Time) (string, error) {
	if s.tokens == nil {
		return "", s.unsupported("refresh")
	}
	secret, err := newRefreshSecret()
	if err != nil {
		return "", err
	}
	tok := serializer.Token{
		Hash:      serializer.HashToken(secret),
		UserID:    u.ID,
		Kind:      serializer.KindJWTRefresh,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.RefreshTTL),
	}
	if err := s.tokens.SaveToken(ctx, tok); err != nil {
		return "", fmt.Errorf("save refresh token: %w", err)
	}
	return secret, nil
}

func (s *Scheme) unsupported(operation string) error {
	return apperrors.WithMetadata(apperrors.CodeSchemeUnsupported, "serializer does not persist tokens", map[string]string{
		"Scheme":    "jwt",
		"Operation": operation,
	})
}

func (s *Scheme) signingMethod() jwt.SigningMethod {
	if s.config.Algorithm == AlgorithmEdDSA {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func (s *Scheme) signingKey() (any, error) {
	switch s.config.Algorithm {
	case AlgorithmEdDSA:
		if len(s.config.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("jwt signing key is not configured")
		}
		return s.config.PrivateKey, nil
	default:
		return s.config.Secret, nil
	}
}

func (s *Scheme) verificationKey(_ *jwt.Token) (any, error) {
	switch s.config.Algorithm {
	case AlgorithmEdDSA:
		return s.config.PublicKey, nil
	default:
		return s.config.Secret, nil
	}
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeTokenInvalid, "token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeTokenInvalid, "token alg is invalid")
	}
	return apperrors.New(apperrors.CodeTokenInvalid, "token is malformed")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
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

// refreshPrefix marks plaintext refresh tokens so they are never mistaken
// for stored hashes, which are bare hex.
const refreshPrefix = "ghr_"

func newRefreshSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return refreshPrefix + hex.EncodeToString(raw), nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
