// Package basic implements the HTTP Basic authentication scheme.
//
// Credentials ride on every request in the Authorization header, so the
// scheme is stateless: Check validates them each time and Attempt performs
// the same validation without issuing anything.
package basic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/caarlos0/env/v11"
	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/scheme"
	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

// ErrMissingCredentials indicates the request carried no basic auth header.
var ErrMissingCredentials = apperrors.New(apperrors.CodeBasicCredentialsMissing, "no basic auth credentials")

// Config controls the challenge realm.
type Config struct {
	Realm string `env:"GATEHOUSE_BASIC_REALM" envDefault:"gatehouse"`
}

// LoadConfigFromEnv loads basic auth configuration and applies defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Realm == "" {
		c.Realm = "gatehouse"
	}
	return c
}

// Scheme authenticates requests from the Authorization: Basic header.
type Scheme struct {
	serializer serializer.Serializer
	config     Config
}

// New builds a basic auth scheme over the serializer.
func New(ser serializer.Serializer, cfg Config) *Scheme {
	return &Scheme{serializer: ser, config: cfg.withDefaults()}
}

var (
	_ scheme.Scheme     = (*Scheme)(nil)
	_ scheme.Attempter  = (*Scheme)(nil)
	_ scheme.Challenger = (*Scheme)(nil)
)

// Check validates the basic auth credentials on the request.
func (s *Scheme) Check(ctx context.Context, r *http.Request) (user.User, error) {
	uid, password, ok := r.BasicAuth()
	if !ok {
		return user.User{}, ErrMissingCredentials
	}
	return s.validate(ctx, uid, password)
}

// Attempt validates uid and password without touching the response. Basic
// auth has nothing to issue; the header itself is the credential.
func (s *Scheme) Attempt(ctx context.Context, _ http.ResponseWriter, _ *http.Request, uid string, password string, _ ...scheme.Option) (user.User, error) {
	return s.validate(ctx, uid, password)
}

// Challenge advertises the realm so HTTP clients prompt for credentials.
func (s *Scheme) Challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", s.config.Realm))
}

func (s *Scheme) validate(ctx context.Context, uid string, password string) (user.User, error) {
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
