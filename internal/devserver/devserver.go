// Package devserver runs the reference HTTP server wired with every
// authenticator the module ships.
//
// The server is a working deployment of the library surface: cookie
// sessions for browsers, basic auth and bearer tokens for API clients,
// and passkey ceremonies on top of both. It exists so the auth stack
// can be exercised end to end with real HTTP clients.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/louisbranch/gatehouse/auth"
	"github.com/louisbranch/gatehouse/internal/platform/timeouts"
	"github.com/louisbranch/gatehouse/scheme/basic"
	"github.com/louisbranch/gatehouse/scheme/jwt"
	"github.com/louisbranch/gatehouse/scheme/passkey"
	"github.com/louisbranch/gatehouse/scheme/session"
	"github.com/louisbranch/gatehouse/scheme/token"
	"github.com/louisbranch/gatehouse/serializer/sqlite"
)

// Authenticator names registered by the dev server.
const (
	AuthenticatorSession = "session"
	AuthenticatorBasic   = "basic"
	AuthenticatorJWT     = "jwt"
	AuthenticatorAPI     = "api"
)

const (
	defaultHTTPAddr        = "localhost:8080"
	defaultDBPath          = "gatehouse.db"
	defaultCleanupInterval = 10 * time.Minute
)

// Config holds the dev server configuration.
type Config struct {
	HTTPAddr        string        `env:"GATEHOUSE_HTTP_ADDR"        envDefault:"localhost:8080"`
	DBPath          string        `env:"GATEHOUSE_DB"               envDefault:"gatehouse.db"`
	CleanupInterval time.Duration `env:"GATEHOUSE_CLEANUP_INTERVAL" envDefault:"10m"`
}

// LoadConfigFromEnv loads server configuration and applies defensive defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = defaultDBPath
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	return c
}

// Server is the running dev server with its backing store.
type Server struct {
	httpAddr   string
	httpServer *http.Server
	store      *sqlite.Store
	clock      func() time.Time
}

// NewServer opens the SQLite store, registers the authenticators, and
// builds a ready-to-run server. Scheme configuration is read from the
// environment, so GATEHOUSE_APP_KEY must be set for the jwt
// authenticator to sign tokens.
func NewServer(config Config) (*Server, error) {
	config = config.withDefaults()

	store, err := sqlite.Open(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	manager, schemes, err := registerAuthenticators(store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	handler, err := NewHandler(manager, schemes)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build handler: %w", err)
	}

	httpServer := &http.Server{
		Addr:              config.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{
		httpAddr:   config.HTTPAddr,
		httpServer: httpServer,
		store:      store,
		clock:      time.Now,
	}, nil
}

// registerAuthenticators wires the four named authenticators plus the
// passkey ceremonies over one shared store. The session authenticator
// registers first and becomes the default.
func registerAuthenticators(store *sqlite.Store) (*auth.Manager, Schemes, error) {
	manager := auth.NewManager()

	if err := manager.Register(AuthenticatorSession, session.New(store, store, session.LoadConfigFromEnv())); err != nil {
		return nil, Schemes{}, err
	}
	if err := manager.Register(AuthenticatorBasic, basic.New(store, basic.LoadConfigFromEnv())); err != nil {
		return nil, Schemes{}, err
	}

	jwtConfig, err := jwt.LoadConfigFromEnv()
	if err != nil {
		return nil, Schemes{}, fmt.Errorf("configure jwt scheme: %w", err)
	}
	jwtScheme, err := jwt.New(store, jwtConfig)
	if err != nil {
		return nil, Schemes{}, fmt.Errorf("configure jwt scheme: %w", err)
	}
	if err := manager.Register(AuthenticatorJWT, jwtScheme); err != nil {
		return nil, Schemes{}, err
	}

	apiScheme, err := token.New(store)
	if err != nil {
		return nil, Schemes{}, fmt.Errorf("configure token scheme: %w", err)
	}
	if err := manager.Register(AuthenticatorAPI, apiScheme); err != nil {
		return nil, Schemes{}, err
	}

	passkeys, err := passkey.New(store, store, store, passkey.LoadConfigFromEnv())
	if err != nil {
		return nil, Schemes{}, fmt.Errorf("configure passkey scheme: %w", err)
	}

	return manager, Schemes{Tokens: apiScheme, Passkeys: passkeys}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
//
// On cancellation, it performs a bounded shutdown so in-flight requests
// are drained before hard close.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("dev server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("gatehouse listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// StartCleanup starts periodic expiry cleanup for sessions, tokens, and
// pending passkey ceremonies.
//
// This keeps short-lived auth artifacts from accumulating without
// requiring a separate maintenance process.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.store == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *Server) cleanupExpired(ctx context.Context) {
	now := s.clock().UTC()
	if err := s.store.DeleteExpiredSessions(ctx, now); err != nil {
		log.Printf("cleanup expired sessions: %v", err)
	}
	if err := s.store.DeleteExpiredTokens(ctx, now); err != nil {
		log.Printf("cleanup expired tokens: %v", err)
	}
	if err := s.store.DeleteExpiredPasskeySessions(ctx, now); err != nil {
		log.Printf("cleanup expired passkey sessions: %v", err)
	}
}

// Close releases the backing store.
func (s *Server) Close() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}
