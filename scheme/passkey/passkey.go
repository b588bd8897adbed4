// Package passkey implements WebAuthn passkey registration and login.
//
// Passkeys are a login ceremony, not a per-request credential: Finish
// operations resolve a user and the caller establishes whatever session or
// token should follow. Ceremony state lives server-side with a short TTL;
// the browser only carries the opaque session id between Begin and Finish.
package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/internal/platform/id"
	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

// SessionKind describes the WebAuthn session purpose.
type SessionKind string

const (
	SessionKindRegistration SessionKind = "registration"
	SessionKindLogin        SessionKind = "login"
)

// DefaultSessionTTL bounds how long a ceremony may stay open.
const DefaultSessionTTL = 5 * time.Minute

var (
	// ErrSessionInvalid indicates the ceremony session is unknown, expired,
	// or of the wrong kind.
	ErrSessionInvalid = apperrors.New(apperrors.CodePasskeySessionInvalid, "passkey session is not valid")
	// ErrCredentialInvalid indicates the authenticator response failed
	// verification.
	ErrCredentialInvalid = apperrors.New(apperrors.CodePasskeyCredentialInvalid, "passkey credential is not valid")
)

// Credential is a registered passkey stored through the serializer.
type Credential struct {
	CredentialID   string
	UserID         string
	CredentialJSON string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// Session is a pending registration or login ceremony.
type Session struct {
	ID          string
	Kind        string
	UserID      string
	SessionJSON string
	ExpiresAt   time.Time
}

// CredentialStore persists registered passkeys.
type CredentialStore interface {
	PutPasskeyCredential(ctx context.Context, c Credential) error
	GetPasskeyCredential(ctx context.Context, credentialID string) (Credential, error)
	ListPasskeyCredentials(ctx context.Context, userID string) ([]Credential, error)
	DeletePasskeyCredential(ctx context.Context, credentialID string) error
}

// SessionStore persists pending ceremonies.
type SessionStore interface {
	PutPasskeySession(ctx context.Context, s Session) error
	GetPasskeySession(ctx context.Context, id string) (Session, error)
	DeletePasskeySession(ctx context.Context, id string) error
	DeleteExpiredPasskeySessions(ctx context.Context, now time.Time) error
}

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"GATEHOUSE_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Gatehouse"`
	RPID          string        `env:"GATEHOUSE_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"GATEHOUSE_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	SessionTTL    time.Duration `env:"GATEHOUSE_WEBAUTHN_SESSION_TTL"     envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.RPDisplayName == "" {
		c.RPDisplayName = "Gatehouse"
	}
	if c.RPID == "" {
		c.RPID = "localhost"
	}
	if len(c.RPOrigins) == 0 {
		c.RPOrigins = []string{"http://localhost:8080"}
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	return c
}

// provider is the slice of webauthn.WebAuthn the scheme depends on.
type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Scheme runs WebAuthn ceremonies over serializer-backed stores.
type Scheme struct {
	serializer  serializer.Serializer
	credentials CredentialStore
	sessions    SessionStore
	config      Config
	webAuthn    provider
	parser      parser
	clock       func() time.Time
	idGenerator func() (string, error)
}

// New builds a passkey scheme over the serializer and passkey stores.
func New(ser serializer.Serializer, credentials CredentialStore, sessions SessionStore, cfg Config) (*Scheme, error) {
	cfg = cfg.withDefaults()
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &Scheme{
		serializer:  ser,
		credentials: credentials,
		sessions:    sessions,
		config:      cfg,
		webAuthn:    webAuthn,
		parser:      defaultParser{},
		clock:       time.Now,
		idGenerator: id.NewID,
	}, nil
}

// BeginRegistration opens a registration ceremony for the user. It returns
// the credential creation options to pass to the browser and the ceremony
// session id expected back on finish.
func (s *Scheme) BeginRegistration(ctx context.Context, u user.User) ([]byte, string, error) {
	webUser, err := s.loadWebAuthnUser(ctx, u)
	if err != nil {
		return nil, "", err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(webUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(webUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.webAuthn.BeginRegistration(webUser, options...)
	if err != nil {
		return nil, "", fmt.Errorf("begin passkey registration: %w", err)
	}

	sessionID, err := s.storeSession(ctx, SessionKindRegistration, u.ID, session)
	if err != nil {
		return nil, "", err
	}
	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, "", fmt.Errorf("encode registration options: %w", err)
	}
	return optionsJSON, sessionID, nil
}

// FinishRegistration verifies the authenticator response and stores the new
// credential.
func (s *Scheme) FinishRegistration(ctx context.Context, sessionID string, responseJSON []byte) (Credential, error) {
	session, err := s.loadSession(ctx, sessionID, SessionKindRegistration)
	if err != nil {
		return Credential{}, err
	}
	if session.UserID == "" {
		return Credential{}, ErrSessionInvalid
	}

	u, err := s.serializer.FindByID(ctx, session.UserID)
	if err != nil {
		return Credential{}, fmt.Errorf("find session user: %w", err)
	}
	webUser, err := s.loadWebAuthnUser(ctx, u)
	if err != nil {
		return Credential{}, err
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return Credential{}, apperrors.Wrap(apperrors.CodePasskeyCredentialInvalid, "parse credential response", err)
	}
	credential, err := s.webAuthn.CreateCredential(webUser, session.Data, parsed)
	if err != nil {
		return Credential{}, apperrors.Wrap(apperrors.CodePasskeyCredentialInvalid, "verify credential response", err)
	}

	stored, err := s.storeCredential(ctx, u.ID, *credential, false)
	if err != nil {
		return Credential{}, err
	}
	_ = s.sessions.DeletePasskeySession(ctx, sessionID)
	return stored, nil
}

// BeginLogin opens a login ceremony. With a user id the challenge is scoped
// to that user's credentials; without one the ceremony is discoverable and
// the authenticator picks the account.
func (s *Scheme) BeginLogin(ctx context.Context, userID string) ([]byte, string, error) {
	userID = strings.TrimSpace(userID)

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		err       error
	)
	if userID == "" {
		assertion, session, err = s.webAuthn.BeginDiscoverableLogin()
	} else {
		u, findErr := s.serializer.FindByID(ctx, userID)
		if findErr != nil {
			return nil, "", findErr
		}
		webUser, loadErr := s.loadWebAuthnUser(ctx, u)
		if loadErr != nil {
			return nil, "", loadErr
		}
		assertion, session, err = s.webAuthn.BeginLogin(webUser)
	}
	if err != nil {
		return nil, "", fmt.Errorf("begin passkey login: %w", err)
	}

	sessionID, err := s.storeSession(ctx, SessionKindLogin, userID, session)
	if err != nil {
		return nil, "", err
	}
	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", fmt.Errorf("encode login options: %w", err)
	}
	return optionsJSON, sessionID, nil
}

// FinishLogin verifies the assertion and returns the authenticated user.
func (s *Scheme) FinishLogin(ctx context.Context, sessionID string, responseJSON []byte) (user.User, error) {
	session, err := s.loadSession(ctx, sessionID, SessionKindLogin)
	if err != nil {
		return user.User{}, err
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodePasskeyCredentialInvalid, "parse credential response", err)
	}

	validatedUser, validatedCredential, err := s.webAuthn.ValidatePasskeyLogin(s.userHandler(ctx), session.Data, parsed)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodePasskeyCredentialInvalid, "verify passkey login", err)
	}

	webUser, ok := validatedUser.(*webAuthnUser)
	if !ok {
		return user.User{}, errors.New("passkey user type mismatch")
	}

	if _, err := s.storeCredential(ctx, webUser.user.ID, *validatedCredential, true); err != nil {
		return user.User{}, err
	}
	_ = s.sessions.DeletePasskeySession(ctx, sessionID)
	return webUser.user, nil
}

// ListCredentials returns the user's registered passkeys.
func (s *Scheme) ListCredentials(ctx context.Context, u user.User) ([]Credential, error) {
	return s.credentials.ListPasskeyCredentials(ctx, u.ID)
}

// DeleteCredential removes a registered passkey owned by the user.
func (s *Scheme) DeleteCredential(ctx context.Context, u user.User, credentialID string) error {
	stored, err := s.credentials.GetPasskeyCredential(ctx, credentialID)
	if err != nil {
		return err
	}
	if stored.UserID != u.ID {
		return ErrCredentialInvalid
	}
	return s.credentials.DeletePasskeyCredential(ctx, credentialID)
}

// webAuthnUser adapts a user record to the webauthn.User interface.
type webAuthnUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	if u.user.Username != "" {
		return u.user.Username
	}
	return u.user.Email
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	return u.WebAuthnName()
}

func (u *webAuthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *Scheme) loadWebAuthnUser(ctx context.Context, base user.User) (*webAuthnUser, error) {
	records, err := s.credentials.ListPasskeyCredentials(ctx, base.ID)
	if err != nil {
		return nil, fmt.Errorf("list passkey credentials: %w", err)
	}
	credentials, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &webAuthnUser{user: base, credentials: credentials}, nil
}

func decodeStoredCredentials(records []Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func (s *Scheme) storeCredential(ctx context.Context, userID string, credential webauthn.Credential, used bool) (Credential, error) {
	credentialID := EncodeCredentialID(credential.ID)
	now := s.clock().UTC()

	stored, err := s.credentials.GetPasskeyCredential(ctx, credentialID)
	if err != nil && !errors.Is(err, serializer.ErrNotFound) {
		return Credential{}, fmt.Errorf("get passkey credential: %w", err)
	}
	exists := err == nil
	if !exists && used {
		return Credential{}, ErrCredentialInvalid
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return Credential{}, fmt.Errorf("encode credential: %w", err)
	}

	createdAt := now
	var lastUsed *time.Time
	if exists {
		createdAt = stored.CreatedAt
		lastUsed = stored.LastUsedAt
	}
	if used {
		value := now
		lastUsed = &value
	}

	record := Credential{
		CredentialID:   credentialID,
		UserID:         userID,
		CredentialJSON: string(credentialJSON),
		CreatedAt:      createdAt,
		UpdatedAt:      now,
		LastUsedAt:     lastUsed,
	}
	if err := s.credentials.PutPasskeyCredential(ctx, record); err != nil {
		return Credential{}, fmt.Errorf("put passkey credential: %w", err)
	}
	return record, nil
}

func (s *Scheme) storeSession(ctx context.Context, kind SessionKind, userID string, session *webauthn.SessionData) (string, error) {
	if session == nil {
		return "", errors.New("session data is required")
	}
	sessionID, err := s.idGenerator()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("encode session data: %w", err)
	}
	record := Session{
		ID:          sessionID,
		Kind:        string(kind),
		UserID:      userID,
		SessionJSON: string(payload),
		ExpiresAt:   s.clock().UTC().Add(s.config.SessionTTL),
	}
	if err := s.sessions.PutPasskeySession(ctx, record); err != nil {
		return "", fmt.Errorf("put passkey session: %w", err)
	}
	return sessionID, nil
}

type loadedSession struct {
	Data   webauthn.SessionData
	UserID string
}

func (s *Scheme) loadSession(ctx context.Context, sessionID string, expectedKind SessionKind) (loadedSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return loadedSession{}, ErrSessionInvalid
	}

	stored, err := s.sessions.GetPasskeySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return loadedSession{}, ErrSessionInvalid
		}
		return loadedSession{}, fmt.Errorf("get passkey session: %w", err)
	}
	if stored.Kind != string(expectedKind) {
		return loadedSession{}, ErrSessionInvalid
	}
	if stored.ExpiresAt.Before(s.clock().UTC()) {
		_ = s.sessions.DeletePasskeySession(ctx, sessionID)
		return loadedSession{}, ErrSessionInvalid
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(stored.SessionJSON), &session); err != nil {
		return loadedSession{}, fmt.Errorf("decode passkey session: %w", err)
	}
	return loadedSession{Data: session, UserID: stored.UserID}, nil
}

func (s *Scheme) userHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		userID := strings.TrimSpace(string(userHandle))
		if userID == "" {
			return nil, errors.New("user handle is required")
		}
		u, err := s.serializer.FindByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.loadWebAuthnUser(ctx, u)
	}
}

// EncodeCredentialID renders a raw credential id in its stored form.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
