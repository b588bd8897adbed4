// Package auth assembles named authenticators and exposes them to HTTP
// handlers through per-request handles and middleware.
//
// An authenticator pairs a name with a configured scheme, and the scheme
// carries its serializer, so the name alone selects both how credentials
// travel and where user records live. Handlers reach the active
// authenticator through the handle the middleware stores in the request
// context:
//
//	u, ok := auth.CurrentUser(r.Context())
//
// Operations a scheme does not implement return an error with code
// SCHEME_OPERATION_UNSUPPORTED instead of panicking, so the same handler
// can route Logout to a session authenticator and Generate to a token
// authenticator behind one manager.
package auth

import (
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/scheme"
)

// Name of the tracer used for spans recorded by handles and middleware.
const tracerName = "gatehouse/auth"

var (
	// ErrUnknownAuthenticator indicates a name with no registered authenticator.
	ErrUnknownAuthenticator = apperrors.New(apperrors.CodeAuthenticatorUnknown, "authenticator is not registered")
	// ErrDuplicateAuthenticator indicates a name that is already registered.
	ErrDuplicateAuthenticator = apperrors.New(apperrors.CodeAuthenticatorDuplicate, "authenticator name is already registered")
)

// Authenticator pairs a name with a configured scheme.
type Authenticator struct {
	Name   string
	Scheme scheme.Scheme
}

// Manager is the registry of an application's named authenticators. The
// first registered authenticator is the default until Default overrides
// it. The zero value is ready to use.
type Manager struct {
	mu             sync.RWMutex
	authenticators map[string]Authenticator
	order          []string
	defaultName    string
}

// NewManager creates an empty authenticator registry.
func NewManager() *Manager {
	return &Manager{authenticators: make(map[string]Authenticator)}
}

// Register adds a named authenticator. Registering a name twice fails.
func (m *Manager) Register(name string, s scheme.Scheme) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("authenticator name is required")
	}
	if s == nil {
		return fmt.Errorf("authenticator scheme is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authenticators == nil {
		m.authenticators = make(map[string]Authenticator)
	}
	if _, exists := m.authenticators[name]; exists {
		return apperrors.WithMetadata(apperrors.CodeAuthenticatorDuplicate,
			fmt.Sprintf("authenticator %q is already registered", name),
			map[string]string{"Name": name})
	}
	m.authenticators[name] = Authenticator{Name: name, Scheme: s}
	m.order = append(m.order, name)
	if m.defaultName == "" {
		m.defaultName = name
	}
	return nil
}

// Default selects the authenticator used when callers do not name one.
func (m *Manager) Default(name string) error {
	name = strings.TrimSpace(name)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.authenticators[name]; !exists {
		return errUnknown(name)
	}
	m.defaultName = name
	return nil
}

// Use resolves a named authenticator. The empty name resolves to the
// default.
func (m *Manager) Use(name string) (Authenticator, error) {
	name = strings.TrimSpace(name)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if name == "" {
		name = m.defaultName
	}
	if name == "" {
		return Authenticator{}, apperrors.New(apperrors.CodeAuthenticatorUnknown, "no default authenticator is registered")
	}
	authenticator, exists := m.authenticators[name]
	if !exists {
		return Authenticator{}, errUnknown(name)
	}
	return authenticator, nil
}

// Names returns the registered authenticator names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

func errUnknown(name string) error {
	return apperrors.WithMetadata(apperrors.CodeAuthenticatorUnknown,
		fmt.Sprintf("authenticator %q is not registered", name),
		map[string]string{"Name": name})
}
