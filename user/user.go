// Package user provides identity records shared by all authenticators.
package user

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/internal/platform/id"
	"golang.org/x/crypto/bcrypt"
)

// DefaultLocale is assigned to users created without an explicit locale.
const DefaultLocale = "en-US"

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeUserEmptyEmail, "email is required")
	// ErrInvalidEmail indicates an email that does not parse as an address.
	ErrInvalidEmail = apperrors.New(apperrors.CodeUserInvalidEmail, "email must be a valid address")
	// ErrEmptyPassword indicates a missing password.
	ErrEmptyPassword = apperrors.New(apperrors.CodeUserEmptyPassword, "password is required")
	// ErrInvalidUsername indicates a username that does not match the required format.
	ErrInvalidUsername = apperrors.New(apperrors.CodeUserInvalidUsername, "username must be 3-32 lowercase alphanumeric, dot, dash, or underscore characters")
	// ErrInvalidCredentials indicates a password that does not match the stored hash.
	ErrInvalidCredentials = apperrors.New(apperrors.CodeCredentialsInvalid, "credentials do not match")

	usernamePattern = regexp.MustCompile(`^[a-z0-9_.\-]{3,32}$`)
)

// User represents an authenticated identity record.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	Locale       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUserInput describes the data needed to create a user.
type CreateUserInput struct {
	Email    string
	Username string
	Password string
	Locale   string
}

// ValidateEmail enforces that s parses as a single RFC 5322 address.
func ValidateEmail(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyEmail
	}
	parsed, err := mail.ParseAddress(s)
	if err != nil || parsed.Address != s {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateUsername enforces canonical username constraints. Usernames are
// optional; callers skip validation for the empty string.
func ValidateUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return ErrInvalidUsername
	}
	return nil
}

// CreateUser creates a durable user identity from validated input.
//
// This is the canonical point where untrusted registration data becomes a
// stable identity: the email is normalized, the password is hashed with
// bcrypt, and the plaintext is never retained.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(normalized.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:           userID,
		Email:        normalized.Email,
		Username:     normalized.Username,
		PasswordHash: string(hash),
		Locale:       normalized.Locale,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.Email == "" {
		return CreateUserInput{}, ErrEmptyEmail
	}
	if err := ValidateEmail(input.Email); err != nil {
		return CreateUserInput{}, err
	}

	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	if input.Username != "" {
		if err := ValidateUsername(input.Username); err != nil {
			return CreateUserInput{}, err
		}
	}

	if input.Password == "" {
		return CreateUserInput{}, ErrEmptyPassword
	}

	input.Locale = strings.TrimSpace(input.Locale)
	if input.Locale == "" {
		input.Locale = DefaultLocale
	}
	return input, nil
}

// ComparePassword checks a plaintext password against the stored bcrypt hash.
// The returned error is ErrInvalidCredentials for any mismatch so callers
// cannot distinguish a wrong password from a missing hash.
func ComparePassword(hash, password string) error {
	if hash == "" || password == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
