// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// User errors
	CodeUserEmptyEmail      Code = "USER_EMPTY_EMAIL"
	CodeUserInvalidEmail    Code = "USER_INVALID_EMAIL"
	CodeUserEmptyPassword   Code = "USER_EMPTY_PASSWORD"
	CodeUserInvalidUsername Code = "USER_INVALID_USERNAME"
	CodeUserAlreadyExists   Code = "USER_ALREADY_EXISTS"

	// Credential errors
	CodeCredentialsInvalid      Code = "CREDENTIALS_INVALID"
	CodeBasicCredentialsMissing Code = "BASIC_CREDENTIALS_MISSING"

	// Session scheme errors
	CodeSessionMissing Code = "SESSION_MISSING"
	CodeSessionInvalid Code = "SESSION_INVALID"
	CodeSessionExpired Code = "SESSION_EXPIRED"

	// Token scheme errors
	CodeTokenMissing        Code = "TOKEN_MISSING"
	CodeTokenInvalid        Code = "TOKEN_INVALID"
	CodeTokenExpired        Code = "TOKEN_EXPIRED"
	CodeTokenRevoked        Code = "TOKEN_REVOKED"
	CodeRefreshTokenInvalid Code = "REFRESH_TOKEN_INVALID"

	// Passkey errors
	CodePasskeySessionInvalid    Code = "PASSKEY_SESSION_INVALID"
	CodePasskeyCredentialInvalid Code = "PASSKEY_CREDENTIAL_INVALID"

	// Authenticator registry errors
	CodeAuthenticatorUnknown   Code = "AUTHENTICATOR_UNKNOWN"
	CodeAuthenticatorDuplicate Code = "AUTHENTICATOR_DUPLICATE"
	CodeSchemeUnsupported      Code = "SCHEME_OPERATION_UNSUPPORTED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeUserEmptyEmail,
		CodeUserInvalidEmail,
		CodeUserEmptyPassword,
		CodeUserInvalidUsername:
		return codes.InvalidArgument

	// Unauthenticated - missing or failed credentials
	case CodeCredentialsInvalid,
		CodeBasicCredentialsMissing,
		CodeSessionMissing,
		CodeSessionInvalid,
		CodeSessionExpired,
		CodeTokenMissing,
		CodeTokenInvalid,
		CodeTokenExpired,
		CodeTokenRevoked,
		CodeRefreshTokenInvalid,
		CodePasskeySessionInvalid,
		CodePasskeyCredentialInvalid:
		return codes.Unauthenticated

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeUserAlreadyExists:
		return codes.AlreadyExists

	// Unimplemented - scheme doesn't support the operation
	case CodeSchemeUnsupported:
		return codes.Unimplemented

	default:
		return codes.Internal
	}
}
