package errors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// BadRequest - validation failures, bad input
	case CodeUserEmptyEmail,
		CodeUserInvalidEmail,
		CodeUserEmptyPassword,
		CodeUserInvalidUsername:
		return http.StatusBadRequest

	// Unauthorized - missing or failed credentials
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
		return http.StatusUnauthorized

	case CodeNotFound:
		return http.StatusNotFound

	case CodeUserAlreadyExists:
		return http.StatusConflict

	case CodeSchemeUnsupported:
		return http.StatusNotImplemented

	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus maps an error to an HTTP status code.
// Non-domain errors map to 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code.HTTPStatus()
	}
	return http.StatusInternalServerError
}
