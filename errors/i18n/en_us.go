package i18n

// Error codes must match the codes defined in errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown                  = "UNKNOWN"
	CodeUserEmptyEmail           = "USER_EMPTY_EMAIL"
	CodeUserInvalidEmail         = "USER_INVALID_EMAIL"
	CodeUserEmptyPassword        = "USER_EMPTY_PASSWORD"
	CodeUserInvalidUsername      = "USER_INVALID_USERNAME"
	CodeUserAlreadyExists        = "USER_ALREADY_EXISTS"
	CodeCredentialsInvalid       = "CREDENTIALS_INVALID"
	CodeBasicCredentialsMissing  = "BASIC_CREDENTIALS_MISSING"
	CodeSessionMissing           = "SESSION_MISSING"
	CodeSessionInvalid           = "SESSION_INVALID"
	CodeSessionExpired           = "SESSION_EXPIRED"
	CodeTokenMissing             = "TOKEN_MISSING"
	CodeTokenInvalid             = "TOKEN_INVALID"
	CodeTokenExpired             = "TOKEN_EXPIRED"
	CodeTokenRevoked             = "TOKEN_REVOKED"
	CodeRefreshTokenInvalid      = "REFRESH_TOKEN_INVALID"
	CodePasskeySessionInvalid    = "PASSKEY_SESSION_INVALID"
	CodePasskeyCredentialInvalid = "PASSKEY_CREDENTIAL_INVALID"
	CodeAuthenticatorUnknown     = "AUTHENTICATOR_UNKNOWN"
	CodeAuthenticatorDuplicate   = "AUTHENTICATOR_DUPLICATE"
	CodeSchemeUnsupported        = "SCHEME_OPERATION_UNSUPPORTED"
	CodeNotFound                 = "NOT_FOUND"
)

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		// User errors
		CodeUserEmptyEmail:      "Email cannot be empty",
		CodeUserInvalidEmail:    "Email address is not valid",
		CodeUserEmptyPassword:   "Password cannot be empty",
		CodeUserInvalidUsername: "Username must be 3 to 32 lowercase letters, digits, '.', '_' or '-'",
		CodeUserAlreadyExists:   "An account with this email already exists",

		// Credential errors
		CodeCredentialsInvalid:      "Invalid credentials",
		CodeBasicCredentialsMissing: "Basic authentication credentials are required",

		// Session errors
		CodeSessionMissing: "No session was presented",
		CodeSessionInvalid: "Session is not valid",
		CodeSessionExpired: "Session has expired",

		// Token errors
		CodeTokenMissing:        "An authorization token is required",
		CodeTokenInvalid:        "Token is not valid",
		CodeTokenExpired:        "Token has expired",
		CodeTokenRevoked:        "Token has been revoked",
		CodeRefreshTokenInvalid: "Refresh token is not valid",

		// Passkey errors
		CodePasskeySessionInvalid:    "Passkey ceremony expired or is not valid",
		CodePasskeyCredentialInvalid: "Passkey could not be verified",

		// Authenticator errors
		CodeAuthenticatorUnknown:   "Authenticator {{.Name}} is not registered",
		CodeAuthenticatorDuplicate: "Authenticator {{.Name}} is already registered",
		CodeSchemeUnsupported:      "The {{.Scheme}} scheme does not support {{.Operation}}",

		// Storage errors
		CodeNotFound: "The requested resource was not found",

		CodeUnknown: "An unexpected error occurred",
	},
}
