package i18n

var ptBRCatalog = &Catalog{
	locale: "pt-BR",
	messages: map[Code]string{
		// User errors
		CodeUserEmptyEmail:      "O e-mail não pode ficar em branco",
		CodeUserInvalidEmail:    "O endereço de e-mail não é válido",
		CodeUserEmptyPassword:   "A senha não pode ficar em branco",
		CodeUserInvalidUsername: "O nome de usuário deve ter de 3 a 32 letras minúsculas, dígitos, '.', '_' ou '-'",
		CodeUserAlreadyExists:   "Já existe uma conta com este e-mail",

		// Credential errors
		CodeCredentialsInvalid:      "Credenciais inválidas",
		CodeBasicCredentialsMissing: "Credenciais de autenticação Basic são obrigatórias",

		// Session errors
		CodeSessionMissing: "Nenhuma sessão foi apresentada",
		CodeSessionInvalid: "A sessão não é válida",
		CodeSessionExpired: "A sessão expirou",

		// Token errors
		CodeTokenMissing:        "Um token de autorização é obrigatório",
		CodeTokenInvalid:        "O token não é válido",
		CodeTokenExpired:        "O token expirou",
		CodeTokenRevoked:        "O token foi revogado",
		CodeRefreshTokenInvalid: "O token de atualização não é válido",

		// Passkey errors
		CodePasskeySessionInvalid:    "A cerimônia de passkey expirou ou não é válida",
		CodePasskeyCredentialInvalid: "Não foi possível verificar a passkey",

		// Authenticator errors
		CodeAuthenticatorUnknown:   "O autenticador {{.Name}} não está registrado",
		CodeAuthenticatorDuplicate: "O autenticador {{.Name}} já está registrado",
		CodeSchemeUnsupported:      "O esquema {{.Scheme}} não suporta {{.Operation}}",

		// Storage errors
		CodeNotFound: "O recurso solicitado não foi encontrado",

		CodeUnknown: "Ocorreu um erro inesperado",
	},
}
