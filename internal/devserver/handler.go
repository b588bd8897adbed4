package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/gatehouse/auth"
	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/internal/platform/httpx"
	"github.com/louisbranch/gatehouse/scheme"
	"github.com/louisbranch/gatehouse/scheme/passkey"
	"github.com/louisbranch/gatehouse/scheme/token"
	"github.com/louisbranch/gatehouse/serializer"
)

// apiAuthenticators is the order in which protected routes resolve
// credentials. Cookies win for browsers; bearer and basic credentials
// cover API clients.
const apiAuthenticators = "session,jwt,api,basic"

// Schemes carries the concrete schemes the handler drives beyond the
// manager's generic operations.
type Schemes struct {
	Tokens   *token.Scheme
	Passkeys *passkey.Scheme
}

type handler struct {
	manager  *auth.Manager
	tokens   *token.Scheme
	passkeys *passkey.Scheme
}

// NewHandler builds the dev server routes over a configured manager.
func NewHandler(manager *auth.Manager, schemes Schemes) (http.Handler, error) {
	if manager == nil {
		return nil, errors.New("authenticator manager is required")
	}

	h := &handler{
		manager:  manager,
		tokens:   schemes.Tokens,
		passkeys: schemes.Passkeys,
	}

	requireUser := manager.Authenticate(apiAuthenticators)

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleIndex)
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/login", manager.Guest("/me")(http.HandlerFunc(h.handleLogin)))
	mux.HandleFunc("/logout", h.handleLogout)
	mux.Handle("/me", requireUser(http.HandlerFunc(h.handleMe)))
	mux.Handle("/tokens", requireUser(http.HandlerFunc(h.handleTokens)))
	mux.HandleFunc("/jwt/login", h.handleJWTLogin)
	mux.HandleFunc("/jwt/refresh", h.handleJWTRefresh)
	mux.Handle("/passkeys/register/start", requireUser(http.HandlerFunc(h.handlePasskeyRegisterStart)))
	mux.Handle("/passkeys/register/finish", requireUser(http.HandlerFunc(h.handlePasskeyRegisterFinish)))
	mux.HandleFunc("/passkeys/login/start", h.handlePasskeyLoginStart)
	mux.HandleFunc("/passkeys/login/finish", h.handlePasskeyLoginFinish)

	return httpx.Chain(mux,
		httpx.RequestID(),
		httpx.RecoverPanic(),
		manager.Init(),
	), nil
}

// handleIndex reports service status at the root path only.
func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload := map[string]any{
		"service":        "gatehouse",
		"authenticators": h.manager.Names(),
	}
	if u, ok := auth.CurrentUser(r.Context()); ok {
		payload["user"] = u.Email
	}
	_ = httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.renderLogin(w, loginView{AppName: appName})
	case http.MethodPost:
		h.handleLoginSubmit(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handler) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}

	uid := strings.TrimSpace(r.FormValue("uid"))
	password := r.FormValue("password")

	var opts []scheme.Option
	if r.FormValue("remember") != "" {
		opts = append(opts, scheme.WithRemember())
	}

	if _, err := h.manager.Handle(w, r).Attempt(uid, password, opts...); err != nil {
		if apperrors.HTTPStatus(err) == http.StatusUnauthorized {
			h.renderLoginError(w, uid)
			return
		}
		httpx.WriteError(w, err)
		return
	}

	http.Redirect(w, r, "/me", http.StatusSeeOther)
}

func (h *handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	handle, ok := auth.FromRequest(r)
	if !ok {
		handle = h.manager.Handle(w, r)
	}
	if err := handle.Logout(); err != nil {
		httpx.WriteError(w, err)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		httpx.WriteJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	payload := map[string]any{
		"id":     u.ID,
		"email":  u.Email,
		"locale": u.Locale,
	}
	if u.Username != "" {
		payload["username"] = u.Username
	}
	if handle, ok := auth.FromRequest(r); ok {
		payload["authenticator"] = handle.Name()
	}
	_ = httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *handler) handleTokens(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleTokenIssue(w, r)
	case http.MethodGet:
		h.handleTokenList(w, r)
	case http.MethodDelete:
		h.handleTokenRevoke(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type tokenIssueRequest struct {
	Name string `json:"name"`
	TTL  string `json:"ttl"`
}

func (h *handler) handleTokenIssue(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		httpx.WriteJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req tokenIssueRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	var opts []scheme.Option
	if name := strings.TrimSpace(req.Name); name != "" {
		opts = append(opts, scheme.WithName(name))
	}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			httpx.WriteJSONError(w, http.StatusBadRequest, "ttl must be a positive duration")
			return
		}
		opts = append(opts, scheme.WithTTL(ttl))
	}

	pair, err := h.manager.Handle(w, r).Authenticator(AuthenticatorAPI).Generate(u, opts...)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, pair)
}

// tokenView is the listing shape for a stored token. The plaintext is
// shown once at issue time and never reconstructed here.
type tokenView struct {
	Name      string     `json:"name,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *handler) handleTokenList(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		httpx.WriteJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tokens, err := h.tokens.ListTokens(r.Context(), u)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"tokens": tokenViews(tokens)})
}

func tokenViews(tokens []serializer.Token) []tokenView {
	views := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		view := tokenView{Name: t.Name, CreatedAt: t.CreatedAt}
		if !t.ExpiresAt.IsZero() {
			expiresAt := t.ExpiresAt
			view.ExpiresAt = &expiresAt
		}
		views = append(views, view)
	}
	return views
}

type tokenRevokeRequest struct {
	Tokens []string `json:"tokens"`
	All    bool     `json:"all"`
}

func (h *handler) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		httpx.WriteJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req tokenRevokeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Tokens) == 0 && !req.All {
		httpx.WriteJSONError(w, http.StatusBadRequest, "tokens or all is required")
		return
	}

	// Revoking all tokens is the inverse of revoking none of them.
	inverse := req.All && len(req.Tokens) == 0
	if err := h.tokens.RevokeTokens(r.Context(), u, req.Tokens, inverse); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type credentialsRequest struct {
	UID      string `json:"uid"`
	Password string `json:"password"`
}

func (h *handler) handleJWTLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	handle := h.manager.Handle(w, r).Authenticator(AuthenticatorJWT)
	u, err := handle.Attempt(req.UID, req.Password)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	pair, err := handle.Generate(u, scheme.WithRefreshToken())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handler) handleJWTRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	pair, err := h.manager.Handle(w, r).Authenticator(AuthenticatorJWT).Refresh(req.RefreshToken)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, pair)
}

// ceremonyResponse carries WebAuthn options to the browser along with
// the ceremony session id expected back on finish.
type ceremonyResponse struct {
	SessionID string          `json:"session_id"`
	Options   json.RawMessage `json:"options"`
}

type ceremonyFinishRequest struct {
	SessionID string          `json:"session_id"`
	Response  json.RawMessage `json:"response"`
}

func (h *handler) handlePasskeyRegisterStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		httpx.WriteJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	options, sessionID, err := h.passkeys.BeginRegistration(r.Context(), u)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, ceremonyResponse{SessionID: sessionID, Options: options})
}

func (h *handler) handlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ceremonyFinishRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	credential, err := h.passkeys.FinishRegistration(r.Context(), req.SessionID, req.Response)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"credential_id": credential.CredentialID,
		"created_at":    credential.CreatedAt,
	})
}

type passkeyLoginStartRequest struct {
	UserID string `json:"user_id"`
}

func (h *handler) handlePasskeyLoginStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req passkeyLoginStartRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	options, sessionID, err := h.passkeys.BeginLogin(r.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, ceremonyResponse{SessionID: sessionID, Options: options})
}

// handlePasskeyLoginFinish validates the assertion and opens a cookie
// session for the resolved user, so the browser leaves the ceremony in
// the same state a password login would have produced.
func (h *handler) handlePasskeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ceremonyFinishRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	u, err := h.passkeys.FinishLogin(r.Context(), req.SessionID, req.Response)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.manager.Handle(w, r).Login(u); err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"id":    u.ID,
		"email": u.Email,
	})
}

func (h *handler) renderLogin(w http.ResponseWriter, view loginView) {
	if err := templates.ExecuteTemplate(w, "login.html", view); err != nil {
		http.Error(w, "failed to render login", http.StatusInternalServerError)
	}
}

func (h *handler) renderLoginError(w http.ResponseWriter, uid string) {
	w.WriteHeader(http.StatusUnauthorized)
	_ = templates.ExecuteTemplate(w, "login.html", loginView{
		AppName: appName,
		UID:     uid,
		Error:   "invalid email or password",
	})
}

// decodeJSONBody decodes an optional JSON body into dst. It writes a
// 400 and reports false when the body is present but malformed.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}
