package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/scheme"
	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

type fakeSerializer struct {
	users     map[string]user.User
	passwords map[string]string
}

func newFakeSerializer() *fakeSerializer {
	return &fakeSerializer{
		users:     make(map[string]user.User),
		passwords: make(map[string]string),
	}
}

func (f *fakeSerializer) add(u user.User, password string) {
	f.users[u.ID] = u
	f.passwords[u.ID] = password
}

func (f *fakeSerializer) FindByID(_ context.Context, id string) (user.User, error) {
	u, ok := f.users[id]
	if !ok {
		return user.User{}, serializer.ErrNotFound
	}
	return u, nil
}

func (f *fakeSerializer) FindByUID(_ context.Context, uid string) (user.User, error) {
	for _, u := range f.users {
		if u.Email == uid || (u.Username != "" && u.Username == uid) {
			return u, nil
		}
	}
	return user.User{}, serializer.ErrNotFound
}

func (f *fakeSerializer) ValidateCredentials(_ context.Context, u user.User, password string) error {
	if f.passwords[u.ID] != password || password == "" {
		return user.ErrInvalidCredentials
	}
	return nil
}

func (f *fakeSerializer) PutUser(_ context.Context, u user.User) error {
	f.users[u.ID] = u
	return nil
}

func (f *fakeSerializer) ListUsers(_ context.Context, _ int, _ string) (serializer.UserPage, error) {
	var page serializer.UserPage
	for _, u := range f.users {
		page.Users = append(page.Users, u)
	}
	sort.Slice(page.Users, func(i, j int) bool { return page.Users[i].ID < page.Users[j].ID })
	return page, nil
}

type fakeTokenSerializer struct {
	*fakeSerializer
	tokens map[string]serializer.Token
}

func newFakeTokenSerializer() *fakeTokenSerializer {
	return &fakeTokenSerializer{
		fakeSerializer: newFakeSerializer(),
		tokens:         make(map[string]serializer.Token),
	}
}

func (f *fakeTokenSerializer) SaveToken(_ context.Context, t serializer.Token) error {
	f.tokens[t.Hash] = t
	return nil
}

func (f *fakeTokenSerializer) FindToken(_ context.Context, hash string, kind string) (serializer.Token, error) {
	t, ok := f.tokens[hash]
	if !ok || t.Kind != kind {
		return serializer.Token{}, serializer.ErrNotFound
	}
	return t, nil
}

func (f *fakeTokenSerializer) ListTokens(_ context.Context, userID string, kind string) ([]serializer.Token, error) {
	var out []serializer.Token
	for _, t := range f.tokens {
		if t.UserID == userID && t.Kind == kind && !t.Revoked() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTokenSerializer) RevokeTokens(_ context.Context, userID string, kind string, hashes []string, inverse bool, revokedAt time.Time) error {
	match := func(hash string) bool {
		for _, h := range hashes {
			if h == hash {
				return true
			}
		}
		return false
	}
	for hash, t := range f.tokens {
		if t.UserID != userID || t.Kind != kind {
			continue
		}
		if match(hash) != inverse {
			t.RevokedAt = &revokedAt
			f.tokens[hash] = t
		}
	}
	return nil
}

func (f *fakeTokenSerializer) DeleteExpiredTokens(_ context.Context, now time.Time) error {
	for hash, t := range f.tokens {
		if t.Expired(now) {
			delete(f.tokens, hash)
		}
	}
	return nil
}

type fakeStore struct {
	sessions map[string]Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]Session)}
}

func (f *fakeStore) PutSession(_ context.Context, s Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return Session{}, serializer.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) RevokeSession(_ context.Context, id string, revokedAt time.Time) error {
	s, ok := f.sessions[id]
	if !ok {
		return serializer.ErrNotFound
	}
	s.RevokedAt = &revokedAt
	f.sessions[id] = s
	return nil
}

func (f *fakeStore) DeleteExpiredSessions(_ context.Context, now time.Time) error {
	for id, s := range f.sessions {
		if !s.ExpiresAt.After(now) {
			delete(f.sessions, id)
		}
	}
	return nil
}

var testTime = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestScheme(ser serializer.Serializer, store Store) *Scheme {
	s := New(ser, store, Config{})
	s.clock = func() time.Time { return testTime }
	counter := 0
	s.idGenerator = func() (string, error) {
		counter++
		return fmt.Sprintf("sess-%d", counter), nil
	}
	return s
}

func testUser() user.User {
	return user.User{ID: "user-1", Email: "ana@example.com", Username: "ana"}
}

func cookieValue(t *testing.T, rr *httptest.ResponseRecorder, name string) (string, bool) {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c.Value, c.MaxAge >= 0
		}
	}
	return "", false
}

func TestAttempt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		uid      string
		password string
		wantErr  error
	}{
		{name: "valid email", uid: "ana@example.com", password: "secret", wantErr: nil},
		{name: "valid username", uid: "ana", password: "secret", wantErr: nil},
		{name: "wrong password", uid: "ana@example.com", password: "nope", wantErr: user.ErrInvalidCredentials},
		{name: "unknown uid", uid: "ghost@example.com", password: "secret", wantErr: user.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ser := newFakeSerializer()
			ser.add(testUser(), "secret")
			store := newFakeStore()
			s := newTestScheme(ser, store)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/login", nil)

			u, err := s.Attempt(context.Background(), rr, req, tt.uid, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Attempt() error = %v, want %v", err, tt.wantErr)
				}
				if len(store.sessions) != 0 {
					t.Fatalf("sessions stored on failed attempt: %d", len(store.sessions))
				}
				return
			}
			if err != nil {
				t.Fatalf("Attempt() error = %v", err)
			}
			if u.ID != "user-1" {
				t.Fatalf("user ID = %q, want %q", u.ID, "user-1")
			}

			value, _ := cookieValue(t, rr, "gatehouse_session")
			if value == "" {
				t.Fatal("session cookie not set")
			}
			sess, ok := store.sessions[value]
			if !ok {
				t.Fatalf("session %q not stored", value)
			}
			if sess.UserID != "user-1" {
				t.Fatalf("session user = %q, want %q", sess.UserID, "user-1")
			}
			if got, want := sess.ExpiresAt, testTime.Add(DefaultTTL); !got.Equal(want) {
				t.Fatalf("session expiry = %v, want %v", got, want)
			}
		})
	}
}

func TestSessionCookieAttributes(t *testing.T) {
	t.Parallel()

	ser := newFakeSerializer()
	ser.add(testUser(), "secret")
	s := newTestScheme(ser, newFakeStore())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "https://example.com/login", nil)
	req.Header.Set("X-Forwarded-Proto", "https")

	if err := s.Login(context.Background(), rr, req, testUser()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if !c.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if !c.Secure {
		t.Error("cookie should be Secure behind https proxy")
	}
	if c.Path != "/" {
		t.Errorf("cookie path = %q, want %q", c.Path, "/")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie SameSite = %v, want Lax", c.SameSite)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	revoked := testTime.Add(-time.Hour)

	tests := []struct {
		name    string
		cookie  string
		session *Session
		wantErr error
	}{
		{
			name:    "missing cookie",
			wantErr: ErrMissing,
		},
		{
			name:    "unknown session",
			cookie:  "ghost",
			wantErr: ErrInvalid,
		},
		{
			name:    "revoked session",
			cookie:  "sess-1",
			session: &Session{ID: "sess-1", UserID: "user-1", ExpiresAt: testTime.Add(time.Hour), RevokedAt: &revoked},
			wantErr: ErrInvalid,
		},
		{
			name:    "expired session",
			cookie:  "sess-1",
			session: &Session{ID: "sess-1", UserID: "user-1", ExpiresAt: testTime.Add(-time.Minute)},
			wantErr: ErrExpired,
		},
		{
			name:    "expires exactly now",
			cookie:  "sess-1",
			session: &Session{ID: "sess-1", UserID: "user-1", ExpiresAt: testTime},
			wantErr: ErrExpired,
		},
		{
			name:    "valid session",
			cookie:  "sess-1",
			session: &Session{ID: "sess-1", UserID: "user-1", ExpiresAt: testTime.Add(time.Hour)},
		},
		{
			name:    "session user gone",
			cookie:  "sess-2",
			session: &Session{ID: "sess-2", UserID: "deleted", ExpiresAt: testTime.Add(time.Hour)},
			wantErr: ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ser := newFakeSerializer()
			ser.add(testUser(), "secret")
			store := newFakeStore()
			if tt.session != nil {
				store.sessions[tt.session.ID] = *tt.session
			}
			s := newTestScheme(ser, store)

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "gatehouse_session", Value: tt.cookie})
			}

			u, err := s.Check(context.Background(), req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Check() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if u.ID != "user-1" {
				t.Fatalf("user ID = %q, want %q", u.ID, "user-1")
			}
		})
	}
}

func TestLoginWithRemember(t *testing.T) {
	t.Parallel()

	ser := newFakeTokenSerializer()
	ser.add(testUser(), "secret")
	s := newTestScheme(ser, newFakeStore())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)

	if err := s.Login(context.Background(), rr, req, testUser(), scheme.WithRemember()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	secret, _ := cookieValue(t, rr, "gatehouse_remember")
	if secret == "" {
		t.Fatal("remember cookie not set")
	}
	tok, ok := ser.tokens[serializer.HashToken(secret)]
	if !ok {
		t.Fatal("remember token not stored")
	}
	if tok.UserID != "user-1" {
		t.Fatalf("token user = %q, want %q", tok.UserID, "user-1")
	}
	if tok.Kind != serializer.KindRemember {
		t.Fatalf("token kind = %q, want %q", tok.Kind, serializer.KindRemember)
	}
	if got, want := tok.ExpiresAt, testTime.Add(DefaultRememberTTL); !got.Equal(want) {
		t.Fatalf("token expiry = %v, want %v", got, want)
	}
}

func TestLoginWithRememberUnsupported(t *testing.T) {
	t.Parallel()

	ser := newFakeSerializer()
	ser.add(testUser(), "secret")
	s := newTestScheme(ser, newFakeStore())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)

	err := s.Login(context.Background(), rr, req, testUser(), scheme.WithRemember())
	if !apperrors.IsCode(err, apperrors.CodeSchemeUnsupported) {
		t.Fatalf("Login() error = %v, want code %s", err, apperrors.CodeSchemeUnsupported)
	}
}

func TestCheckRememberFallback(t *testing.T) {
	t.Parallel()

	ser := newFakeTokenSerializer()
	ser.add(testUser(), "secret")
	store := newFakeStore()
	s := newTestScheme(ser, store)

	secret := "remember-secret"
	ser.tokens[serializer.HashToken(secret)] = serializer.Token{
		Hash:      serializer.HashToken(secret),
		UserID:    "user-1",
		Kind:      serializer.KindRemember,
		CreatedAt: testTime.Add(-time.Hour),
		ExpiresAt: testTime.Add(time.Hour),
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "gatehouse_remember", Value: secret})

	u, err := s.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if u.ID != "user-1" {
		t.Fatalf("user ID = %q, want %q", u.ID, "user-1")
	}
}

func TestCheckRememberFallbackKeepsCause(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		token   *serializer.Token
		wantErr error
	}{
		{
			name:    "no remember token stored",
			wantErr: ErrMissing,
		},
		{
			name: "expired remember token",
			token: &serializer.Token{
				UserID:    "user-1",
				Kind:      serializer.KindRemember,
				ExpiresAt: testTime.Add(-time.Minute),
			},
			wantErr: ErrMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ser := newFakeTokenSerializer()
			ser.add(testUser(), "secret")
			s := newTestScheme(ser, newFakeStore())

			secret := "remember-secret"
			if tt.token != nil {
				tok := *tt.token
				tok.Hash = serializer.HashToken(secret)
				ser.tokens[tok.Hash] = tok
			}

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.AddCookie(&http.Cookie{Name: "gatehouse_remember", Value: secret})

			_, err := s.Check(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Check() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckRenew(t *testing.T) {
	t.Parallel()

	ser := newFakeTokenSerializer()
	ser.add(testUser(), "secret")
	store := newFakeStore()
	s := newTestScheme(ser, store)

	secret := "remember-secret"
	ser.tokens[serializer.HashToken(secret)] = serializer.Token{
		Hash:      serializer.HashToken(secret),
		UserID:    "user-1",
		Kind:      serializer.KindRemember,
		ExpiresAt: testTime.Add(time.Hour),
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "gatehouse_remember", Value: secret})

	u, err := s.CheckRenew(context.Background(), rr, req)
	if err != nil {
		t.Fatalf("CheckRenew() error = %v", err)
	}
	if u.ID != "user-1" {
		t.Fatalf("user ID = %q, want %q", u.ID, "user-1")
	}

	value, _ := cookieValue(t, rr, "gatehouse_session")
	if value == "" {
		t.Fatal("renewed session cookie not set")
	}
	if _, ok := store.sessions[value]; !ok {
		t.Fatalf("renewed session %q not stored", value)
	}
}

func TestCheckRenewValidSessionNoReissue(t *testing.T) {
	t.Parallel()

	ser := newFakeSerializer()
	ser.add(testUser(), "secret")
	store := newFakeStore()
	store.sessions["sess-1"] = Session{ID: "sess-1", UserID: "user-1", ExpiresAt: testTime.Add(time.Hour)}
	s := newTestScheme(ser, store)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "gatehouse_session", Value: "sess-1"})

	if _, err := s.CheckRenew(context.Background(), rr, req); err != nil {
		t.Fatalf("CheckRenew() error = %v", err)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatalf("got %d cookies, want none for a valid session", len(rr.Result().Cookies()))
	}
	if len(store.sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(store.sessions))
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()

	ser := newFakeTokenSerializer()
	ser.add(testUser(), "secret")
	store := newFakeStore()
	store.sessions["sess-1"] = Session{ID: "sess-1", UserID: "user-1", ExpiresAt: testTime.Add(time.Hour)}
	s := newTestScheme(ser, store)

	secret := "remember-secret"
	ser.tokens[serializer.HashToken(secret)] = serializer.Token{
		Hash:      serializer.HashToken(secret),
		UserID:    "user-1",
		Kind:      serializer.KindRemember,
		ExpiresAt: testTime.Add(time.Hour),
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: "gatehouse_session", Value: "sess-1"})
	req.AddCookie(&http.Cookie{Name: "gatehouse_remember", Value: secret})

	if err := s.Logout(context.Background(), rr, req); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if store.sessions["sess-1"].RevokedAt == nil {
		t.Error("session not revoked")
	}
	if ser.tokens[serializer.HashToken(secret)].RevokedAt == nil {
		t.Error("remember token not revoked")
	}

	cleared := 0
	for _, c := range rr.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared++
		}
	}
	if cleared != 2 {
		t.Fatalf("got %d cleared cookies, want 2", cleared)
	}
}

func TestLogoutWithoutSession(t *testing.T) {
	t.Parallel()

	ser := newFakeSerializer()
	s := newTestScheme(ser, newFakeStore())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)

	if err := s.Logout(context.Background(), rr, req); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
}

func TestLoginViaID(t *testing.T) {
	t.Parallel()

	ser := newFakeSerializer()
	ser.add(testUser(), "secret")
	store := newFakeStore()
	s := newTestScheme(ser, store)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/impersonate", nil)

	u, err := s.LoginViaID(context.Background(), rr, req, "user-1")
	if err != nil {
		t.Fatalf("LoginViaID() error = %v", err)
	}
	if u.ID != "user-1" {
		t.Fatalf("user ID = %q, want %q", u.ID, "user-1")
	}
	if len(store.sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(store.sessions))
	}

	if _, err := s.LoginViaID(context.Background(), rr, req, "ghost"); !errors.Is(err, serializer.ErrNotFound) {
		t.Fatalf("LoginViaID() error = %v, want %v", err, serializer.ErrNotFound)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GATEHOUSE_SESSION_COOKIE", "custom_session")
	t.Setenv("GATEHOUSE_SESSION_TTL", "2h")

	cfg := LoadConfigFromEnv()
	if cfg.CookieName != "custom_session" {
		t.Errorf("CookieName = %q, want %q", cfg.CookieName, "custom_session")
	}
	if cfg.TTL != 2*time.Hour {
		t.Errorf("TTL = %v, want %v", cfg.TTL, 2*time.Hour)
	}
	if cfg.RememberCookieName != "gatehouse_remember" {
		t.Errorf("RememberCookieName = %q, want default", cfg.RememberCookieName)
	}
	if cfg.RememberTTL != DefaultRememberTTL {
		t.Errorf("RememberTTL = %v, want default", cfg.RememberTTL)
	}
}
