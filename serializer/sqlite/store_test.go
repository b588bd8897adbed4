package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/louisbranch/gatehouse/errors"
	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatehouse.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func putTestUser(t *testing.T, store *Store, id string, email string) user.User {
	t.Helper()
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	u := user.User{
		ID:        id,
		Email:     email,
		Locale:    user.DefaultLocale,
		CreatedAt: created,
		UpdatedAt: created,
	}
	if err := store.PutUser(context.Background(), u); err != nil {
		t.Fatalf("put user: %v", err)
	}
	return u
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreDBNilSafe(t *testing.T) {
	var store *Store
	if store.DB() != nil {
		t.Fatal("expected nil DB for nil store")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
}

func TestOpenReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatehouse.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	putTestUser(t, store, "user-1", "ana@example.com")
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.FindByID(context.Background(), "user-1"); err != nil {
		t.Fatalf("find user after reopen: %v", err)
	}
}

func TestPutFindUserRoundTrip(t *testing.T) {
	store := openTempStore(t)

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	input := user.User{
		ID:           "user-1",
		Email:        "ana@example.com",
		Username:     "ana",
		PasswordHash: "hash",
		Locale:       "pt-BR",
		CreatedAt:    created,
		UpdatedAt:    created.Add(time.Hour),
	}
	if err := store.PutUser(context.Background(), input); err != nil {
		t.Fatalf("put user: %v", err)
	}

	got, err := store.FindByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if got.Email != input.Email || got.Username != input.Username || got.Locale != input.Locale {
		t.Fatalf("unexpected user: %+v", got)
	}
	if !got.CreatedAt.Equal(input.CreatedAt) || !got.UpdatedAt.Equal(input.UpdatedAt) {
		t.Fatalf("timestamps differ: %+v", got)
	}
}

func TestPutUserUpdatePreservesCreatedAt(t *testing.T) {
	store := openTempStore(t)
	original := putTestUser(t, store, "user-1", "ana@example.com")

	updated := original
	updated.Email = "ana@example.net"
	updated.CreatedAt = original.CreatedAt.Add(48 * time.Hour)
	updated.UpdatedAt = original.CreatedAt.Add(48 * time.Hour)
	if err := store.PutUser(context.Background(), updated); err != nil {
		t.Fatalf("update user: %v", err)
	}

	got, err := store.FindByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if got.Email != "ana@example.net" {
		t.Fatalf("email = %q, want updated value", got.Email)
	}
	if !got.CreatedAt.Equal(original.CreatedAt) {
		t.Fatalf("created at rewritten to %v", got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(updated.UpdatedAt) {
		t.Fatalf("updated at = %v", got.UpdatedAt)
	}
}

func TestPutUserValidation(t *testing.T) {
	store := openTempStore(t)

	if err := store.PutUser(context.Background(), user.User{ID: " ", Email: "a@example.com"}); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if err := store.PutUser(context.Background(), user.User{ID: "user-1", Email: " "}); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func TestPutUserRejectsTakenIdentifiers(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "ana@example.com")
	if err := store.PutUser(context.Background(), user.User{
		ID:       "user-2",
		Email:    "bo@example.com",
		Username: "bo",
	}); err != nil {
		t.Fatalf("put user: %v", err)
	}

	err := store.PutUser(context.Background(), user.User{
		ID:    "user-3",
		Email: "ana@example.com",
	})
	if !errors.Is(err, serializer.ErrUserExists) {
		t.Fatalf("taken email error = %v, want %v", err, serializer.ErrUserExists)
	}
	if got := apperrors.GetCode(err); got != apperrors.CodeUserAlreadyExists {
		t.Fatalf("taken email code = %q, want %q", got, apperrors.CodeUserAlreadyExists)
	}

	err = store.PutUser(context.Background(), user.User{
		ID:       "user-3",
		Email:    "carla@example.com",
		Username: "bo",
	})
	if !errors.Is(err, serializer.ErrUserExists) {
		t.Fatalf("taken username error = %v, want %v", err, serializer.ErrUserExists)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.FindByID(context.Background(), "missing")
	if !errors.Is(err, serializer.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindByUID(t *testing.T) {
	store := openTempStore(t)

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.PutUser(context.Background(), user.User{
		ID:        "user-1",
		Email:     "ana@example.com",
		Username:  "ana",
		CreatedAt: created,
		UpdatedAt: created,
	}); err != nil {
		t.Fatalf("put user: %v", err)
	}

	tests := []struct {
		name    string
		uid     string
		wantID  string
		wantErr error
	}{
		{name: "by email", uid: "ana@example.com", wantID: "user-1"},
		{name: "by username", uid: "ana", wantID: "user-1"},
		{name: "case folded", uid: "Ana@Example.COM", wantID: "user-1"},
		{name: "unknown", uid: "nobody", wantErr: serializer.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FindByUID(context.Background(), tt.uid)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("FindByUID() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindByUID() error = %v", err)
			}
			if got.ID != tt.wantID {
				t.Fatalf("FindByUID() = %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}

func TestFindByUIDEmptyUsernameNotMatchable(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "ana@example.com")

	_, err := store.FindByUID(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for empty uid")
	}
}

func TestValidateCredentials(t *testing.T) {
	store := openTempStore(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	stored := user.User{
		ID:           "user-1",
		Email:        "ana@example.com",
		PasswordHash: string(hash),
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if err := store.PutUser(context.Background(), stored); err != nil {
		t.Fatalf("put user: %v", err)
	}

	if err := store.ValidateCredentials(context.Background(), stored, "s3cret"); err != nil {
		t.Fatalf("validate credentials: %v", err)
	}
	if err := store.ValidateCredentials(context.Background(), stored, "wrong"); !errors.Is(err, user.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := store.ValidateCredentials(context.Background(), user.User{ID: "ghost"}, "s3cret"); !errors.Is(err, user.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for missing user, got %v", err)
	}
}

func TestValidateCredentialsReadsStoredHash(t *testing.T) {
	store := openTempStore(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("new-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.PutUser(context.Background(), user.User{
		ID:           "user-1",
		Email:        "ana@example.com",
		PasswordHash: string(hash),
		CreatedAt:    created,
		UpdatedAt:    created,
	}); err != nil {
		t.Fatalf("put user: %v", err)
	}

	// A stale record carrying an old hash must not validate old passwords.
	stale := user.User{ID: "user-1", PasswordHash: "stale"}
	if err := store.ValidateCredentials(context.Background(), stale, "new-password"); err != nil {
		t.Fatalf("validate credentials: %v", err)
	}
}

func TestListUsersPagination(t *testing.T) {
	store := openTempStore(t)

	for _, id := range []string{"user-1", "user-2", "user-3"} {
		putTestUser(t, store, id, id+"@example.com")
	}

	page, err := store.ListUsers(context.Background(), 2, "")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(page.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(page.Users))
	}
	if page.NextPageToken == "" {
		t.Fatal("expected next page token")
	}

	second, err := store.ListUsers(context.Background(), 2, page.NextPageToken)
	if err != nil {
		t.Fatalf("list users page 2: %v", err)
	}
	if len(second.Users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(second.Users))
	}
	if second.NextPageToken != "" {
		t.Fatalf("expected empty next page token, got %s", second.NextPageToken)
	}
	if second.Users[0].ID != "user-3" {
		t.Fatalf("unexpected user on page 2: %s", second.Users[0].ID)
	}
}

func TestListUsersRequiresPageSize(t *testing.T) {
	store := openTempStore(t)

	if _, err := store.ListUsers(context.Background(), 0, ""); err == nil {
		t.Fatal("expected error for zero page size")
	}
}

func TestCanceledContextRejected(t *testing.T) {
	store := openTempStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.FindByID(ctx, "user-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if err := store.PutUser(ctx, user.User{ID: "user-1", Email: "a@example.com"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
