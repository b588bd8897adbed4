package bolt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/gatehouse/scheme/session"
	"github.com/louisbranch/gatehouse/serializer"
)

func TestSessionRoundTrip(t *testing.T) {
	store := openTempStore(t)

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	input := session.Session{
		ID:        "sess-1",
		UserID:    "user-1",
		CreatedAt: created,
		ExpiresAt: created.Add(24 * time.Hour),
	}
	if err := store.PutSession(context.Background(), input); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.UserID != "user-1" || !got.ExpiresAt.Equal(input.ExpiresAt) {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.RevokedAt != nil {
		t.Fatal("fresh session reported revoked")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, serializer.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRevokeSessionFirstRevocationWins(t *testing.T) {
	store := openTempStore(t)

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.PutSession(context.Background(), session.Session{
		ID:        "sess-1",
		UserID:    "user-1",
		CreatedAt: created,
		ExpiresAt: created.Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("put session: %v", err)
	}

	first := created.Add(time.Hour)
	if err := store.RevokeSession(context.Background(), "sess-1", first); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	if err := store.RevokeSession(context.Background(), "sess-1", first.Add(time.Hour)); err != nil {
		t.Fatalf("revoke session again: %v", err)
	}

	got, err := store.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.RevokedAt == nil || !got.RevokedAt.Equal(first) {
		t.Fatalf("revoked at = %v, want first revocation %v", got.RevokedAt, first)
	}
}

func TestRevokeSessionNotFound(t *testing.T) {
	store := openTempStore(t)

	err := store.RevokeSession(context.Background(), "missing", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	if !errors.Is(err, serializer.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	store := openTempStore(t)

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	seed := []session.Session{
		{ID: "sess-expired", UserID: "user-1", CreatedAt: created, ExpiresAt: created.Add(time.Hour)},
		{ID: "sess-live", UserID: "user-1", CreatedAt: created, ExpiresAt: created.Add(48 * time.Hour)},
	}
	for _, sess := range seed {
		if err := store.PutSession(context.Background(), sess); err != nil {
			t.Fatalf("put session %s: %v", sess.ID, err)
		}
	}

	if err := store.DeleteExpiredSessions(context.Background(), created.Add(24*time.Hour)); err != nil {
		t.Fatalf("delete expired sessions: %v", err)
	}

	if _, err := store.GetSession(context.Background(), "sess-expired"); !errors.Is(err, serializer.ErrNotFound) {
		t.Fatalf("expected expired session deleted, got %v", err)
	}
	if _, err := store.GetSession(context.Background(), "sess-live"); err != nil {
		t.Fatalf("live session should survive: %v", err)
	}
}
