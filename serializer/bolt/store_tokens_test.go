package bolt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/gatehouse/serializer"
)

func TestTokenRoundTrip(t *testing.T) {
	store := openTempStore(t)

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	token := serializer.Token{
		Hash:      serializer.HashToken("gh_secret"),
		UserID:    "user-1",
		Kind:      serializer.KindAPI,
		Name:      "ci deploy",
		CreatedAt: created,
		ExpiresAt: created.Add(24 * time.Hour),
	}
	if err := store.SaveToken(context.Background(), token); err != nil {
		t.Fatalf("save token: %v", err)
	}

	got, err := store.FindToken(context.Background(), token.Hash, serializer.KindAPI)
	if err != nil {
		t.Fatalf("find token: %v", err)
	}
	if got.UserID != "user-1" || got.Name != "ci deploy" {
		t.Fatalf("unexpected token: %+v", got)
	}
	if !got.ExpiresAt.Equal(token.ExpiresAt) {
		t.Fatalf("expires at = %v, want %v", got.ExpiresAt, token.ExpiresAt)
	}

	// Kinds namespace the key, so a lookup under another kind misses.
	if _, err := store.FindToken(context.Background(), token.Hash, serializer.KindRemember); !errors.Is(err, serializer.ErrNotFound) {
		t.Fatalf("expected not found for kind mismatch, got %v", err)
	}
}

func TestTokenWithoutExpiryRoundTrip(t *testing.T) {
	store := openTempStore(t)

	token := serializer.Token{
		Hash:      "hash-1",
		UserID:    "user-1",
		Kind:      serializer.KindAPI,
		CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.SaveToken(context.Background(), token); err != nil {
		t.Fatalf("save token: %v", err)
	}

	got, err := store.FindToken(context.Background(), "hash-1", serializer.KindAPI)
	if err != nil {
		t.Fatalf("find token: %v", err)
	}
	if !got.ExpiresAt.IsZero() {
		t.Fatalf("expected zero expiry, got %v", got.ExpiresAt)
	}
}

func TestListTokensNewestFirst(t *testing.T) {
	store := openTempStore(t)

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	revoked := base.Add(time.Minute)
	seed := []serializer.Token{
		{Hash: "hash-old", UserID: "user-1", Kind: serializer.KindAPI, CreatedAt: base},
		{Hash: "hash-new", UserID: "user-1", Kind: serializer.KindAPI, CreatedAt: base.Add(time.Hour)},
		{Hash: "hash-revoked", UserID: "user-1", Kind: serializer.KindAPI, CreatedAt: base, RevokedAt: &revoked},
		{Hash: "hash-other-kind", UserID: "user-1", Kind: serializer.KindRemember, CreatedAt: base},
		{Hash: "hash-other-user", UserID: "user-2", Kind: serializer.KindAPI, CreatedAt: base},
	}
	for _, token := range seed {
		if err := store.SaveToken(context.Background(), token); err != nil {
			t.Fatalf("save token %s: %v", token.Hash, err)
		}
	}

	tokens, err := store.ListTokens(context.Background(), "user-1", serializer.KindAPI)
	if err != nil {
		t.Fatalf("list tokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].Hash != "hash-new" || tokens[1].Hash != "hash-old" {
		t.Fatalf("unexpected order: %s, %s", tokens[0].Hash, tokens[1].Hash)
	}
}

func TestRevokeTokensListedAndInverse(t *testing.T) {
	store := openTempStore(t)

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for _, hash := range []string{"hash-1", "hash-2", "hash-3"} {
		if err := store.SaveToken(context.Background(), serializer.Token{
			Hash:      hash,
			UserID:    "user-1",
			Kind:      serializer.KindAPI,
			CreatedAt: base,
		}); err != nil {
			t.Fatalf("save token: %v", err)
		}
	}

	revokedAt := base.Add(time.Hour)
	if err := store.RevokeTokens(context.Background(), "user-1", serializer.KindAPI, []string{"hash-1"}, false, revokedAt); err != nil {
		t.Fatalf("revoke listed: %v", err)
	}
	got, err := store.FindToken(context.Background(), "hash-1", serializer.KindAPI)
	if err != nil {
		t.Fatalf("find token: %v", err)
	}
	if !got.Revoked() || !got.RevokedAt.Equal(revokedAt) {
		t.Fatalf("expected revocation at %v, got %+v", revokedAt, got.RevokedAt)
	}

	if err := store.RevokeTokens(context.Background(), "user-1", serializer.KindAPI, []string{"hash-2"}, true, revokedAt); err != nil {
		t.Fatalf("revoke inverse: %v", err)
	}
	remaining, err := store.ListTokens(context.Background(), "user-1", serializer.KindAPI)
	if err != nil {
		t.Fatalf("list tokens: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Hash != "hash-2" {
		t.Fatalf("expected only hash-2 active, got %+v", remaining)
	}
}

func TestRevokeTokensEmptyListNoOp(t *testing.T) {
	store := openTempStore(t)

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.SaveToken(context.Background(), serializer.Token{
		Hash:      "hash-1",
		UserID:    "user-1",
		Kind:      serializer.KindAPI,
		CreatedAt: base,
	}); err != nil {
		t.Fatalf("save token: %v", err)
	}

	if err := store.RevokeTokens(context.Background(), "user-1", serializer.KindAPI, nil, false, base.Add(time.Hour)); err != nil {
		t.Fatalf("revoke tokens: %v", err)
	}

	got, err := store.FindToken(context.Background(), "hash-1", serializer.KindAPI)
	if err != nil {
		t.Fatalf("find token: %v", err)
	}
	if got.Revoked() {
		t.Fatal("token revoked by empty no-op call")
	}
}

func TestDeleteExpiredTokens(t *testing.T) {
	store := openTempStore(t)

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	seed := []serializer.Token{
		{Hash: "hash-expired", UserID: "user-1", Kind: serializer.KindAPI, CreatedAt: base, ExpiresAt: base.Add(time.Hour)},
		{Hash: "hash-live", UserID: "user-1", Kind: serializer.KindAPI, CreatedAt: base, ExpiresAt: base.Add(48 * time.Hour)},
		{Hash: "hash-forever", UserID: "user-1", Kind: serializer.KindRemember, CreatedAt: base},
	}
	for _, token := range seed {
		if err := store.SaveToken(context.Background(), token); err != nil {
			t.Fatalf("save token %s: %v", token.Hash, err)
		}
	}

	if err := store.DeleteExpiredTokens(context.Background(), base.Add(24*time.Hour)); err != nil {
		t.Fatalf("delete expired tokens: %v", err)
	}

	if _, err := store.FindToken(context.Background(), "hash-expired", serializer.KindAPI); !errors.Is(err, serializer.ErrNotFound) {
		t.Fatalf("expected expired token deleted, got %v", err)
	}
	if _, err := store.FindToken(context.Background(), "hash-live", serializer.KindAPI); err != nil {
		t.Fatalf("live token should survive: %v", err)
	}
	if _, err := store.FindToken(context.Background(), "hash-forever", serializer.KindRemember); err != nil {
		t.Fatalf("token without expiry should survive: %v", err)
	}
}
