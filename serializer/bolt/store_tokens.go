package bolt

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/louisbranch/gatehouse/serializer"
)

// SaveToken inserts a token record.
func (s *Store) SaveToken(ctx context.Context, t serializer.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(t.Hash) == "" {
		return fmt.Errorf("token hash is required")
	}
	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(t.Kind) == "" {
		return fmt.Errorf("token kind is required")
	}

	record := tokenRecord{
		Hash:      t.Hash,
		UserID:    t.UserID,
		Kind:      t.Kind,
		Name:      t.Name,
		CreatedAt: t.CreatedAt.UTC(),
		RevokedAt: t.RevokedAt,
	}
	if !t.ExpiresAt.IsZero() {
		record.ExpiresAt = t.ExpiresAt.UTC()
	}

	payload, err := cbor.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketTokens).Put(tokenKey(t.Kind, t.Hash), payload); err != nil {
			return fmt.Errorf("put token: %w", err)
		}
		return nil
	})
}

// FindToken returns the token with the given hash and kind regardless of its
// expiry or revocation state.
func (s *Store) FindToken(ctx context.Context, hash string, kind string) (serializer.Token, error) {
	if err := ctx.Err(); err != nil {
		return serializer.Token{}, err
	}
	if s == nil || s.db == nil {
		return serializer.Token{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(hash) == "" {
		return serializer.Token{}, fmt.Errorf("token hash is required")
	}

	var record tokenRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket(bucketTokens).Get(tokenKey(kind, hash))
		if payload == nil {
			return serializer.ErrNotFound
		}
		if err := cbor.Unmarshal(payload, &record); err != nil {
			return fmt.Errorf("unmarshal token: %w", err)
		}
		return nil
	})
	if err != nil {
		return serializer.Token{}, err
	}
	return recordToToken(record), nil
}

// ListTokens returns the non-revoked tokens of one kind for a user, newest
// first.
func (s *Store) ListTokens(ctx context.Context, userID string, kind string) ([]serializer.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	tokens := make([]serializer.Token, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketTokens).Cursor()
		prefix := []byte(kind + "/")
		for key, payload := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, payload = cursor.Next() {
			var record tokenRecord
			if err := cbor.Unmarshal(payload, &record); err != nil {
				return fmt.Errorf("unmarshal token: %w", err)
			}
			if record.UserID != userID || record.RevokedAt != nil {
				continue
			}
			tokens = append(tokens, recordToToken(record))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tokens, func(i, j int) bool {
		if !tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
		}
		return tokens[i].Hash < tokens[j].Hash
	})
	return tokens, nil
}

// RevokeTokens marks the listed tokens revoked. With inverse set, every token
// of the kind except the listed ones is revoked instead.
func (s *Store) RevokeTokens(ctx context.Context, userID string, kind string, hashes []string, inverse bool, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if len(hashes) == 0 && !inverse {
		return nil
	}

	listed := make(map[string]bool, len(hashes))
	for _, hash := range hashes {
		listed[hash] = true
	}
	revokedValue := revokedAt.UTC()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTokens)
		cursor := bucket.Cursor()
		prefix := []byte(kind + "/")

		type pending struct {
			key     []byte
			payload []byte
		}
		var updates []pending
		for key, payload := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, payload = cursor.Next() {
			var record tokenRecord
			if err := cbor.Unmarshal(payload, &record); err != nil {
				return fmt.Errorf("unmarshal token: %w", err)
			}
			if record.UserID != userID || record.RevokedAt != nil {
				continue
			}
			if listed[record.Hash] == inverse {
				continue
			}
			record.RevokedAt = &revokedValue
			updated, err := cbor.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshal token: %w", err)
			}
			updates = append(updates, pending{key: append([]byte(nil), key...), payload: updated})
		}

		for _, update := range updates {
			if err := bucket.Put(update.key, update.payload); err != nil {
				return fmt.Errorf("put token: %w", err)
			}
		}
		return nil
	})
}

// DeleteExpiredTokens removes tokens whose expiry has passed.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTokens)
		cursor := bucket.Cursor()

		var expired [][]byte
		for key, payload := cursor.First(); key != nil; key, payload = cursor.Next() {
			var record tokenRecord
			if err := cbor.Unmarshal(payload, &record); err != nil {
				return fmt.Errorf("unmarshal token: %w", err)
			}
			if recordToToken(record).Expired(now) {
				expired = append(expired, append([]byte(nil), key...))
			}
		}

		for _, key := range expired {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("delete token: %w", err)
			}
		}
		return nil
	})
}

func recordToToken(record tokenRecord) serializer.Token {
	t := serializer.Token{
		Hash:      record.Hash,
		UserID:    record.UserID,
		Kind:      record.Kind,
		Name:      record.Name,
		CreatedAt: record.CreatedAt.UTC(),
		RevokedAt: record.RevokedAt,
	}
	if !record.ExpiresAt.IsZero() {
		t.ExpiresAt = record.ExpiresAt.UTC()
	}
	return t
}
