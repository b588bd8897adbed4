package bolt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/louisbranch/gatehouse/scheme/session"
	"github.com/louisbranch/gatehouse/serializer"
)

// PutSession inserts or updates a web session record.
func (s *Store) PutSession(ctx context.Context, sess session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(sess.UserID) == "" {
		return fmt.Errorf("user id is required")
	}

	record := sessionRecord{
		ID:        sess.ID,
		UserID:    sess.UserID,
		CreatedAt: sess.CreatedAt.UTC(),
		ExpiresAt: sess.ExpiresAt.UTC(),
		RevokedAt: sess.RevokedAt,
	}
	payload, err := cbor.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketSessions).Put(sessionKey(sess.ID), payload); err != nil {
			return fmt.Errorf("put session: %w", err)
		}
		return nil
	})
}

// GetSession fetches a web session record.
func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	if s == nil || s.db == nil {
		return session.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return session.Session{}, fmt.Errorf("session id is required")
	}

	var record sessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket(bucketSessions).Get(sessionKey(id))
		if payload == nil {
			return serializer.ErrNotFound
		}
		if err := cbor.Unmarshal(payload, &record); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		return nil
	})
	if err != nil {
		return session.Session{}, err
	}
	return recordToSession(record), nil
}

// RevokeSession marks a session revoked. The first revocation time wins.
func (s *Store) RevokeSession(ctx context.Context, id string, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		payload := bucket.Get(sessionKey(id))
		if payload == nil {
			return serializer.ErrNotFound
		}

		var record sessionRecord
		if err := cbor.Unmarshal(payload, &record); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		if record.RevokedAt != nil {
			return nil
		}
		value := revokedAt.UTC()
		record.RevokedAt = &value

		updated, err := cbor.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		if err := bucket.Put(sessionKey(id), updated); err != nil {
			return fmt.Errorf("put session: %w", err)
		}
		return nil
	})
}

// DeleteExpiredSessions removes sessions whose expiry has passed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		cursor := bucket.Cursor()

		var expired [][]byte
		for key, payload := cursor.First(); key != nil; key, payload = cursor.Next() {
			var record sessionRecord
			if err := cbor.Unmarshal(payload, &record); err != nil {
				return fmt.Errorf("unmarshal session: %w", err)
			}
			if !record.ExpiresAt.After(now) {
				expired = append(expired, append([]byte(nil), key...))
			}
		}

		for _, key := range expired {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
		}
		return nil
	})
}

func recordToSession(record sessionRecord) session.Session {
	return session.Session{
		ID:        record.ID,
		UserID:    record.UserID,
		CreatedAt: record.CreatedAt.UTC(),
		ExpiresAt: record.ExpiresAt.UTC(),
		RevokedAt: record.RevokedAt,
	}
}
