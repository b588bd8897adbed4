package bolt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

// FindByID returns the user with the given ID.
func (s *Store) FindByID(ctx context.Context, id string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.db == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	var record userRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket(bucketUsers).Get(userKey(id))
		if payload == nil {
			return serializer.ErrNotFound
		}
		if err := cbor.Unmarshal(payload, &record); err != nil {
			return fmt.Errorf("unmarshal user: %w", err)
		}
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return recordToUser(record), nil
}

// FindByUID returns the user whose email or username matches uid. Lookups
// fold case the same way registration does.
func (s *Store) FindByUID(ctx context.Context, uid string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.db == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	uid = strings.ToLower(strings.TrimSpace(uid))
	if uid == "" {
		return user.User{}, fmt.Errorf("uid is required")
	}

	var record userRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		userID := tx.Bucket(bucketUsersByEmail).Get([]byte(uid))
		if userID == nil {
			userID = tx.Bucket(bucketUsersByUsername).Get([]byte(uid))
		}
		if userID == nil {
			return serializer.ErrNotFound
		}
		payload := tx.Bucket(bucketUsers).Get(userID)
		if payload == nil {
			return serializer.ErrNotFound
		}
		if err := cbor.Unmarshal(payload, &record); err != nil {
			return fmt.Errorf("unmarshal user: %w", err)
		}
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return recordToUser(record), nil
}

// ValidateCredentials checks the password against the stored hash. The hash
// is re-read from storage so a stale caller-held record cannot bypass a
// password change.
func (s *Store) ValidateCredentials(ctx context.Context, u user.User, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	stored, err := s.FindByID(ctx, u.ID)
	if err != nil {
		if errors.Is(err, serializer.ErrNotFound) {
			return user.ErrInvalidCredentials
		}
		return err
	}
	return user.ComparePassword(stored.PasswordHash, password)
}

// PutUser inserts or updates a user record and keeps the email and username
// indexes in step. The creation timestamp of an existing record is preserved.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user email is required")
	}

	record := userRecord{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Locale:       u.Locale,
		CreatedAt:    u.CreatedAt.UTC(),
		UpdatedAt:    u.UpdatedAt.UTC(),
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		byEmail := tx.Bucket(bucketUsersByEmail)
		byUsername := tx.Bucket(bucketUsersByUsername)

		if owner := byEmail.Get([]byte(u.Email)); owner != nil && string(owner) != u.ID {
			return serializer.ErrUserExists
		}
		if u.Username != "" {
			if owner := byUsername.Get([]byte(u.Username)); owner != nil && string(owner) != u.ID {
				return serializer.ErrUserExists
			}
		}

		if existing := users.Get(userKey(u.ID)); existing != nil {
			var old userRecord
			if err := cbor.Unmarshal(existing, &old); err != nil {
				return fmt.Errorf("unmarshal user: %w", err)
			}
			record.CreatedAt = old.CreatedAt
			if old.Email != u.Email {
				if err := byEmail.Delete([]byte(old.Email)); err != nil {
					return fmt.Errorf("drop email index: %w", err)
				}
			}
			if old.Username != "" && old.Username != u.Username {
				if err := byUsername.Delete([]byte(old.Username)); err != nil {
					return fmt.Errorf("drop username index: %w", err)
				}
			}
		}

		payload, err := cbor.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}
		if err := users.Put(userKey(u.ID), payload); err != nil {
			return fmt.Errorf("put user: %w", err)
		}
		if err := byEmail.Put([]byte(u.Email), []byte(u.ID)); err != nil {
			return fmt.Errorf("index email: %w", err)
		}
		if u.Username != "" {
			if err := byUsername.Put([]byte(u.Username), []byte(u.ID)); err != nil {
				return fmt.Errorf("index username: %w", err)
			}
		}
		return nil
	})
}

// ListUsers returns a page of user records ordered by ID.
func (s *Store) ListUsers(ctx context.Context, pageSize int, pageToken string) (serializer.UserPage, error) {
	if err := ctx.Err(); err != nil {
		return serializer.UserPage{}, err
	}
	if s == nil || s.db == nil {
		return serializer.UserPage{}, fmt.Errorf("storage is not configured")
	}
	if pageSize <= 0 {
		return serializer.UserPage{}, fmt.Errorf("page size must be greater than zero")
	}

	page := serializer.UserPage{Users: make([]user.User, 0, pageSize)}
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketUsers).Cursor()

		var key, payload []byte
		if pageToken == "" {
			key, payload = cursor.First()
		} else {
			key, payload = cursor.Seek([]byte(pageToken))
			if string(key) == pageToken {
				key, payload = cursor.Next()
			}
		}

		for ; key != nil; key, payload = cursor.Next() {
			if len(page.Users) >= pageSize {
				page.NextPageToken = page.Users[pageSize-1].ID
				break
			}
			var record userRecord
			if err := cbor.Unmarshal(payload, &record); err != nil {
				return fmt.Errorf("unmarshal user: %w", err)
			}
			page.Users = append(page.Users, recordToUser(record))
		}
		return nil
	})
	if err != nil {
		return serializer.UserPage{}, err
	}
	return page, nil
}

func recordToUser(record userRecord) user.User {
	return user.User{
		ID:           record.ID,
		Email:        record.Email,
		Username:     record.Username,
		PasswordHash: record.PasswordHash,
		Locale:       record.Locale,
		CreatedAt:    record.CreatedAt.UTC(),
		UpdatedAt:    record.UpdatedAt.UTC(),
	}
}
