// Package bolt provides BoltDB-backed auth persistence.
//
// It is the embedded single-file alternative to the sqlite store for
// deployments that want no SQL surface at all. Records are encoded with
// CBOR. Passkeys are not supported; pick the sqlite store when WebAuthn
// is in play.
package bolt

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/louisbranch/gatehouse/scheme/session"
	"github.com/louisbranch/gatehouse/serializer"
)

var (
	bucketUsers           = []byte("users")
	bucketUsersByEmail    = []byte("users_by_email")
	bucketUsersByUsername = []byte("users_by_username")
	bucketTokens          = []byte("tokens")
	bucketSessions        = []byte("sessions")
)

// Store provides BoltDB-backed auth persistence.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketUsers,
			bucketUsersByEmail,
			bucketUsersByUsername,
			bucketTokens,
			bucketSessions,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create %s bucket: %w", bucket, err)
			}
		}
		return nil
	})
}

type userRecord struct {
	ID           string    `cbor:"1,keyasint"`
	Email        string    `cbor:"2,keyasint"`
	Username     string    `cbor:"3,keyasint,omitempty"`
	PasswordHash string    `cbor:"4,keyasint,omitempty"`
	Locale       string    `cbor:"5,keyasint,omitempty"`
	CreatedAt    time.Time `cbor:"6,keyasint"`
	UpdatedAt    time.Time `cbor:"7,keyasint"`
}

type tokenRecord struct {
	Hash      string     `cbor:"1,keyasint"`
	UserID    string     `cbor:"2,keyasint"`
	Kind      string     `cbor:"3,keyasint"`
	Name      string     `cbor:"4,keyasint,omitempty"`
	CreatedAt time.Time  `cbor:"5,keyasint"`
	ExpiresAt time.Time  `cbor:"6,keyasint,omitempty"`
	RevokedAt *time.Time `cbor:"7,keyasint,omitempty"`
}

type sessionRecord struct {
	ID        string     `cbor:"1,keyasint"`
	UserID    string     `cbor:"2,keyasint"`
	CreatedAt time.Time  `cbor:"3,keyasint"`
	ExpiresAt time.Time  `cbor:"4,keyasint"`
	RevokedAt *time.Time `cbor:"5,keyasint,omitempty"`
}

func userKey(id string) []byte {
	return []byte(id)
}

// tokenKey namespaces token hashes by kind so a kind prefix scan covers
// list and cleanup operations.
func tokenKey(kind, hash string) []byte {
	return []byte(kind + "/" + hash)
}

func sessionKey(id string) []byte {
	return []byte(id)
}

var _ serializer.Serializer = (*Store)(nil)
var _ serializer.TokenStore = (*Store)(nil)
var _ session.Store = (*Store)(nil)
