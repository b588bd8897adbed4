package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/gatehouse/scheme/passkey"
	"github.com/louisbranch/gatehouse/serializer"
)

// PutPasskeyCredential stores a WebAuthn credential.
func (s *Store) PutPasskeyCredential(ctx context.Context, credential passkey.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO passkeys (credential_id, user_id, credential_json, created_at, updated_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(credential_id) DO UPDATE SET
    user_id = excluded.user_id,
    credential_json = excluded.credential_json,
    updated_at = excluded.updated_at,
    last_used_at = excluded.last_used_at
`,
		credential.CredentialID,
		credential.UserID,
		credential.CredentialJSON,
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		optionalMillis(credential.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("put passkey: %w", err)
	}
	return nil
}

// GetPasskeyCredential fetches a stored WebAuthn credential.
func (s *Store) GetPasskeyCredential(ctx context.Context, credentialID string) (passkey.Credential, error) {
	if err := ctx.Err(); err != nil {
		return passkey.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return passkey.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return passkey.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT credential_id, user_id, credential_json, created_at, updated_at, last_used_at FROM passkeys WHERE credential_id = ?",
		credentialID)
	credential, err := scanPasskeyCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return passkey.Credential{}, serializer.ErrNotFound
		}
		return passkey.Credential{}, fmt.Errorf("get passkey: %w", err)
	}
	return credential, nil
}

// ListPasskeyCredentials returns passkeys for a user.
func (s *Store) ListPasskeyCredentials(ctx context.Context, userID string) ([]passkey.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT credential_id, user_id, credential_json, created_at, updated_at, last_used_at FROM passkeys WHERE user_id = ? ORDER BY created_at, credential_id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	defer rows.Close()

	credentials := make([]passkey.Credential, 0)
	for rows.Next() {
		credential, err := scanPasskeyCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("list passkeys: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	return credentials, nil
}

// DeletePasskeyCredential removes a passkey credential.
func (s *Store) DeletePasskeyCredential(ctx context.Context, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, "DELETE FROM passkeys WHERE credential_id = ?", credentialID)
	if err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	return nil
}

// PutPasskeySession stores a WebAuthn ceremony session.
func (s *Store) PutPasskeySession(ctx context.Context, sess passkey.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(sess.Kind) == "" {
		return fmt.Errorf("session kind is required")
	}
	if strings.TrimSpace(sess.SessionJSON) == "" {
		return fmt.Errorf("session json is required")
	}

	userID := sql.NullString{}
	if strings.TrimSpace(sess.UserID) != "" {
		userID = sql.NullString{String: sess.UserID, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO passkey_sessions (id, kind, user_id, session_json, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    kind = excluded.kind,
    user_id = excluded.user_id,
    session_json = excluded.session_json,
    expires_at = excluded.expires_at
`,
		sess.ID,
		sess.Kind,
		userID,
		sess.SessionJSON,
		toMillis(sess.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put passkey session: %w", err)
	}
	return nil
}

// GetPasskeySession fetches a WebAuthn ceremony session.
func (s *Store) GetPasskeySession(ctx context.Context, id string) (passkey.Session, error) {
	if err := ctx.Err(); err != nil {
		return passkey.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return passkey.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return passkey.Session{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, kind, user_id, session_json, expires_at FROM passkey_sessions WHERE id = ?", id)

	var sess passkey.Session
	var userID sql.NullString
	var expiresAt int64
	if err := row.Scan(&sess.ID, &sess.Kind, &userID, &sess.SessionJSON, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return passkey.Session{}, serializer.ErrNotFound
		}
		return passkey.Session{}, fmt.Errorf("get passkey session: %w", err)
	}
	if userID.Valid {
		sess.UserID = userID.String
	}
	sess.ExpiresAt = fromMillis(expiresAt)
	return sess, nil
}

// DeletePasskeySession removes a WebAuthn ceremony session.
func (s *Store) DeletePasskeySession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, "DELETE FROM passkey_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete passkey session: %w", err)
	}
	return nil
}

// DeleteExpiredPasskeySessions removes expired ceremony sessions.
func (s *Store) DeleteExpiredPasskeySessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM passkey_sessions WHERE expires_at <= ?", toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired passkey sessions: %w", err)
	}
	return nil
}

func scanPasskeyCredential(row rowScanner) (passkey.Credential, error) {
	var credential passkey.Credential
	var createdAt int64
	var updatedAt int64
	var lastUsedAt sql.NullInt64
	if err := row.Scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.CredentialJSON,
		&createdAt,
		&updatedAt,
		&lastUsedAt,
	); err != nil {
		return passkey.Credential{}, err
	}
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	if lastUsedAt.Valid {
		value := fromMillis(lastUsedAt.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}
