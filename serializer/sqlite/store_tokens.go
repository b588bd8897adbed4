package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/gatehouse/serializer"
)

const tokenColumns = "hash, user_id, kind, name, created_at, expires_at, revoked_at"

// SaveToken inserts a token record.
func (s *Store) SaveToken(ctx context.Context, t serializer.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
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

	var expiresAt sql.NullInt64
	if !t.ExpiresAt.IsZero() {
		expiresAt = sql.NullInt64{Int64: toMillis(t.ExpiresAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO tokens (hash, user_id, kind, name, created_at, expires_at, revoked_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		t.Hash,
		t.UserID,
		t.Kind,
		t.Name,
		toMillis(t.CreatedAt),
		expiresAt,
		optionalMillis(t.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// FindToken returns the token with the given hash and kind regardless of its
// expiry or revocation state.
func (s *Store) FindToken(ctx context.Context, hash string, kind string) (serializer.Token, error) {
	if err := ctx.Err(); err != nil {
		return serializer.Token{}, err
	}
	if s == nil || s.sqlDB == nil {
		return serializer.Token{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(hash) == "" {
		return serializer.Token{}, fmt.Errorf("token hash is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE hash = ? AND kind = ?", hash, kind)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return serializer.Token{}, serializer.ErrNotFound
		}
		return serializer.Token{}, fmt.Errorf("find token: %w", err)
	}
	return t, nil
}

// ListTokens returns the non-revoked tokens of one kind for a user, newest
// first.
func (s *Store) ListTokens(ctx context.Context, userID string, kind string) ([]serializer.Token, error) {
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
		"SELECT "+tokenColumns+" FROM tokens WHERE user_id = ? AND kind = ? AND revoked_at IS NULL ORDER BY created_at DESC, hash",
		userID, kind)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]serializer.Token, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("list tokens: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// RevokeTokens marks the listed tokens revoked. With inverse set, every token
// of the kind except the listed ones is revoked instead.
func (s *Store) RevokeTokens(ctx context.Context, userID string, kind string, hashes []string, inverse bool, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if len(hashes) == 0 && !inverse {
		return nil
	}

	query := "UPDATE tokens SET revoked_at = ? WHERE user_id = ? AND kind = ? AND revoked_at IS NULL"
	args := []any{toMillis(revokedAt), userID, kind}
	if len(hashes) > 0 {
		op := "IN"
		if inverse {
			op = "NOT IN"
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
		query += fmt.Sprintf(" AND hash %s (%s)", op, placeholders)
		for _, hash := range hashes {
			args = append(args, hash)
		}
	}

	if _, err := s.sqlDB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	return nil
}

// DeleteExpiredTokens removes tokens whose expiry has passed.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM tokens WHERE expires_at IS NOT NULL AND expires_at <= ?", toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired tokens: %w", err)
	}
	return nil
}

func scanToken(row rowScanner) (serializer.Token, error) {
	var t serializer.Token
	var createdAt int64
	var expiresAt sql.NullInt64
	var revokedAt sql.NullInt64
	if err := row.Scan(&t.Hash, &t.UserID, &t.Kind, &t.Name, &createdAt, &expiresAt, &revokedAt); err != nil {
		return serializer.Token{}, err
	}
	t.CreatedAt = fromMillis(createdAt)
	if expiresAt.Valid {
		t.ExpiresAt = fromMillis(expiresAt.Int64)
	}
	if revokedAt.Valid {
		value := fromMillis(revokedAt.Int64)
		t.RevokedAt = &value
	}
	return t, nil
}
