package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/user"
)

const userColumns = "id, email, username, password_hash, locale, created_at, updated_at"

// FindByID returns the user with the given ID.
func (s *Store) FindByID(ctx context.Context, id string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, serializer.ErrNotFound
		}
		return user.User{}, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

// FindByUID returns the user whose email or username matches uid. Both are
// stored lowercase, so the lookup folds case the same way registration does.
func (s *Store) FindByUID(ctx context.Context, uid string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	uid = strings.ToLower(strings.TrimSpace(uid))
	if uid == "" {
		return user.User{}, fmt.Errorf("uid is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?1 OR (username <> '' AND username = ?1)", uid)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, serializer.ErrNotFound
		}
		return user.User{}, fmt.Errorf("find user by uid: %w", err)
	}
	return u, nil
}

// ValidateCredentials checks the password against the stored hash. The hash
// is re-read from storage so a stale caller-held record cannot bypass a
// password change.
func (s *Store) ValidateCredentials(ctx context.Context, u user.User, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
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

// PutUser inserts or updates a user record. The creation timestamp of an
// existing record is preserved.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, email, username, password_hash, locale, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    email = excluded.email,
    username = excluded.username,
    password_hash = excluded.password_hash,
    locale = excluded.locale,
    updated_at = excluded.updated_at
`,
		u.ID,
		u.Email,
		u.Username,
		u.PasswordHash,
		u.Locale,
		toMillis(u.CreatedAt),
		toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isUserUniqueViolation(err) {
			return serializer.ErrUserExists
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// isUserUniqueViolation detects the UNIQUE constraints on users.email and
// the partial username index. ID conflicts never reach here; the insert
// upserts on them.
func isUserUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") && strings.Contains(message, "users.")
}

// ListUsers returns a page of user records ordered by ID.
func (s *Store) ListUsers(ctx context.Context, pageSize int, pageToken string) (serializer.UserPage, error) {
	if err := ctx.Err(); err != nil {
		return serializer.UserPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return serializer.UserPage{}, fmt.Errorf("storage is not configured")
	}
	if pageSize <= 0 {
		return serializer.UserPage{}, fmt.Errorf("page size must be greater than zero")
	}

	query := "SELECT " + userColumns + " FROM users ORDER BY id LIMIT ?"
	args := []any{pageSize + 1}
	if pageToken != "" {
		query = "SELECT " + userColumns + " FROM users WHERE id > ? ORDER BY id LIMIT ?"
		args = []any{pageToken, pageSize + 1}
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return serializer.UserPage{}, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	page := serializer.UserPage{Users: make([]user.User, 0, pageSize)}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return serializer.UserPage{}, fmt.Errorf("list users: %w", err)
		}
		if len(page.Users) >= pageSize {
			page.NextPageToken = page.Users[pageSize-1].ID
			break
		}
		page.Users = append(page.Users, u)
	}
	if err := rows.Err(); err != nil {
		return serializer.UserPage{}, fmt.Errorf("list users: %w", err)
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (user.User, error) {
	var u user.User
	var createdAt int64
	var updatedAt int64
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Locale, &createdAt, &updatedAt); err != nil {
		return user.User{}, err
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}
