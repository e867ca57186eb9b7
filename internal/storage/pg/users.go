package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lib/pq"

	"github.com/growplant/growplant/internal/domain"
	internal_errors "github.com/growplant/growplant/internal/errors"
)

const statementTimeout = 5 * time.Second

// uniqueViolation is the postgres error code raised when the users_email_key
// constraint rejects a duplicate email.
const uniqueViolation = "23505"

// =========================================================================
// Public methods (satisfy the service.AccountStorage interface)
// =========================================================================

// SaveUser inserts a new user row and returns its id. A duplicate email is
// reported as a 409 so concurrent signups for the same address stay safe.
func (s *Storage) SaveUser(user domain.User) (domain.UserId, error) {
	ctx, cancel := context.WithTimeout(context.Background(), statementTimeout)
	defer cancel()

	var id domain.UserId
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.saveUser(tx, user)
		return err
	})
	return id, err
}

// User fetches a user by email. Read-only, uses the pool directly.
func (s *Storage) User(email domain.Email) (domain.User, error) {
	return s.user(s.db, "email = $1", email)
}

// UserById fetches a user by primary key. Activation and reset links carry
// the encoded id, not the email.
func (s *Storage) UserById(id domain.UserId) (domain.User, error) {
	return s.user(s.db, "id = $1", id)
}

// Activate flips is_active to true. Re-applying it to an already active
// user is harmless, which keeps concurrent activation clicks safe.
func (s *Storage) Activate(id domain.UserId) error {
	ctx, cancel := context.WithTimeout(context.Background(), statementTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.exec(tx, "UPDATE users SET is_active = TRUE WHERE id = $1", id)
	})
}

// UpdatePassword stores a new password hash for the user.
func (s *Storage) UpdatePassword(id domain.UserId, passHash string) error {
	ctx, cancel := context.WithTimeout(context.Background(), statementTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.exec(tx, "UPDATE users SET password_hash = $1 WHERE id = $2", passHash, id)
	})
}

// UpdateProfile stores the user-editable profile fields.
func (s *Storage) UpdateProfile(id domain.UserId, profile domain.Profile) error {
	ctx, cancel := context.WithTimeout(context.Background(), statementTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.exec(tx, "UPDATE users SET first_name = $1, last_name = $2 WHERE id = $3",
			profile.FirstName, profile.LastName, id)
	})
}

// UpdateLastLogin records a successful login. last_login participates in the
// reset-token fingerprint, so this also invalidates outstanding reset links.
func (s *Storage) UpdateLastLogin(id domain.UserId, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), statementTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.exec(tx, "UPDATE users SET last_login = $1 WHERE id = $2", at.UTC(), id)
	})
}

// DeleteUser removes a user account.
func (s *Storage) DeleteUser(email domain.Email) error {
	ctx, cancel := context.WithTimeout(context.Background(), statementTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.exec(tx, "DELETE FROM users WHERE email = $1", email)
	})
}

// =========================================================================
// Internal methods (core database logic, transaction-agnostic)
// =========================================================================

func (s *Storage) saveUser(q Querier, user domain.User) (domain.UserId, error) {
	var id domain.UserId
	err := q.QueryRow(`
        INSERT INTO users(email, password_hash, first_name, last_name, is_active, is_staff, is_superuser)
        VALUES($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		user.Email, user.PassHash, user.FirstName, user.LastName, user.Active, user.Staff, user.Superuser).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return -1, &internal_errors.ErrorWithStatusCode{Message: "Email already registered", StatusCode: http.StatusConflict}
		}
		return -1, fmt.Errorf("failed to insert user: %w", err)
	}
	return id, nil
}

func (s *Storage) user(q Querier, where string, arg any) (domain.User, error) {
	var user domain.User
	var lastLogin sql.NullTime
	err := q.QueryRow(`
        SELECT id, email, password_hash, first_name, last_name, is_active, is_staff, is_superuser, created_at, last_login
        FROM users WHERE `+where, arg).
		Scan(&user.Id, &user.Email, &user.PassHash, &user.FirstName, &user.LastName,
			&user.Active, &user.Staff, &user.Superuser, &user.CreatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, &internal_errors.ErrorWithStatusCode{Message: "User not found", StatusCode: http.StatusNotFound}
		}
		return domain.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	if lastLogin.Valid {
		user.LastLogin = lastLogin.Time
	}
	return user, nil
}

// exec runs an UPDATE/DELETE that must touch exactly one user row.
func (s *Storage) exec(q Querier, query string, args ...any) error {
	result, err := q.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return &internal_errors.ErrorWithStatusCode{Message: "User not found", StatusCode: http.StatusNotFound}
	}
	return nil
}
