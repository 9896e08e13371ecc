package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/snippet-keeper/internal/apperror"
	"github.com/sakif/snippet-keeper/internal/model"
	"github.com/sakif/snippet-keeper/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, name, email, image, password_hash, is_verified, is_admin,
	verification_token, verification_token_expires,
	forgot_password_token, forgot_password_token_expires,
	created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                           model.User
		passwordHash                sql.NullString
		verifyToken, resetToken     sql.NullString
		verifyExpires, resetExpires sql.NullInt64
		createdAt, updatedAt        int64
	)
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Image,
		&passwordHash,
		&u.IsVerified,
		&u.IsAdmin,
		&verifyToken,
		&verifyExpires,
		&resetToken,
		&resetExpires,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	u.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	u.PasswordHash = fromNullString(passwordHash)
	u.VerificationToken = fromNullString(verifyToken)
	u.VerificationTokenExpires = fromMillis(verifyExpires)
	u.ForgotPasswordToken = fromNullString(resetToken)
	u.ForgotPasswordTokenExpires = fromMillis(resetExpires)
	return &u, nil
}

// tokenColumns maps a token kind to its (token, expiry) column pair.
// The returned names are constants and safe to splice into SQL.
func tokenColumns(kind model.TokenKind) (string, string, error) {
	switch kind {
	case model.TokenVerification:
		return "verification_token", "verification_token_expires", nil
	case model.TokenReset:
		return "forgot_password_token", "forgot_password_token_expires", nil
	}
	return "", "", fmt.Errorf("sqlite: unknown token kind %q", kind)
}

// CreateUser inserts a new user. The ID and both timestamps are generated
// here and written back into u.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	u.ID = xid.New().String()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.Name,
		u.Email,
		u.Image,
		toNullString(u.PasswordHash),
		u.IsVerified,
		u.IsAdmin,
		toNullString(u.VerificationToken),
		toMillis(u.VerificationTokenExpires),
		toNullString(u.ForgotPasswordToken),
		toMillis(u.ForgotPasswordTokenExpires),
		u.CreatedAt.UnixMilli(),
		u.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.DuplicateEmail(u.Email)
		}
		return fmt.Errorf("sqlite: inserting user (email=%s): %w", u.Email, err)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail matches case-insensitively (the column is COLLATE NOCASE).
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

func (db *DB) GetUserByToken(ctx context.Context, kind model.TokenKind, token string) (*model.User, error) {
	tokenCol, _, err := tokenColumns(kind)
	if err != nil {
		return nil, err
	}
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+tokenCol+` = ?`, token,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound(string(kind)+" token", token)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s token: %w", kind, err)
	}
	return u, nil
}

func (db *DB) TokenInUse(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM users
			WHERE verification_token = ? OR forgot_password_token = ?
		)`,
		token, token,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking token uniqueness: %w", err)
	}
	return exists, nil
}

// SetToken replaces whatever token of this kind the user held before, so
// at most one is ever active.
func (db *DB) SetToken(ctx context.Context, userID string, kind model.TokenKind, token string, expires time.Time) error {
	tokenCol, expiresCol, err := tokenColumns(kind)
	if err != nil {
		return err
	}
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET `+tokenCol+` = ?, `+expiresCol+` = ?, updated_at = ?
		 WHERE id = ?`,
		token,
		expires.UnixMilli(),
		time.Now().UnixMilli(),
		userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting %s token for user %s: %w", kind, userID, err)
	}
	return requireAffected(result, "user", userID)
}

// ConsumeVerificationToken verifies the user and clears the token in one
// UPDATE ... RETURNING. Two concurrent calls with the same token cannot
// both match, since the first one nulls the column the second filters on.
func (db *DB) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`UPDATE users
		 SET is_verified = 1,
		     verification_token = NULL,
		     verification_token_expires = NULL,
		     updated_at = ?
		 WHERE verification_token = ? AND verification_token_expires >= ?
		 RETURNING `+userColumns,
		now.UnixMilli(),
		token,
		now.UnixMilli(),
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("verification token", token)
		}
		return nil, fmt.Errorf("sqlite: consuming verification token: %w", err)
	}
	return u, nil
}

// ConsumeResetToken is the reset-token counterpart of
// ConsumeVerificationToken. It writes the new hash in the same statement.
func (db *DB) ConsumeResetToken(ctx context.Context, token, passwordHash string, now time.Time) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`UPDATE users
		 SET password_hash = ?,
		     forgot_password_token = NULL,
		     forgot_password_token_expires = NULL,
		     updated_at = ?
		 WHERE forgot_password_token = ? AND forgot_password_token_expires >= ?
		 RETURNING `+userColumns,
		passwordHash,
		now.UnixMilli(),
		token,
		now.UnixMilli(),
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("reset token", token)
		}
		return nil, fmt.Errorf("sqlite: consuming reset token: %w", err)
	}
	return u, nil
}

// UpdateProfile writes the mutable profile fields (name, image).
func (db *DB) UpdateProfile(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET name = ?, image = ?, updated_at = ? WHERE id = ?`,
		u.Name,
		u.Image,
		u.UpdatedAt.UnixMilli(),
		u.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", u.ID, err)
	}
	return requireAffected(result, "user", u.ID)
}

func (db *DB) DeleteUser(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}
	return requireAffected(result, "user", id)
}

// requireAffected turns "zero rows changed" into a NotFound error.
func requireAffected(result sql.Result, resource, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

