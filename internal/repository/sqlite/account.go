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

var _ repository.AccountRepository = (*DB)(nil)

// CreateAccount links an OAuth identity to a user. A second link for the
// same (provider, providerAccountId) pair is a Conflict.
func (db *DB) CreateAccount(ctx context.Context, a *model.Account) error {
	a.ID = xid.New().String()
	a.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, type, provider, provider_account_id,
			access_token, refresh_token, expires_at, token_type, scope,
			id_token, session_state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.UserID,
		a.Type,
		a.Provider,
		a.ProviderAccountID,
		a.AccessToken,
		a.RefreshToken,
		toMillis(a.ExpiresAt),
		a.TokenType,
		a.Scope,
		a.IDToken,
		a.SessionState,
		a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", a.Provider+":"+a.ProviderAccountID)
		}
		return fmt.Errorf("sqlite: inserting account for user %s: %w", a.UserID, err)
	}
	return nil
}

func (db *DB) GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (*model.Account, error) {
	var (
		a         model.Account
		expiresAt sql.NullInt64
		createdAt int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, type, provider, provider_account_id,
			access_token, refresh_token, expires_at, token_type, scope,
			id_token, session_state, created_at
		 FROM accounts
		 WHERE provider = ? AND provider_account_id = ?`,
		provider, providerAccountID,
	).Scan(
		&a.ID,
		&a.UserID,
		&a.Type,
		&a.Provider,
		&a.ProviderAccountID,
		&a.AccessToken,
		&a.RefreshToken,
		&expiresAt,
		&a.TokenType,
		&a.Scope,
		&a.IDToken,
		&a.SessionState,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("account", provider+":"+providerAccountID)
		}
		return nil, fmt.Errorf("sqlite: getting %s account: %w", provider, err)
	}
	a.ExpiresAt = fromMillis(expiresAt)
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &a, nil
}

// DeleteAccountsByUser removes every linked identity of userID and returns
// how many were removed. Zero is not an error.
func (db *DB) DeleteAccountsByUser(ctx context.Context, userID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM accounts WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting accounts of user %s: %w", userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
