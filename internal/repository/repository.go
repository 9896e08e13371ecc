// Package repository declares the storage contracts used by the service layer.
//
// Every method is atomic on its own. Nothing here promises atomicity across
// calls, which is why token consumption is a single conditional operation
// (ConsumeVerificationToken, ConsumeResetToken) rather than a lookup followed
// by an update.
package repository

import (
	"context"
	"time"

	"github.com/sakif/snippet-keeper/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository is the credential store.
type UserRepository interface {
	// CreateUser inserts u, filling ID and timestamps. A taken email yields
	// apperror.ErrDuplicateEmail.
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// GetUserByToken finds the user whose token column for kind equals token.
	GetUserByToken(ctx context.Context, kind model.TokenKind, token string) (*model.User, error)
	// TokenInUse reports whether any user holds token in either token column.
	TokenInUse(ctx context.Context, token string) (bool, error)
	// SetToken overwrites the token and expiry for kind on the given user.
	SetToken(ctx context.Context, userID string, kind model.TokenKind, token string, expires time.Time) error
	// ConsumeVerificationToken marks the holder of an unexpired token as
	// verified and clears the token, in one statement. Returns
	// apperror.ErrNotFound when no user holds an unexpired match.
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	// ConsumeResetToken stores passwordHash for the holder of an unexpired
	// reset token and clears the token, in one statement.
	ConsumeResetToken(ctx context.Context, token, passwordHash string, now time.Time) (*model.User, error)
	UpdateProfile(ctx context.Context, u *model.User) error
	DeleteUser(ctx context.Context, id string) error
}

// AccountRepository stores linked OAuth identities.
type AccountRepository interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (*model.Account, error)
	DeleteAccountsByUser(ctx context.Context, userID string) (int64, error)
}

type SnippetRepository interface {
	CreateSnippet(ctx context.Context, snippet *model.Snippet) error
	GetSnippet(ctx context.Context, id string) (*model.Snippet, error)
	ListSnippetsByUser(ctx context.Context, userID string, opts ListOptions) ([]model.Snippet, error)
	CountSnippetsByUser(ctx context.Context, userID string) (int, error)
	UpdateSnippet(ctx context.Context, snippet *model.Snippet) error
	DeleteSnippet(ctx context.Context, id string) error
	DeleteSnippetsByUser(ctx context.Context, userID string) (int64, error)
}
