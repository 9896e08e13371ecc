package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// TokenChecker reports whether a candidate token is already held by some
// user. repository.UserRepository satisfies it.
type TokenChecker interface {
	TokenInUse(ctx context.Context, token string) (bool, error)
}

// TokenGenerator mints the opaque single-use tokens sent by email.
//
// A token is a random (version 4) UUID. A collision is astronomically
// unlikely, but the store is still asked before a token is handed out, and
// a taken value simply triggers another draw. The loop has no attempt cap;
// it stops on success, a store error, or cancellation of ctx.
type TokenGenerator struct {
	store TokenChecker
	newID func() (uuid.UUID, error)
}

func NewTokenGenerator(store TokenChecker) *TokenGenerator {
	return &TokenGenerator{store: store, newID: uuid.NewRandom}
}

// Generate returns a token that no user currently holds in either token
// column.
func (g *TokenGenerator) Generate(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("auth: generating token: %w", err)
		}

		id, err := g.newID()
		if err != nil {
			return "", fmt.Errorf("auth: reading randomness: %w", err)
		}
		token := id.String()

		taken, err := g.store.TokenInUse(ctx, token)
		if err != nil {
			return "", fmt.Errorf("auth: checking token uniqueness: %w", err)
		}
		if !taken {
			return token, nil
		}
	}
}
