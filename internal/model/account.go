package model

import "time"

// Account links a User to an identity at an external OAuth provider.
// One user may have several accounts (one per provider).
type Account struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	Type              string     `json:"type"` // "oauth"
	Provider          string     `json:"provider"`
	ProviderAccountID string     `json:"providerAccountId"`
	AccessToken       string     `json:"-"`
	RefreshToken      string     `json:"-"`
	ExpiresAt         *time.Time `json:"-"`
	TokenType         string     `json:"-"`
	Scope             string     `json:"-"`
	IDToken           string     `json:"-"`
	SessionState      string     `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
}
