// Package auth provides session tokens, password hashing, OAuth providers,
// single-use email tokens and the route guard.
//
// SESSION FLOW OVERVIEW:
//  1. The user signs in with credentials (POST /api/auth/login) or through an
//     OAuth provider (/auth/{provider}/login → /auth/{provider}/callback)
//  2. The server issues a signed JWT carrying the user's id, name, admin flag
//     and verification flag, and stores it in an HttpOnly cookie
//  3. On every later request, Authenticate reads the cookie, validates the
//     JWT and puts the claims in the request context
//
// WHY JWT?
// The session is stateless: everything the server needs to identify the
// caller is inside the signed token, so no session table is required. The
// HMAC signature means nobody can change the claims without the secret.
//
// The trade-off is staleness. A token issued before the user was deleted or
// verified still says otherwise until it is refreshed. Authenticate bounds
// that window by re-reading the user once the token is older than the
// configured refresh interval.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionTTL is the lifetime of a session token.
	SessionTTL = 24 * time.Hour

	issuer = "snippet-keeper"
)

// ErrTokenExpired is returned by Parse for a well-formed token past its expiry.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService signs and verifies session tokens with one HMAC secret.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// Claims is the session payload. "sub" carries the internal user ID.
type Claims struct {
	Name       string `json:"name"`
	IsAdmin    bool   `json:"isAdmin"`
	IsVerified bool   `json:"isVerified"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// Issue signs a session token for the given identity, valid for SessionTTL.
func (s *TokenService) Issue(userID, name string, isAdmin, isVerified bool) (string, error) {
	return s.IssueWithTTL(userID, name, isAdmin, isVerified, SessionTTL)
}

// IssueWithTTL is Issue with a custom lifetime. Tests use it to mint
// already-expired tokens.
func (s *TokenService) IssueWithTTL(userID, name string, isAdmin, isVerified bool, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		Name:       name,
		IsAdmin:    isAdmin,
		IsVerified: isVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies a session token and returns its claims. The token must be
// HS256, signed with this service's secret, carry our issuer and an expiry,
// and name a subject. Expired tokens yield ErrTokenExpired so callers can
// tell them apart from forged or malformed ones.
func (s *TokenService) Parse(tokenStr string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(tokenStr, &c, s.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	case c.Subject == "":
		return nil, errors.New("auth: token has no subject")
	}
	return &c, nil
}

// key is the jwt.Keyfunc. WithValidMethods already pins the algorithm; the
// HMAC check keeps "none" and RSA tokens out even if that option is dropped.
func (s *TokenService) key(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
	}
	return s.secret, nil
}
