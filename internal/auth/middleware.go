package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/snippet-keeper/internal/apperror"
	"github.com/sakif/snippet-keeper/internal/model"
)

// SessionCookie is the name of the HttpOnly cookie carrying the session JWT.
const SessionCookie = "token"

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue accepts any key. With a plain string like "claims", any
// package that knows the string can read or shadow the value. Only this
// package can create a contextKey, so only this package can read or write
// session claims in the context.
type contextKey string

const claimsKey contextKey = "claims"

// UserLookup loads the current state of a user. repository.UserRepository
// satisfies it.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Sessions issues and reads the session cookie.
type Sessions struct {
	tokens       *TokenService
	users        UserLookup
	refreshAfter time.Duration
	secure       bool
	logger       *slog.Logger
}

// NewSessions wires the session middleware. refreshAfter is the longest a
// token's claims are trusted before the user is re-read from the store; zero
// disables refreshing. secure sets the cookie's Secure attribute.
func NewSessions(tokens *TokenService, users UserLookup, refreshAfter time.Duration, secure bool, logger *slog.Logger) *Sessions {
	return &Sessions{
		tokens:       tokens,
		users:        users,
		refreshAfter: refreshAfter,
		secure:       secure,
		logger:       logger,
	}
}

// Start issues a session for u and sets the cookie.
func (s *Sessions) Start(w http.ResponseWriter, u *model.User) (string, error) {
	token, err := s.tokens.Issue(u.ID, u.Name, u.IsAdmin, u.IsVerified)
	if err != nil {
		return "", err
	}
	s.Set(w, token)
	return token, nil
}

// Set stores an already issued session token in the cookie.
//
// COOKIE-BASED TOKEN STORAGE:
// HttpOnly means JavaScript cannot read the cookie, so an XSS bug cannot
// steal the session.
func (s *Sessions) Set(w http.ResponseWriter, token string) {
	s.setCookie(w, token, int(SessionTTL.Seconds()))
}

// End clears the session cookie.
func (s *Sessions) End(w http.ResponseWriter) {
	s.setCookie(w, "", -1)
}

func (s *Sessions) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Authenticate reads the session cookie and, if it holds a valid token,
// stores the claims in the request context. It never rejects a request;
// RequireAuth does that.
//
// REFRESH:
// Once a token is older than refreshAfter, the user is re-read. A deleted
// user loses the session on the spot. Otherwise a new token with the
// current name, admin flag and verification flag replaces the cookie,
// keeping the original expiry. A
// store failure keeps the old claims so an outage does not log everyone out.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns a new one that wraps it.
// Chi applies them in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func (s *Sessions) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			// No cookie: anonymous request.
			next.ServeHTTP(w, r)
			return
		}

		claims, err := s.tokens.Parse(cookie.Value)
		if err != nil {
			s.End(w)
			next.ServeHTTP(w, r)
			return
		}

		if s.stale(claims) {
			claims = s.refresh(w, r, claims)
		}

		if claims != nil {
			r = r.WithContext(context.WithValue(r.Context(), claimsKey, claims))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Sessions) stale(c *Claims) bool {
	if s.refreshAfter <= 0 || c.IssuedAt == nil {
		return false
	}
	return time.Since(c.IssuedAt.Time) >= s.refreshAfter
}

// refresh returns the claims to use for this request, or nil if the session
// should be dropped.
func (s *Sessions) refresh(w http.ResponseWriter, r *http.Request, c *Claims) *Claims {
	u, err := s.users.GetUserByID(r.Context(), c.UserID())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("session dropped, user no longer exists", "user_id", c.UserID())
			s.End(w)
			return nil
		}
		s.logger.Warn("session refresh failed, keeping existing claims", "user_id", c.UserID(), "error", err)
		return c
	}

	token, err := s.reissue(w, u, c)
	if err != nil {
		s.logger.Error("reissuing session token", "user_id", u.ID, "error", err)
		return c
	}
	fresh, err := s.tokens.Parse(token)
	if err != nil {
		return c
	}
	return fresh
}

// reissue signs u's current claims with the expiry of c. A refreshed session
// still ends SessionTTL after sign-in.
func (s *Sessions) reissue(w http.ResponseWriter, u *model.User, c *Claims) (string, error) {
	remaining := time.Until(c.ExpiresAt.Time)
	token, err := s.tokens.IssueWithTTL(u.ID, u.Name, u.IsAdmin, u.IsVerified, remaining)
	if err != nil {
		return "", err
	}
	s.setCookie(w, token, max(int(remaining.Seconds()), 1))
	return token, nil
}

// RequireAuth rejects requests without session claims with 401.
// Place it after Authenticate.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ClaimsFromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"error":"unauthorized","message":"valid authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClaimsFromContext returns the session claims set by Authenticate.
//
// Usage in handlers:
//
//	claims, ok := auth.ClaimsFromContext(r.Context())
//	if !ok {
//	    // anonymous user
//	}
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// UserIDFromContext is a shorthand for the subject of the session claims.
func UserIDFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", false
	}
	return c.UserID(), true
}

// WithClaims returns a copy of ctx carrying c. Handler tests use it to
// simulate an authenticated request without a cookie.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}
