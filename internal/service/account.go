// Account lifecycle business logic.
//
// AccountService owns every state transition of a user record:
//
//	register ─► unverified ──verify──► verified ──delete──► gone
//	                │                      │
//	                └──login (expired)─────┤ resend / reset
//	                   re-sends mail       ▼
//	                                 password reset
//
// It sits between the HTTP handlers and the stores:
//
//	AuthHandler (HTTP) → AccountService → UserRepository / AccountRepository / SnippetRepository
//	                                    ↘ Mailer, MediaStore, EventPublisher
//
// Single-use tokens are consumed by one conditional store operation
// (ConsumeVerificationToken, ConsumeResetToken), never by a read followed by
// a write, so two requests racing on the same token cannot both succeed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/snippet-keeper/internal/apperror"
	"github.com/sakif/snippet-keeper/internal/auth"
	"github.com/sakif/snippet-keeper/internal/model"
	"github.com/sakif/snippet-keeper/internal/repository"
	"golang.org/x/oauth2"
)

// TokenLifetime is the default time a verification or reset token stays
// usable.
const TokenLifetime = time.Hour

// Subjects published on the event bus.
const (
	EventAccountRegistered    = "account.registered"
	EventAccountVerified      = "account.verified"
	EventAccountPasswordReset = "account.password_reset"
	EventAccountDeleted       = "account.deleted"
)

// Mailer delivers the email for a freshly issued token.
type Mailer interface {
	Send(ctx context.Context, to string, kind model.TokenKind, token string) error
}

// MediaStore holds user avatars. ref is the URL stored in User.Image.
// Owns reports whether ref points at an object in the store.
type MediaStore interface {
	Delete(ctx context.Context, ref string) error
	Owns(ref string) bool
}

// EventPublisher announces lifecycle transitions to other services.
// Publishing is best-effort: a failure is logged, never returned.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// AccountEvent is the payload of every account.* event.
type AccountEvent struct {
	UserID string    `json:"userId"`
	Email  string    `json:"email"`
	At     time.Time `json:"at"`
}

// RegisterParams is the input of Register.
type RegisterParams struct {
	Email    string
	Password string
	Name     string
	Image    string // optional avatar URL, already uploaded
}

// AuthResult bundles the user record and the issued session token so the
// handler can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// ResetTokenStatus is the answer of ValidateResetToken.
type ResetTokenStatus struct {
	Valid   bool `json:"isValid"`
	Expired bool `json:"isExpired"`
}

// AccountService handles account lifecycle operations.
//
// DEPENDENCIES (injected via NewAccountService):
//   - users, accounts, snippets → the credential and content stores
//   - tokens    → unique single-use email tokens
//   - passwords → bcrypt hashing
//   - sessions  → JWT issuance
//   - mailer, media, events → outbound collaborators
type AccountService struct {
	users     repository.UserRepository
	accounts  repository.AccountRepository
	snippets  repository.SnippetRepository
	tokens    *auth.TokenGenerator
	passwords *auth.PasswordService
	sessions  *auth.TokenService
	mailer    Mailer
	media     MediaStore
	events    EventPublisher
	logger    *slog.Logger
	tokenTTL  time.Duration
	now       func() time.Time
}

// AccountDeps groups the collaborators of AccountService.
type AccountDeps struct {
	Users     repository.UserRepository
	Accounts  repository.AccountRepository
	Snippets  repository.SnippetRepository
	Passwords *auth.PasswordService
	Sessions  *auth.TokenService
	Mailer    Mailer
	Media     MediaStore
	Events    EventPublisher
	Logger    *slog.Logger
	// TokenTTL overrides TokenLifetime when positive.
	TokenTTL time.Duration
}

func NewAccountService(d AccountDeps) *AccountService {
	ttl := d.TokenTTL
	if ttl <= 0 {
		ttl = TokenLifetime
	}
	return &AccountService{
		users:     d.Users,
		accounts:  d.Accounts,
		snippets:  d.Snippets,
		tokens:    auth.NewTokenGenerator(d.Users),
		passwords: d.Passwords,
		sessions:  d.Sessions,
		mailer:    d.Mailer,
		media:     d.Media,
		events:    d.Events,
		logger:    d.Logger,
		tokenTTL:  ttl,
		now:       time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =========================================================================
// REGISTRATION & VERIFICATION
// =========================================================================

// Register creates an unverified credentials user and mails a
// verification link.
//
// If the mail cannot be sent, the error is MailDeliveryFailed and the user
// row stays in place, unverified. Signing in later re-sends the mail once
// the token has lapsed, so the account is never stuck.
func (s *AccountService) Register(ctx context.Context, p RegisterParams) (*model.User, error) {
	in := registerInput{
		Email:    normalizeEmail(p.Email),
		Password: p.Password,
		Name:     strings.TrimSpace(p.Name),
		Image:    strings.TrimSpace(p.Image),
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, apperror.DuplicateEmail(in.Email)
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/account: checking email: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	user := &model.User{
		Name:         in.Name,
		Email:        in.Email,
		Image:        in.Image,
		PasswordHash: &hash,
	}
	// CreateUser maps a UNIQUE violation to DuplicateEmail, which covers two
	// concurrent registrations that both passed the check above.
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("service/account: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("email", user.Email),
	)
	accountEventsTotal.WithLabelValues("registered").Inc()
	s.publish(ctx, EventAccountRegistered, user)

	if err := s.issueAndSend(ctx, user, model.TokenVerification); err != nil {
		return user, err
	}
	return user, nil
}

// CheckVerificationToken reports whether token is a known verification
// token, expired or not. Pure read.
func (s *AccountService) CheckVerificationToken(ctx context.Context, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	_, err := s.users.GetUserByToken(ctx, model.TokenVerification, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("service/account: looking up verification token: %w", err)
	}
	return true, nil
}

// VerifyToken consumes a verification token and marks its holder verified.
func (s *AccountService) VerifyToken(ctx context.Context, token string) (*model.User, error) {
	kind := string(model.TokenVerification)
	if strings.TrimSpace(token) == "" {
		return nil, apperror.InvalidToken(kind)
	}

	user, err := s.users.ConsumeVerificationToken(ctx, token, s.now())
	if err == nil {
		s.logger.Info("email verified", slog.String("userID", user.ID))
		accountEventsTotal.WithLabelValues("verified").Inc()
		s.publish(ctx, EventAccountVerified, user)
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/account: consuming verification token: %w", err)
	}
	return nil, s.explainTokenMiss(ctx, model.TokenVerification, token)
}

// explainTokenMiss runs after a conditional consume matched nothing. A token
// that still exists must have failed the expiry condition.
func (s *AccountService) explainTokenMiss(ctx context.Context, kind model.TokenKind, token string) error {
	_, err := s.users.GetUserByToken(ctx, kind, token)
	switch {
	case err == nil:
		return apperror.TokenExpired(string(kind))
	case errors.Is(err, apperror.ErrNotFound):
		return apperror.InvalidToken(string(kind))
	default:
		return fmt.Errorf("service/account: looking up %s token: %w", kind, err)
	}
}

// ResendMail issues a fresh token of the given kind for whoever holds token
// now, and mails it. The old token may be expired; it only identifies the
// user.
func (s *AccountService) ResendMail(ctx context.Context, token string, kind model.TokenKind) error {
	if strings.TrimSpace(token) == "" {
		return apperror.InvalidToken(string(kind))
	}
	user, err := s.users.GetUserByToken(ctx, kind, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.InvalidToken(string(kind))
		}
		return fmt.Errorf("service/account: looking up %s token: %w", kind, err)
	}
	return s.issueAndSend(ctx, user, kind)
}

// issueAndSend generates a token, stores it with a tokenTTL expiry and
// mails it. The previous token of that kind, if any, stops working.
func (s *AccountService) issueAndSend(ctx context.Context, user *model.User, kind model.TokenKind) error {
	token, err := s.tokens.Generate(ctx)
	if err != nil {
		return fmt.Errorf("service/account: %w", err)
	}
	expires := s.now().Add(s.tokenTTL)
	if err := s.users.SetToken(ctx, user.ID, kind, token, expires); err != nil {
		return fmt.Errorf("service/account: storing %s token: %w", kind, err)
	}

	if err := s.mailer.Send(ctx, user.Email, kind, token); err != nil {
		mailsTotal.WithLabelValues(string(kind), "failed").Inc()
		s.logger.Error("sending mail failed",
			slog.String("userID", user.ID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return apperror.MailDeliveryFailed(err)
	}
	mailsTotal.WithLabelValues(string(kind), "sent").Inc()
	return nil
}

// =========================================================================
// SIGN-IN
// =========================================================================

// Authorize checks credentials.
//
// Order matters: the password is checked before the verification state, so
// an unverified account does not leak its state to someone without the
// password. An unverified user whose token is missing or lapsed gets a new
// verification mail on the way out; a mail failure here is only logged.
func (s *AccountService) Authorize(ctx context.Context, email, password string) (*model.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "Email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			loginAttemptsTotal.WithLabelValues("credentials", "unknown_user").Inc()
			return nil, apperror.UserNotFound()
		}
		return nil, fmt.Errorf("service/account: looking up user: %w", err)
	}

	if !user.HasPassword() {
		loginAttemptsTotal.WithLabelValues("credentials", "invalid").Inc()
		return nil, apperror.InvalidCredentials()
	}
	if err := s.passwords.Verify(*user.PasswordHash, password); err != nil {
		loginAttemptsTotal.WithLabelValues("credentials", "invalid").Inc()
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/account: verifying password for %s: %w", user.ID, err)
	}

	if !user.IsVerified {
		loginAttemptsTotal.WithLabelValues("credentials", "unverified").Inc()
		if user.VerificationExpired(s.now()) {
			if err := s.issueAndSend(ctx, user, model.TokenVerification); err != nil {
				s.logger.Warn("re-sending verification mail on login",
					slog.String("userID", user.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil, apperror.NotVerified()
	}

	loginAttemptsTotal.WithLabelValues("credentials", "ok").Inc()
	return user, nil
}

// Login is Authorize followed by session issuance.
func (s *AccountService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.Authorize(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.issueSession(user)
}

func (s *AccountService) issueSession(user *model.User) (*AuthResult, error) {
	token, err := s.sessions.Issue(user.ID, user.Name, user.IsAdmin, user.IsVerified)
	if err != nil {
		return nil, fmt.Errorf("service/account: issuing session for %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// LoginWithProvider signs in through an OAuth provider.
//
// First sign-in with a given provider identity creates a password-less user,
// already verified, plus the linking Account record. Later sign-ins find the
// user through that record. An existing credentials account with the same
// email is not linked automatically: the caller gets a Conflict and must
// sign in with the password.
func (s *AccountService) LoginWithProvider(ctx context.Context, provider string, profile *auth.Profile, token *oauth2.Token) (*AuthResult, error) {
	if profile == nil || profile.ProviderAccountID == "" {
		return nil, apperror.ValidationFailed("provider", "provider profile is incomplete")
	}

	account, err := s.accounts.GetAccountByProvider(ctx, provider, profile.ProviderAccountID)
	switch {
	case err == nil:
		user, err := s.users.GetUserByID(ctx, account.UserID)
		if err != nil {
			return nil, fmt.Errorf("service/account: loading user for %s account: %w", provider, err)
		}
		loginAttemptsTotal.WithLabelValues(provider, "ok").Inc()
		return s.issueSession(user)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/account: looking up %s account: %w", provider, err)
	}

	email := normalizeEmail(profile.Email)
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		loginAttemptsTotal.WithLabelValues(provider, "conflict").Inc()
		return nil, &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "An account with this email already exists. Sign in with your password.",
			Field:   "email",
		}
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/account: checking email: %w", err)
	}

	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user := &model.User{
		Name:       name,
		Email:      email,
		Image:      profile.Image,
		IsVerified: true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/account: creating %s user: %w", provider, err)
	}

	link := &model.Account{
		UserID:            user.ID,
		Type:              "oauth",
		Provider:          provider,
		ProviderAccountID: profile.ProviderAccountID,
	}
	if token != nil {
		link.AccessToken = token.AccessToken
		link.RefreshToken = token.RefreshToken
		link.TokenType = token.TokenType
		if !token.Expiry.IsZero() {
			exp := token.Expiry
			link.ExpiresAt = &exp
		}
		if idToken, ok := token.Extra("id_token").(string); ok {
			link.IDToken = idToken
		}
		if scope, ok := token.Extra("scope").(string); ok {
			link.Scope = scope
		}
	}
	if err := s.accounts.CreateAccount(ctx, link); err != nil {
		return nil, fmt.Errorf("service/account: linking %s account: %w", provider, err)
	}

	s.logger.Info("user registered via provider",
		slog.String("userID", user.ID),
		slog.String("provider", provider),
	)
	accountEventsTotal.WithLabelValues("registered").Inc()
	s.publish(ctx, EventAccountRegistered, user)
	loginAttemptsTotal.WithLabelValues(provider, "ok").Inc()

	return s.issueSession(user)
}

// =========================================================================
// PASSWORD RESET
// =========================================================================

// RequestPasswordReset mails a reset link. sent is false when an unexpired
// reset token already exists; nothing is mailed then, and the caller should
// tell the user to check their inbox.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (sent bool, err error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return false, apperror.InvalidEmail()
		}
		return false, fmt.Errorf("service/account: looking up user: %w", err)
	}
	if !user.HasPassword() {
		return false, apperror.InvalidEmail()
	}
	if user.HasActiveResetToken(s.now()) {
		return false, nil
	}

	if err := s.issueAndSend(ctx, user, model.TokenReset); err != nil {
		return false, err
	}
	return true, nil
}

// ValidateResetToken is a pure read used before showing the reset form.
func (s *AccountService) ValidateResetToken(ctx context.Context, token string) (ResetTokenStatus, error) {
	if strings.TrimSpace(token) == "" {
		return ResetTokenStatus{}, nil
	}
	user, err := s.users.GetUserByToken(ctx, model.TokenReset, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return ResetTokenStatus{}, nil
		}
		return ResetTokenStatus{}, fmt.Errorf("service/account: looking up reset token: %w", err)
	}
	if !user.HasActiveResetToken(s.now()) {
		return ResetTokenStatus{Expired: true}, nil
	}
	return ResetTokenStatus{Valid: true}, nil
}

// UpdatePassword consumes a reset token and stores the new password.
// An expired token is refused with TokenExpired.
func (s *AccountService) UpdatePassword(ctx context.Context, token, newPassword string) error {
	kind := string(model.TokenReset)
	if strings.TrimSpace(token) == "" {
		return apperror.InvalidToken(kind)
	}
	if err := validateInput(passwordInput{Password: newPassword}); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return apperror.ValidationFailed("password", err.Error())
	}

	user, err := s.users.ConsumeResetToken(ctx, token, hash, s.now())
	if err == nil {
		s.logger.Info("password reset", slog.String("userID", user.ID))
		accountEventsTotal.WithLabelValues("password_reset").Inc()
		s.publish(ctx, EventAccountPasswordReset, user)
		return nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/account: consuming reset token: %w", err)
	}
	return s.explainTokenMiss(ctx, model.TokenReset, token)
}

// =========================================================================
// PROFILE & DELETION
// =========================================================================

// GetUser returns the user with the given ID, or ErrUserNotFound.
func (s *AccountService) GetUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, &apperror.AppError{Err: apperror.ErrUserNotFound, Message: "User not found"}
		}
		return nil, fmt.Errorf("service/account: fetching user %s: %w", id, err)
	}
	return user, nil
}

// UpdateProfile changes the display name and avatar. An empty image keeps
// the current one.
//
// A new image must be an external URL. Objects in the media store only get
// attached through the upload at registration, so nobody can point their
// profile at another user's avatar and then delete it along with their own
// account. A replaced avatar that lived in the store is removed afterwards.
func (s *AccountService) UpdateProfile(ctx context.Context, userID, name, image string) (*model.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	in := profileInput{Name: strings.TrimSpace(name), Image: strings.TrimSpace(image)}
	if in.Image == "" {
		in.Image = user.Image
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	previous := user.Image
	if in.Image != previous && s.media.Owns(in.Image) {
		return nil, apperror.ValidationFailed("image", "Image must be an external URL")
	}

	user.Name = in.Name
	user.Image = in.Image
	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("service/account: updating profile of %s: %w", userID, err)
	}

	if previous != "" && previous != user.Image && s.media.Owns(previous) {
		if err := s.media.Delete(ctx, previous); err != nil {
			s.logger.Warn("deleting replaced avatar failed",
				slog.String("userID", userID),
				slog.String("image", previous),
				slog.String("error", err.Error()),
			)
		}
	}
	return user, nil
}

// DeleteAccount removes a user and everything that belongs to them.
//
// A credentials user's avatar lives in our media store and is deleted first;
// if that fails nothing else is touched (MediaDeletionFailed). An OAuth
// user's image points at the provider and is left alone.
//
// The user row, linked accounts and snippets are then deleted as three
// separate operations. All three are attempted even if one fails, and every
// failure is reported in the returned error.
func (s *AccountService) DeleteAccount(ctx context.Context, userID string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.HasPassword() && user.Image != "" {
		if err := s.media.Delete(ctx, user.Image); err != nil {
			s.logger.Error("deleting avatar failed",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
			return apperror.MediaDeletionFailed(err)
		}
	}

	var errs []error
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		errs = append(errs, fmt.Errorf("deleting user: %w", err))
	}
	accounts, err := s.accounts.DeleteAccountsByUser(ctx, userID)
	if err != nil {
		errs = append(errs, fmt.Errorf("deleting accounts: %w", err))
	}
	snippets, err := s.snippets.DeleteSnippetsByUser(ctx, userID)
	if err != nil {
		errs = append(errs, fmt.Errorf("deleting snippets: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("service/account: deleting account %s: %w", userID, errors.Join(errs...))
	}

	s.logger.Info("account deleted",
		slog.String("userID", userID),
		slog.Int64("accounts", accounts),
		slog.Int64("snippets", snippets),
	)
	accountEventsTotal.WithLabelValues("deleted").Inc()
	s.publish(ctx, EventAccountDeleted, user)
	return nil
}

func (s *AccountService) publish(ctx context.Context, subject string, user *model.User) {
	ev := AccountEvent{UserID: user.ID, Email: user.Email, At: s.now().UTC()}
	if err := s.events.Publish(ctx, subject, ev); err != nil {
		s.logger.Warn("publishing event failed",
			slog.String("subject", subject),
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
}
