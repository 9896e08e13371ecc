package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/snippet-keeper/internal/apperror"
	"github.com/sakif/snippet-keeper/internal/model"
	"github.com/sakif/snippet-keeper/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================
//
// fakeStore implements all three repository interfaces in memory. The token
// consumption methods hold the mutex for the whole check-and-update, which
// mirrors the single conditional UPDATE of the SQLite store.
//
// Set one of the *Err fields to simulate a store failure for that method.

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	accounts map[string]*model.Account
	snippets map[string]*model.Snippet
	nextID   int
	clock    time.Time

	getUserErr        error
	deleteUserErr     error
	deleteAccountsErr error
	deleteSnippetsErr error
	countErr          error
}

var (
	_ repository.UserRepository    = (*fakeStore)(nil)
	_ repository.AccountRepository = (*fakeStore)(nil)
	_ repository.SnippetRepository = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*model.User),
		accounts: make(map[string]*model.Account),
		snippets: make(map[string]*model.Snippet),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

// tick returns a strictly increasing timestamp so ordering by CreatedAt is
// deterministic.
func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

// ---- users ----

func (f *fakeStore) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return apperror.DuplicateEmail(u.Email)
		}
	}
	u.ID = f.id("user")
	u.CreatedAt = f.tick()
	u.UpdatedAt = u.CreatedAt
	f.users[u.ID] = copyUser(u)
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return copyUser(u), nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	for _, u := range f.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func tokenOf(u *model.User, kind model.TokenKind) (*string, *time.Time) {
	if kind == model.TokenReset {
		return u.ForgotPasswordToken, u.ForgotPasswordTokenExpires
	}
	return u.VerificationToken, u.VerificationTokenExpires
}

func (f *fakeStore) findByToken(kind model.TokenKind, token string) *model.User {
	for _, u := range f.users {
		if t, _ := tokenOf(u, kind); t != nil && *t == token {
			return u
		}
	}
	return nil
}

func (f *fakeStore) GetUserByToken(_ context.Context, kind model.TokenKind, token string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.findByToken(kind, token); u != nil {
		return copyUser(u), nil
	}
	return nil, apperror.NotFound("user", token)
}

func (f *fakeStore) TokenInUse(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findByToken(model.TokenVerification, token) != nil ||
		f.findByToken(model.TokenReset, token) != nil, nil
}

func (f *fakeStore) SetToken(_ context.Context, userID string, kind model.TokenKind, token string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	if kind == model.TokenReset {
		u.ForgotPasswordToken, u.ForgotPasswordTokenExpires = &token, &expires
	} else {
		u.VerificationToken, u.VerificationTokenExpires = &token, &expires
	}
	return nil
}

func (f *fakeStore) ConsumeVerificationToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.findByToken(model.TokenVerification, token)
	if u == nil || u.VerificationTokenExpires == nil || u.VerificationTokenExpires.Before(now) {
		return nil, apperror.NotFound("user", token)
	}
	u.IsVerified = true
	u.VerificationToken, u.VerificationTokenExpires = nil, nil
	return copyUser(u), nil
}

func (f *fakeStore) ConsumeResetToken(_ context.Context, token, passwordHash string, now time.Time) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.findByToken(model.TokenReset, token)
	if u == nil || u.ForgotPasswordTokenExpires == nil || u.ForgotPasswordTokenExpires.Before(now) {
		return nil, apperror.NotFound("user", token)
	}
	u.PasswordHash = &passwordHash
	u.ForgotPasswordToken, u.ForgotPasswordTokenExpires = nil, nil
	return copyUser(u), nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.users[u.ID]
	if !ok {
		return apperror.NotFound("user", u.ID)
	}
	existing.Name = u.Name
	existing.Image = u.Image
	return nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteUserErr != nil {
		return f.deleteUserErr
	}
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", id)
	}
	delete(f.users, id)
	return nil
}

// ---- accounts ----

func (f *fakeStore) CreateAccount(_ context.Context, a *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.accounts {
		if existing.Provider == a.Provider && existing.ProviderAccountID == a.ProviderAccountID {
			return apperror.Conflict("account", a.ProviderAccountID)
		}
	}
	a.ID = f.id("account")
	a.CreatedAt = f.tick()
	c := *a
	f.accounts[a.ID] = &c
	return nil
}

func (f *fakeStore) GetAccountByProvider(_ context.Context, provider, providerAccountID string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Provider == provider && a.ProviderAccountID == providerAccountID {
			c := *a
			return &c, nil
		}
	}
	return nil, apperror.NotFound("account", providerAccountID)
}

func (f *fakeStore) DeleteAccountsByUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteAccountsErr != nil {
		return 0, f.deleteAccountsErr
	}
	var n int64
	for id, a := range f.accounts {
		if a.UserID == userID {
			delete(f.accounts, id)
			n++
		}
	}
	return n, nil
}

// ---- snippets ----

func (f *fakeStore) CreateSnippet(_ context.Context, s *model.Snippet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = f.id("snippet")
	s.CreatedAt = f.tick()
	s.UpdatedAt = s.CreatedAt
	c := *s
	f.snippets[s.ID] = &c
	return nil
}

func (f *fakeStore) GetSnippet(_ context.Context, id string) (*model.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snippets[id]
	if !ok {
		return nil, apperror.NotFound("snippet", id)
	}
	c := *s
	return &c, nil
}

func (f *fakeStore) ListSnippetsByUser(_ context.Context, userID string, opts repository.ListOptions) ([]model.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []model.Snippet
	for _, s := range f.snippets {
		if s.UserID == userID {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })

	if opts.Offset >= len(result) {
		return []model.Snippet{}, nil
	}
	result = result[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (f *fakeStore) CountSnippetsByUser(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, s := range f.snippets {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpdateSnippet(_ context.Context, s *model.Snippet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.snippets[s.ID]; !ok {
		return apperror.NotFound("snippet", s.ID)
	}
	s.UpdatedAt = f.tick()
	c := *s
	f.snippets[s.ID] = &c
	return nil
}

func (f *fakeStore) DeleteSnippet(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.snippets[id]; !ok {
		return apperror.NotFound("snippet", id)
	}
	delete(f.snippets, id)
	return nil
}

func (f *fakeStore) DeleteSnippetsByUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteSnippetsErr != nil {
		return 0, f.deleteSnippetsErr
	}
	var n int64
	for id, s := range f.snippets {
		if s.UserID == userID {
			delete(f.snippets, id)
			n++
		}
	}
	return n, nil
}

// =========================================================================
// FAKE COLLABORATORS
// =========================================================================

type sentMail struct {
	To    string
	Kind  model.TokenKind
	Token string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to string, kind model.TokenKind, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Kind: kind, Token: token})
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *fakeMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

type fakeMedia struct {
	deleted []string
	err     error
}

// Owns treats everything under the test bucket URL as stored.
func (m *fakeMedia) Owns(ref string) bool {
	return strings.HasPrefix(ref, "https://bucket.example.com/")
}

func (m *fakeMedia) Delete(_ context.Context, ref string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, ref)
	return nil
}

type fakeEvents struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (e *fakeEvents) Publish(_ context.Context, subject string, _ any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subjects = append(e.subjects, subject)
	return e.err
}

func (e *fakeEvents) published(subject string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.subjects {
		if s == subject {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
