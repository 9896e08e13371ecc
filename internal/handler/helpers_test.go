package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/snippet-keeper/internal/auth"
	"github.com/sakif/snippet-keeper/internal/events"
	"github.com/sakif/snippet-keeper/internal/handler"
	"github.com/sakif/snippet-keeper/internal/model"
	"github.com/sakif/snippet-keeper/internal/repository/sqlite"
	"github.com/sakif/snippet-keeper/internal/service"
)

const strongPassword = "Str0ng!Pass"

type sentMail struct {
	To    string
	Kind  model.TokenKind
	Token string
}

// captureMailer records every mail instead of sending it.
type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) Send(_ context.Context, to string, kind model.TokenKind, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Kind: kind, Token: token})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail was sent")
	return m.sent[len(m.sent)-1]
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fakeUploads stands in for the S3 store.
type fakeUploads struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
}

func (u *fakeUploads) Upload(_ context.Context, key, _ string, body io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	url := "https://cdn.example.com/" + key
	u.uploaded = append(u.uploaded, url)
	return url, nil
}

func (u *fakeUploads) Owns(ref string) bool {
	return strings.HasPrefix(ref, "https://cdn.example.com/")
}

func (u *fakeUploads) Delete(_ context.Context, ref string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deleted = append(u.deleted, ref)
	return nil
}

// testAPI is the full handler stack over an in-memory database.
type testAPI struct {
	router  http.Handler
	db      *sqlite.DB
	mailer  *captureMailer
	uploads *fakeUploads
	tokens  *auth.TokenService
}

func newTestAPI(t *testing.T, providers ...handler.OAuthProvider) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := sqlite.New(context.Background(), "file:"+xid.New().String()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret")
	require.NoError(t, err)

	mailer := &captureMailer{}
	uploads := &fakeUploads{}
	accounts := service.NewAccountService(service.AccountDeps{
		Users:     db,
		Accounts:  db,
		Snippets:  db,
		Passwords: auth.NewPasswordServiceForTest(bcrypt.MinCost),
		Sessions:  tokens,
		Mailer:    mailer,
		Media:     uploads,
		Events:    events.Noop{},
		Logger:    logger,
	})
	sessions := auth.NewSessions(tokens, db, 0, false, logger)

	authH := handler.NewAuthHandler(accounts, sessions, uploads, logger)
	oauthH := handler.NewOAuthHandler(accounts, sessions, false, logger, providers...)
	snippetH := handler.NewSnippetHandler(service.NewSnippetService(db, logger), logger)

	r := chi.NewRouter()
	r.Use(sessions.Authenticate)
	r.Post("/api/auth/register", authH.HandleRegister)
	r.Post("/api/auth/login", authH.HandleLogin)
	r.Post("/api/auth/logout", authH.HandleLogout)
	r.Get("/api/auth/verify", authH.HandleCheckVerification)
	r.Post("/api/auth/verify", authH.HandleVerify)
	r.Post("/api/auth/forgot-password", authH.HandleForgotPassword)
	r.Get("/api/auth/reset-password", authH.HandleValidateReset)
	r.Post("/api/auth/reset-password", authH.HandleResetPassword)
	r.Post("/api/auth/resend", authH.HandleResend)
	r.Get("/auth/{provider}/login", oauthH.HandleLogin)
	r.Get("/auth/{provider}/callback", oauthH.HandleCallback)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Delete("/api/auth/account", authH.HandleDeleteAccount)
		r.Get("/api/me", authH.HandleMe)
		r.Patch("/api/me", authH.HandleUpdateMe)
		r.Get("/api/snippets", snippetH.HandleList)
		r.Post("/api/snippets", snippetH.HandleCreate)
		r.Get("/api/snippets/{id}", snippetH.HandleGet)
		r.Put("/api/snippets/{id}", snippetH.HandleUpdate)
		r.Delete("/api/snippets/{id}", snippetH.HandleDelete)
	})

	return &testAPI{router: r, db: db, mailer: mailer, uploads: uploads, tokens: tokens}
}

// do sends a request with an optional JSON body and session cookie.
func (a *testAPI) do(t *testing.T, method, path string, body any, session string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: session})
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

// register creates an unverified account and returns its verification token.
func (a *testAPI) register(t *testing.T, email string) string {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"email":     email,
		"password":  strongPassword,
		"firstName": "Ada",
		"lastName":  "Lovelace",
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return a.mailer.last(t).Token
}

// signUp registers, verifies and logs in, returning the session token.
func (a *testAPI) signUp(t *testing.T, email string) string {
	t.Helper()
	token := a.register(t, email)
	rr := a.do(t, http.MethodPost, "/api/auth/verify", map[string]string{"token": token}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = a.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": strongPassword}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	c := sessionCookie(rr)
	require.NotNil(t, c)
	return c.Value
}

// adminSession signs up email and returns a session whose claims carry the
// admin flag.
func (a *testAPI) adminSession(t *testing.T, email string) string {
	t.Helper()
	a.signUp(t, email)
	u, err := a.db.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	token, err := a.tokens.Issue(u.ID, u.Name, true, true)
	require.NoError(t, err)
	return token
}

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			return c
		}
	}
	return nil
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Field   string `json:"field"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}
