package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/xid"
	"golang.org/x/oauth2"

	"github.com/sakif/snippet-keeper/internal/apperror"
	"github.com/sakif/snippet-keeper/internal/auth"
	"github.com/sakif/snippet-keeper/internal/service"
)

const (
	stateCookie    = "oauth_state"
	callbackCookie = "oauth_callback"
	stateMaxAge    = 600 // 10 minutes
)

// OAuthProvider is one sign-in provider. *auth.Provider satisfies it.
type OAuthProvider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Profile, *oauth2.Token, error)
}

// OAuthHandler runs the Authorization Code flow for every configured
// provider under /auth/{provider}/...
//
// FAILURES land on the login page with an error code the page can show:
//
//	/login?error=AccessDenied           user declined at the provider
//	/login?error=OAuthAccountNotLinked  email already belongs to a password account
//	/login?error=OAuthCallback          exchange or storage failed
type OAuthHandler struct {
	providers map[string]OAuthProvider
	accounts  *service.AccountService
	sessions  *auth.Sessions
	secure    bool
	logger    *slog.Logger
}

func NewOAuthHandler(
	accounts *service.AccountService,
	sessions *auth.Sessions,
	secure bool,
	logger *slog.Logger,
	providers ...OAuthProvider,
) *OAuthHandler {
	m := make(map[string]OAuthProvider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &OAuthHandler{
		providers: m,
		accounts:  accounts,
		sessions:  sessions,
		secure:    secure,
		logger:    logger,
	}
}

// Enabled reports whether any provider is configured.
func (h *OAuthHandler) Enabled() bool { return len(h.providers) > 0 }

func (h *OAuthHandler) provider(w http.ResponseWriter, r *http.Request) (OAuthProvider, bool) {
	p, ok := h.providers[r.PathValue("provider")]
	if !ok {
		writeError(w, apperror.NotFound("provider", r.PathValue("provider")))
	}
	return p, ok
}

// HandleLogin redirects the user to the provider's authorization page.
//
// HTTP: GET /auth/{provider}/login[?callbackUrl=/snippets/42]
//
// CSRF PROTECTION VIA STATE:
// A random state value is stored in a short-lived cookie and sent to the
// provider. HandleCallback checks that both match, which proves the callback
// was initiated by this server.
//
// The state cookie is:
//   - HttpOnly: JavaScript can't read it
//   - SameSite=Lax: not sent on cross-site POSTs
//   - 10-minute expiry: long enough to approve, short enough to limit risk
func (h *OAuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}

	state := xid.New().String()
	h.setCookie(w, stateCookie, state, stateMaxAge)
	if cb := r.URL.Query().Get("callbackUrl"); isLocalPath(cb) {
		h.setCookie(w, callbackCookie, cb, stateMaxAge)
	}

	http.Redirect(w, r, p.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the OAuth login flow.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for the provider profile
//  3. Find or create the user and provider link
//  4. Set the session cookie
//  5. Redirect to the saved callbackUrl or HomePath
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}

	// --- Step 1: Validate CSRF state ---
	saved, err := r.Cookie(stateCookie)
	if err != nil || saved.Value == "" || r.URL.Query().Get("state") != saved.Value {
		h.logger.Warn("oauth callback: state mismatch", slog.String("provider", p.Name()))
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	// Single use.
	h.setCookie(w, stateCookie, "", -1)

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("oauth callback: user denied authorization",
			slog.String("provider", p.Name()),
			slog.String("error", errParam),
		)
		h.fail(w, r, "AccessDenied")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	// --- Step 2: Exchange code for profile ---
	profile, token, err := p.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		h.fail(w, r, "OAuthCallback")
		return
	}

	// --- Step 3: Find or create the user ---
	res, err := h.accounts.LoginWithProvider(r.Context(), p.Name(), profile, token)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			h.fail(w, r, "OAuthAccountNotLinked")
			return
		}
		h.logger.Error("oauth callback: sign-in failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		h.fail(w, r, "OAuthCallback")
		return
	}

	// --- Step 4: Session cookie ---
	h.sessions.Set(w, res.Token)

	// --- Step 5: Redirect ---
	dest := auth.HomePath
	if c, err := r.Cookie(callbackCookie); err == nil && isLocalPath(c.Value) {
		dest = c.Value
		h.setCookie(w, callbackCookie, "", -1)
	}
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

func (h *OAuthHandler) fail(w http.ResponseWriter, r *http.Request, code string) {
	h.setCookie(w, callbackCookie, "", -1)
	http.Redirect(w, r, "/login?error="+url.QueryEscape(code), http.StatusSeeOther)
}

func (h *OAuthHandler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// isLocalPath accepts "/x" but not "//host/x" or absolute URLs, so the
// callback cannot be turned into an open redirect.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, `\`)
}
