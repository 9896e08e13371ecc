package auth

import (
	"net/http"
	"net/url"
	"strings"
)

// Page paths the guard knows about.
var (
	authPages      = []string{"/login", "/register", "/verify", "/reset-password"}
	protectedPages = []string{"/snippets"}
)

// HomePath is where signed-in users are sent when they open an auth page.
const HomePath = "/snippets"

// Decision is the guard's verdict for one request.
type Decision struct {
	Allow      bool
	RedirectTo string // set when Allow is false
}

// Guard decides whether a request for path may proceed.
//
//   - signed in, auth page         → redirect to HomePath
//   - signed out, protected page   → redirect to /login?callbackUrl=<path>
//   - anything else                → allow
//
// Paths match by whole segment: "/snippets" and "/snippets/42" are
// protected, "/snippetsarchive" is not.
func Guard(hasSession bool, path string) Decision {
	switch {
	case hasSession && matchesAny(path, authPages):
		return Decision{RedirectTo: HomePath}
	case !hasSession && matchesAny(path, protectedPages):
		return Decision{RedirectTo: "/login?callbackUrl=" + url.QueryEscape(path)}
	}
	return Decision{Allow: true}
}

func matchesAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// GuardMiddleware applies Guard to page requests. /api/ and /auth/ routes
// answer for themselves (401 JSON, OAuth redirects) and pass through
// untouched. Place it after Sessions.Authenticate.
func GuardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/auth/") {
			next.ServeHTTP(w, r)
			return
		}

		_, hasSession := ClaimsFromContext(r.Context())
		d := Guard(hasSession, r.URL.Path)
		if !d.Allow {
			http.Redirect(w, r, d.RedirectTo, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
