package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SessionCookie carries the API token for browsers after /auth/login.
const SessionCookie = "edgevision_session"

// AuthMiddleware lets a request through only when it presents token as a
// Bearer header, a session cookie or a token query parameter (the live view
// WebSocket cannot set headers). With an empty token every protected route
// is refused.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Login and logout stay reachable without credentials
			if r.URL.Path == "/auth/login" || r.URL.Path == "/auth/logout" {
				next.ServeHTTP(w, r)
				return
			}

			if !Authorized(r, token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="edgevision"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorized reports whether r carries token.
func Authorized(r *http.Request, token string) bool {
	for _, candidate := range credentials(r) {
		if Matches(candidate, token) {
			return true
		}
	}
	return false
}

// Matches compares candidate with token in constant time. An empty token
// matches nothing.
func Matches(candidate, token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1
}

func credentials(r *http.Request) []string {
	var found []string
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		found = append(found, strings.TrimPrefix(auth, "Bearer "))
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		found = append(found, cookie.Value)
	}
	if q := r.URL.Query().Get("token"); q != "" {
		found = append(found, q)
	}
	return found
}
