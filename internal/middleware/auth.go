package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

// RequireStaffToken protects the staff endpoints with a static bearer
// token. Comparison is constant time; an empty configured token denies
// everything rather than opening the endpoints up.
func RequireStaffToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				respondForbidden(w, r)
				return
			}

			presented, ok := bearerToken(r)
			if !ok {
				respondUnauthorized(w, r)
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				respondUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
