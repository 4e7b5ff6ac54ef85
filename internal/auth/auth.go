package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// Authenticator guards the status API with a single shared bearer token.
type Authenticator struct {
	token  string
	logger *slog.Logger
}

func NewAuthenticator(token string, logger *slog.Logger) *Authenticator {
	return &Authenticator{token: token, logger: logger}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing auth header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			http.Error(w, "invalid auth header format", http.StatusUnauthorized)
			return
		}

		if a.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			a.logger.Warn("rejected status request", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
