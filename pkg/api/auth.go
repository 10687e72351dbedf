package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethpandaops/flakeoor/pkg/config"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userContextKey contextKey = "user"

// hashUsers bcrypt-hashes the configured passwords so that plaintext
// never has to be kept around after startup.
func hashUsers(users []config.BasicAuthUser) (map[string][]byte, error) {
	hashed := make(map[string][]byte, len(users))

	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(u.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			return nil, fmt.Errorf("hashing password for %q: %w", u.Username, err)
		}

		hashed[u.Username] = hash
	}

	return hashed, nil
}

// checkPassword compares a bcrypt hash with a plaintext password.
func checkPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// requireAuth enforces HTTP basic auth against the configured users and
// injects the username into the request context.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			s.unauthorized(w, "authentication required")

			return
		}

		hash, exists := s.users[username]
		if !exists || !checkPassword(hash, password) {
			s.unauthorized(w, "invalid credentials")

			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="flakeoor", charset="UTF-8"`)
	writeJSON(w, http.StatusUnauthorized, errorResponse{msg})
}

// userFromContext returns the authenticated username, or "" when the
// request was not authenticated.
func userFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey).(string)

	return user
}
