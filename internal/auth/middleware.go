package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/user"
)

type ctxKey struct{}

// FromContext returns the authenticated user stashed by Middleware.
func FromContext(ctx context.Context) (*user.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*user.User)
	return u, ok
}

// WithUser stashes an authenticated user in the context. Exported for
// handler tests.
func WithUser(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// Verifier resolves a bearer token to a user ID. Satisfied by Tokens.
type Verifier interface {
	Verify(token string) (string, error)
}

// Middleware returns middleware that validates the Authorization header,
// resolves the subject to an account, and rejects deactivated accounts.
// 401 for missing/invalid/expired tokens, 403 for inactive accounts.
func Middleware(verifier Verifier, users user.Store, logger log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")

			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing or malformed authorization header")
				return
			}

			userID, err := verifier.Verify(header[len("Bearer "):])
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			u, ok, err := users.GetByID(r.Context(), userID)
			if err != nil {
				logger.Error(r.Context(), err, "auth user lookup failed", "user_id", userID)
				writeJSONError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !ok {
				unauthorized(w, "invalid or expired token")
				return
			}
			if !u.Active {
				writeJSONError(w, http.StatusForbidden, "account is deactivated")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":false,"message":"` + msg + `"}`))
}
