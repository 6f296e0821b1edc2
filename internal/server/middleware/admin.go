package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/keygate/keygate/internal/service"
)

// RequireAdmin returns an HTTP middleware that admits only requests carrying
// a valid admin JWT as a Bearer token. The principal is attached to the
// request context.
func RequireAdmin(tokens *service.AdminTokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "Admin bearer token required", nil)
				return
			}
			principal, err := tokens.Validate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token", nil)
				return
			}
			ctx := context.WithValue(r.Context(), adminKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin extracts the admin principal from the context, or nil.
func GetAdmin(ctx context.Context) *service.AdminPrincipal {
	if p, ok := ctx.Value(adminKey).(*service.AdminPrincipal); ok {
		return p
	}
	return nil
}

// bearerToken extracts the token from an "Authorization: Bearer" value.
// The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
