package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
)

type authContextKey struct{}

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(provider ports.AuthProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header")
				return
			}
			auth, err := provider.Authenticate(r.Context(), token)
			if err != nil {
				AddError(r.Context(), err)
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}
			AddLogField(r.Context(), "api_key", auth.Description)
			ctx := context.WithValue(r.Context(), authContextKey{}, auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthContext returns the authenticated caller, or nil.
func GetAuthContext(ctx context.Context) *ports.AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*ports.AuthContext)
	return auth
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
