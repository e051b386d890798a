package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/planwright/planwright/internal/auth"
)

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// requireAuth verifies the operator token on every request and attaches the
// resulting principal to the request context
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(strings.TrimSpace(r.Header.Get("Authorization")))
		if !ok {
			writeErrorStatus(w, http.StatusUnauthorized, "authentication required")
			return
		}
		principal, err := auth.VerifyToken(s.jwtSecret, token)
		if err != nil {
			writeErrorStatus(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}
