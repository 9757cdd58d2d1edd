package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/service"
)

// ClaimsFromContext returns the verified access-token claims set by
// RequireAuth.
func ClaimsFromContext(ctx context.Context) (models.TokenClaims, bool) {
	v, ok := ctx.Value(claimsKey).(models.TokenClaims)
	return v, ok
}

// RequireAuth guards a route with bearer-token verification.
func RequireAuth(orch *service.AuthOrchestrator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			claims, err := orch.VerifyAccess(r.Context(), strings.TrimSpace(token))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
