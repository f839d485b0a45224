package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/pkg/models"
)

// Middleware enforces bearer auth on HTTP handlers. Tokens are read from the
// Authorization header or, for WebSocket upgrades where clients cannot set
// headers, from the token query parameter. The authenticated user lands in
// the request context.
func Middleware(jwtService *JWTService, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				token = strings.TrimSpace(r.URL.Query().Get("token"))
			}
			if token == "" {
				unauthorized(w, "Not authenticated")
				return
			}

			user, err := jwtService.Validate(token)
			if err != nil {
				logger.Warn(r.Context(), "token validation failed", "error", err)
				unauthorized(w, "Could not validate credentials")
				return
			}

			ctx := WithUser(r.Context(), user)
			ctx = observability.WithUser(ctx, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return ""
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

type userContextKey struct{}

// WithUser stores the authenticated user on the context for downstream
// handlers.
func WithUser(ctx context.Context, user *models.User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user Middleware stored, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*models.User)
	return user, ok
}
