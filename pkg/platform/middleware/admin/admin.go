package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	request "zodiac/pkg/platform/middleware/request"
)

// TokenValidator validates an operator bearer token.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims is what the admin surface needs from a validated token.
type Claims struct {
	Subject string
	Role    string
}

const RoleOperator = "operator"

type contextKeyOperator struct{}

// GetOperator returns the authenticated operator subject, or "".
func GetOperator(ctx context.Context) string {
	if sub, ok := ctx.Value(contextKeyOperator{}).(string); ok {
		return sub
	}
	return ""
}

// RequireAdmin rejects requests without a valid operator bearer token.
func RequireAdmin(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "admin access - missing token",
					"request_id", request.GetRequestID(ctx),
				)
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "admin access - invalid token",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				unauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Role != RoleOperator {
				logger.WarnContext(ctx, "admin access - insufficient role",
					"subject", claims.Subject,
					"role", claims.Role,
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden","error_description":"operator role required"}`))
				return
			}

			ctx = context.WithValue(ctx, contextKeyOperator{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + desc + `"}`))
}
