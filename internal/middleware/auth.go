// Package middleware hosts authentication, logging, and rate limiting middleware.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const (
	ctxUserIDKey contextKey = "user_id"
	ctxRoleKey   contextKey = "role"
)

// AdminTokenHeader carries the operator token for administrative routes.
const AdminTokenHeader = "X-Admin-Token"

// AuthMiddleware validates bearer JWTs and injects the account identity into the context.
type AuthMiddleware struct {
	jwtSecret  string
	adminToken string
}

// NewAuthMiddleware constructs an AuthMiddleware. An empty adminToken
// disables administrative routes entirely.
func NewAuthMiddleware(secret, adminToken string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret, adminToken: adminToken}
}

// Authenticate enforces bearer auth. The account id is read from the
// user_id claim, falling back to sub.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if strings.TrimSpace(authHeader) == "" {
			jsonError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			jsonError(w, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.jwtSecret), nil
		}, jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			jsonError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		subject, _ := claims["user_id"].(string)
		if subject == "" {
			subject, _ = claims.GetSubject()
		}
		userID, err := uuid.Parse(subject)
		if err != nil || userID == uuid.Nil {
			jsonError(w, http.StatusUnauthorized, "Invalid user ID in token")
			return
		}

		ctx := ContextWithUserID(r.Context(), userID)
		if role, ok := claims["role"].(string); ok {
			ctx = context.WithValue(ctx, ctxRoleKey, role)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin guards operator routes with a shared token.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AdminTokenHeader)
		if m.adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(m.adminToken)) != 1 {
			jsonError(w, http.StatusForbidden, "Admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ContextWithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, id)
}

// UserIDFromContext returns the authenticated account's UUID from context.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxUserIDKey).(uuid.UUID)
	return id, ok
}

func RoleFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxRoleKey).(string)
	return s, ok
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := os.Getenv("CORS_ALLOWED_ORIGINS")
		origin := r.Header.Get("Origin")
		if strings.TrimSpace(allowed) != "" {
			for _, o := range strings.Split(allowed, ",") {
				if strings.EqualFold(strings.TrimSpace(o), origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		} else if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Idempotency-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
