package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appErr "github.com/arch-studio/engine/pkg/errors"
	"github.com/arch-studio/engine/pkg/logger"
)

type userKeyType string

const UserIDKey userKeyType = "user_id"

// Auth validates a Bearer JWT using the provided HMAC secret and adds the subject to
// the context. Browsers cannot set headers on EventSource or websocket requests, so
// an access_token query parameter is accepted on GET requests.
func Auth(hmacSecret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearer(r)
			if tokenStr == "" {
				fail(w, r, http.StatusUnauthorized, appErr.CodeUnauthorized, "missing token")
				return
			}
			var claims jwt.RegisteredClaims
			token, err := parser.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
				return hmacSecret, nil
			})
			if err != nil || !token.Valid {
				logger.From(r.Context()).Debug("token rejected", zap.Error(err))
				fail(w, r, http.StatusUnauthorized, appErr.CodeUnauthorized, "invalid token")
				return
			}
			uid, err := uuid.Parse(claims.Subject)
			if err != nil {
				fail(w, r, http.StatusUnauthorized, appErr.CodeUnauthorized, "invalid subject")
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, uid)
			ctx = logger.WithContext(ctx, zap.String("user_id", uid.String()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(r *http.Request) string {
	ah := r.Header.Get("Authorization")
	if len(ah) > len("Bearer ") && strings.EqualFold(ah[:len("Bearer ")], "bearer ") {
		return strings.TrimSpace(ah[len("Bearer "):])
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// GetUserID returns the authenticated user, or uuid.Nil outside Auth.
func GetUserID(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}
