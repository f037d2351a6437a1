package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/cloo-solutions/briefly/internal/api"
	"github.com/cloo-solutions/briefly/internal/logging"
	"go.uber.org/zap"
)

type contextKey string

const OwnerIDKey contextKey = "owner_id"

// OwnerHeader carries the end user the calling service acts for.
const OwnerHeader = "X-Owner-ID"

var errInvalidToken = errors.New("invalid service token")

type AuthValidator interface {
	ValidateToken(ctx context.Context, token string) error
}

// StaticToken accepts a single shared service token.
type StaticToken string

func (s StaticToken) ValidateToken(_ context.Context, token string) error {
	if s == "" || subtle.ConstantTimeCompare([]byte(s), []byte(token)) != 1 {
		return errInvalidToken
	}
	return nil
}

// OwnerAuth authenticates the calling service by bearer token and scopes the
// request to the owner named in X-Owner-ID.
func OwnerAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if err := validator.ValidateToken(r.Context(), token); err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid service token")
				return
			}

			ownerID := strings.TrimSpace(r.Header.Get(OwnerHeader))
			if ownerID == "" {
				api.Error(w, http.StatusBadRequest, "missing owner header")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerIDKey, ownerID)
			ctx = logging.With(ctx, zap.String("owner_id", ownerID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetOwnerID(ctx context.Context) string {
	ownerID, _ := ctx.Value(OwnerIDKey).(string)
	return ownerID
}
