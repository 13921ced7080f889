package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sentilytics/sentilytics/internal/api"
	"github.com/sentilytics/sentilytics/internal/ledger"
)

type contextKey string

const identityKey contextKey = "identity"

// APIKeyHeader may carry an API key instead of the Authorization header.
const APIKeyHeader = "X-API-Key"

// Identity methods.
const (
	MethodSession = "session"
	MethodAPIKey  = "api_key"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Method string
}

// KeyResolver maps an API key to its owner. *ledger.Ledger satisfies it.
type KeyResolver interface {
	ResolveKey(ctx context.Context, secretKey string) (string, error)
}

var _ KeyResolver = (*ledger.Ledger)(nil)

// Middleware authenticates with either a session JWT or a ledger API key.
// API keys are accepted as a bearer token or in the X-API-Key header.
func Middleware(jwtMgr *JWTManager, keys KeyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(APIKeyHeader)
			if token == "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					api.HandleError(w, api.ErrUnauthorized)
					return
				}
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
					api.HandleError(w, api.ErrUnauthorized)
					return
				}
				token = strings.TrimSpace(parts[1])
			}

			var id *Identity
			if ledger.LooksLikeSecretKey(token) {
				userID, err := keys.ResolveKey(r.Context(), token)
				if err != nil {
					if errors.Is(err, ledger.ErrNotFound) {
						api.HandleError(w, api.ErrInvalidAPIKey)
						return
					}
					slog.Error("resolving api key", "error", err)
					api.HandleError(w, api.ErrServiceUnavailable)
					return
				}
				id = &Identity{UserID: userID, Method: MethodAPIKey}
			} else {
				claims, err := jwtMgr.ValidateAccessToken(token)
				if err != nil {
					api.HandleError(w, api.ErrInvalidToken)
					return
				}
				id = &Identity{UserID: claims.UserID, Email: claims.Email, Method: MethodSession}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller set by Middleware, or nil.
func GetIdentity(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
