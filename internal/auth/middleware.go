package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rx3lixir/mapchat/pkg/httputil"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	userNameKey contextKey = "username"
)

// Middleware resolves the actor from a bearer token. Browsers cannot set
// headers on websocket upgrades, so a token query parameter is accepted
// as well.
func Middleware(authService *Service, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := tokenFromRequest(r)
			if err != nil {
				httputil.RespondError(w, r, err, log)
				return
			}

			claims, err := authService.ValidateAccessToken(token)
			if err != nil {
				httputil.RespondError(w, r, &httputil.HTTPError{
					Status:  http.StatusUnauthorized,
					Message: "invalid token",
					Cause:   err,
				}, log)
				return
			}

			ctx := WithUser(r.Context(), claims.UserID, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", httputil.Unauthorized("authorization required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", httputil.Unauthorized("invalid authorization format")
	}
	return parts[1], nil
}

// WithUser stores the actor on ctx
func WithUser(ctx context.Context, userID, username string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, userNameKey, username)
}

// Helper functions to extract from context
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func GetUsername(ctx context.Context) string {
	username, _ := ctx.Value(userNameKey).(string)
	return username
}
