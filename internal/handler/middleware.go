package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"authcore/internal/model"
	"authcore/internal/service"
	"authcore/internal/util"
)

type contextKey string

const userContextKey contextKey = "auth_user"

// UserFromContext returns the authenticated user placed by RequireAuth.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok
}

// RequireAuth rejects requests without a valid, unrevoked bearer token and
// attaches the resolved user to the request context.
func RequireAuth(authService *service.AuthService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				writeUnauthorized(w)
				return
			}

			user, err := authService.Authenticate(r.Context(), tokenString)
			if err != nil {
				logger.Debug("Bearer token rejected", util.ErrorField(err))
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"success":false,"error":"invalid_token","message":"Authentication required"}`))
}
