package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/offsync/internal/server/handlers"
	"github.com/iudanet/offsync/internal/server/jwt"
)

// TokenValidator проверяет bearer токен устройства
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// AuthMiddleware создает middleware для проверки JWT токена
func AuthMiddleware(logger *slog.Logger, tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Извлекаем токен из заголовка Authorization
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header", "path", r.URL.Path)
				handlers.SendError(logger, w, "missing token", http.StatusUnauthorized)
				return
			}

			// Ожидаем формат: "Bearer <token>"
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				logger.Warn("Invalid Authorization header format")
				handlers.SendError(logger, w, "invalid token format", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.Validate(strings.TrimSpace(token))
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				handlers.SendError(logger, w, "invalid token", http.StatusUnauthorized)
				return
			}

			logger.Debug("Device authenticated", "user_id", claims.UserID, "device_id", claims.DeviceID)

			ctx := handlers.WithIdentity(r.Context(), claims.UserID, claims.DeviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
