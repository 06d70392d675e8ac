package middleware

import (
	"context"
	"errors"
	"net/http"

	apperrors "DiaryPlatform/pkg/errors"
	"DiaryPlatform/pkg/logger"
	"DiaryPlatform/services/auth-service/internal/pkg/jwt"
	"DiaryPlatform/services/auth-service/internal/service"
)

type claimsKey struct{}

// Authenticator проверяет значение заголовка Authorization и возвращает данные токена
type Authenticator func(ctx context.Context, header string) (*jwt.TokenClaims, error)

// BearerAuth пропускает запрос дальше только с действительным Bearer токеном
// Данные токена доступны обработчику через ClaimsFromContext
func BearerAuth(authenticate Authenticator, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				log.Debug("Request rejected by bearer auth",
					logger.CtxField(r.Context()),
					logger.String("path", r.URL.Path),
					logger.String("reason", string(service.ReasonOf(err))))

				var authErr *service.AuthError
				if errors.As(err, &authErr) {
					apperrors.WriteJSON(w, authErr.AppError())
					return
				}
				apperrors.WriteJSON(w, apperrors.New(apperrors.ErrUnauthorized, "Invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext возвращает данные токена, сохраненные BearerAuth
func ClaimsFromContext(ctx context.Context) (*jwt.TokenClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*jwt.TokenClaims)
	return claims, ok && claims != nil
}
