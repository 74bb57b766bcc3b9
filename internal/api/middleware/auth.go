// auth.go — middleware аутентификации hydra-iam.
// Проверяет access-токен (Bearer или cookie) и помещает Principal
// в контекст запроса.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/hydraplatform/hydra-iam/internal/api/errors"
	"github.com/hydraplatform/hydra-iam/internal/auth"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyPrincipal — проверенный Principal в контексте запроса.
const ContextKeyPrincipal contextKey = "principal"

// Authenticator — middleware проверки access-токенов.
type Authenticator struct {
	validator *auth.TokenValidator
	logger    *slog.Logger
}

// NewAuthenticator создаёт middleware аутентификации.
func NewAuthenticator(validator *auth.TokenValidator, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		validator: validator,
		logger:    logger.With(slog.String("component", "auth_middleware")),
	}
}

// Middleware возвращает HTTP middleware аутентификации.
// Токен берётся из заголовка Authorization (Bearer), при его отсутствии —
// из cookie access_token.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.validator.ValidateRequest(r)
			if err != nil {
				a.logger.Debug("Запрос не прошёл аутентификацию",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("path", r.URL.Path),
				)
				apierrors.Unauthorized(w, "Невалидный или отсутствующий токен")
				return
			}

			// Дополняем запись RequestLogger'а идентификатором пользователя
			if record := recordFromContext(r.Context()); record != nil {
				record.userID = principal.ID
			}

			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext извлекает Principal из контекста запроса.
// Возвращает nil, если запрос не прошёл аутентификацию.
func PrincipalFromContext(ctx context.Context) *auth.Principal {
	principal, _ := ctx.Value(ContextKeyPrincipal).(*auth.Principal)
	return principal
}
