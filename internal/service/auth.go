// auth.go — оркестрация входа: утверждение от IdP → локальная учётная
// запись → access-токен hydra-iam.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hydraplatform/hydra-iam/internal/auth"
	"github.com/hydraplatform/hydra-iam/internal/domain/model"
	"github.com/hydraplatform/hydra-iam/internal/domain/rbac"
	"github.com/hydraplatform/hydra-iam/internal/entra"
)

// IdentityProvider — контракт внешнего IdP.
// Реализуется entra.Client; в тестах подменяется моком.
type IdentityProvider interface {
	// AuthorizeURL формирует URL для redirect на вход IdP.
	AuthorizeURL(state, nonce string) string
	// Authenticate завершает code flow и возвращает утверждение личности.
	Authenticate(ctx context.Context, code, nonce string) (*entra.Assertion, error)
}

// AuthService — сервис аутентификации.
type AuthService struct {
	idp      IdentityProvider
	identity *IdentityService
	issuer   *auth.TokenIssuer
	logger   *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(
	idp IdentityProvider,
	identity *IdentityService,
	issuer *auth.TokenIssuer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		idp:      idp,
		identity: identity,
		issuer:   issuer,
		logger:   logger.With(slog.String("component", "auth_service")),
	}
}

// LoginURL формирует URL для redirect пользователя на вход IdP.
func (s *AuthService) LoginURL(state, nonce string) string {
	return s.idp.AuthorizeURL(state, nonce)
}

// Callback завершает вход: проверяет код у IdP, разрешает учётную
// запись и выпускает access-токен со снимком эффективных ролей.
func (s *AuthService) Callback(ctx context.Context, code, nonce string) (string, error) {
	assertion, err := s.idp.Authenticate(ctx, code, nonce)
	if err != nil {
		if errors.Is(err, entra.ErrIdPUnavailable) {
			return "", fmt.Errorf("%w: %w", ErrIDPUnavailable, err)
		}
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}

	user, err := s.identity.Resolve(ctx, assertion)
	if err != nil {
		return "", err
	}

	token, err := s.issuer.Issue(principalOf(user))
	if err != nil {
		return "", fmt.Errorf("выпуск токена: %w", err)
	}

	s.logger.Info("Пользователь вошёл в систему",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return token, nil
}

// principalOf формирует Principal из учётной записи со снимком
// эффективных ролей.
func principalOf(user *model.UserWithAccess) *auth.Principal {
	positionID := ""
	if user.PositionID != nil {
		positionID = *user.PositionID
	}
	return &auth.Principal{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		Roles:      rbac.EffectiveRoles(user),
		PositionID: positionID,
	}
}
