// identity.go — разрешение утверждения личности от Entra ID в локальную
// учётную запись: поиск, диф-обновление, JIT-провижининг.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hydraplatform/hydra-iam/internal/domain/model"
	"github.com/hydraplatform/hydra-iam/internal/entra"
	"github.com/hydraplatform/hydra-iam/internal/repository"
)

// IdentityService — сервис разрешения личности.
// Переводит утверждение от IdP в актуальную локальную учётную запись.
type IdentityService struct {
	users     repository.UserRepository
	positions *PositionService
	logger    *slog.Logger
}

// NewIdentityService создаёт сервис разрешения личности.
func NewIdentityService(
	users repository.UserRepository,
	positions *PositionService,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		users:     users,
		positions: positions,
		logger:    logger.With(slog.String("component", "identity_service")),
	}
}

// Resolve находит или создаёт учётную запись по утверждению от IdP и
// возвращает её с загруженными ролями и должностью.
//
// Порядок: синхронизация должности → поиск по external_id ИЛИ email →
// проверка статуса → диф-обновление либо создание с базовой ролью USER.
// Возвращает ErrAccountDisabled, если запись отключена или удалена.
func (s *IdentityService) Resolve(ctx context.Context, assertion *entra.Assertion) (*model.UserWithAccess, error) {
	position, err := s.positions.Sync(ctx, assertion.JobTitle)
	if err != nil {
		return nil, err
	}
	var positionID *string
	if position != nil {
		positionID = &position.ID
	}

	existing, err := s.users.FindWithAccessByExternalIDOrEmail(ctx, assertion.ExternalID, assertion.Email)
	switch {
	case err == nil:
		return s.syncExisting(ctx, existing, assertion, positionID)
	case errors.Is(err, repository.ErrNotFound):
		return s.provision(ctx, assertion, positionID)
	default:
		return nil, fmt.Errorf("поиск пользователя: %w", err)
	}
}

// syncExisting проверяет статус найденной записи и приводит её поля
// в соответствие с утверждением от IdP.
func (s *IdentityService) syncExisting(
	ctx context.Context,
	existing *model.UserWithAccess,
	assertion *entra.Assertion,
	positionID *string,
) (*model.UserWithAccess, error) {
	// Статус проверяется до любых изменений: отключённая запись
	// не обновляется данными из IdP.
	if existing.AccountStatus != model.AccountActive {
		s.logger.Warn("Попытка входа в неактивную учётную запись",
			slog.String("user_id", existing.ID),
			slog.String("status", string(existing.AccountStatus)),
		)
		return nil, ErrAccountDisabled
	}

	if !needsUpdate(&existing.User, assertion, positionID) {
		return existing, nil
	}

	err := s.users.UpdateIdentity(ctx, existing.ID, &assertion.ExternalID, positionID, assertion.Name, assertion.Email)
	if err != nil {
		return nil, fmt.Errorf("обновление пользователя: %w", err)
	}

	s.logger.Info("Данные пользователя синхронизированы с IdP",
		slog.String("user_id", existing.ID),
	)

	updated, err := s.users.GetWithAccessByID(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("перечитывание пользователя: %w", err)
	}
	return updated, nil
}

// provision создаёт учётную запись при первом входе (JIT) и выдаёт ей
// базовую роль USER. Конкурентное создание того же пользователя
// разрешается перечитыванием после конфликта уникальности.
func (s *IdentityService) provision(
	ctx context.Context,
	assertion *entra.Assertion,
	positionID *string,
) (*model.UserWithAccess, error) {
	externalID := assertion.ExternalID
	user := &model.User{
		Name:          assertion.Name,
		Email:         assertion.Email,
		ExternalID:    &externalID,
		PositionID:    positionID,
		AccountStatus: model.AccountActive,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Параллельный запрос создал запись первым — работаем с ней
			s.logger.Info("Конкурентное создание пользователя, перечитываем",
				slog.String("email", assertion.Email),
			)
			return s.resolveAfterConflict(ctx, assertion, positionID)
		}
		return nil, fmt.Errorf("создание пользователя: %w", err)
	}

	s.logger.Info("Создана учётная запись при первом входе",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	if err := s.users.GrantRoleByName(ctx, user.ID, model.RoleUser); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Базовая роль не заведена в БД — вход продолжается без неё
			s.logger.Warn("Базовая роль отсутствует в справочнике, выдача пропущена",
				slog.String("user_id", user.ID),
				slog.String("role", model.RoleUser),
			)
		} else {
			return nil, fmt.Errorf("выдача базовой роли: %w", err)
		}
	}

	created, err := s.users.GetWithAccessByID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("перечитывание пользователя: %w", err)
	}
	return created, nil
}

// resolveAfterConflict перечитывает запись после проигрыша гонки создания
// и синхронизирует её как существующую.
func (s *IdentityService) resolveAfterConflict(
	ctx context.Context,
	assertion *entra.Assertion,
	positionID *string,
) (*model.UserWithAccess, error) {
	existing, err := s.users.FindWithAccessByExternalIDOrEmail(ctx, assertion.ExternalID, assertion.Email)
	if err != nil {
		return nil, fmt.Errorf("перечитывание после конфликта: %w", err)
	}
	return s.syncExisting(ctx, existing, assertion, positionID)
}

// needsUpdate сравнивает локальную запись с утверждением от IdP.
func needsUpdate(u *model.User, assertion *entra.Assertion, positionID *string) bool {
	if u.ExternalID == nil || *u.ExternalID != assertion.ExternalID {
		return true
	}
	if u.Name != assertion.Name || u.Email != assertion.Email {
		return true
	}
	return !equalPtr(u.PositionID, positionID)
}

// equalPtr сравнивает два *string по значению.
func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
