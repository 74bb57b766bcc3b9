// users.go — административное управление пользователями и их прямыми
// ролями.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hydraplatform/hydra-iam/internal/domain/model"
	"github.com/hydraplatform/hydra-iam/internal/repository"
)

// UserService — сервис управления пользователями.
type UserService struct {
	users  repository.UserRepository
	roles  repository.RoleRepository
	logger *slog.Logger
}

// NewUserService создаёт сервис управления пользователями.
func NewUserService(
	users repository.UserRepository,
	roles repository.RoleRepository,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:  users,
		roles:  roles,
		logger: logger.With(slog.String("component", "users_service")),
	}
}

// List возвращает пользователей с пагинацией и общее количество.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*model.User, int, error) {
	users, total, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("список пользователей: %w", err)
	}
	return users, total, nil
}

// Get возвращает пользователя с ролями и должностью.
func (s *UserService) Get(ctx context.Context, id string) (*model.UserWithAccess, error) {
	user, err := s.users.GetWithAccessByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	return user, nil
}

// UpdateStatus меняет статус учётной записи.
func (s *UserService) UpdateStatus(ctx context.Context, id, status string) (*model.UserWithAccess, error) {
	if !model.IsValidAccountStatus(status) {
		return nil, fmt.Errorf("%w: недопустимый статус %q", ErrValidation, status)
	}

	if err := s.users.UpdateStatus(ctx, id, model.AccountStatus(status)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("смена статуса: %w", err)
	}

	s.logger.Info("Статус учётной записи изменён",
		slog.String("user_id", id),
		slog.String("status", status),
	)
	return s.Get(ctx, id)
}

// AssignRole назначает пользователю прямую роль.
// ErrNotFound — пользователь или роль не существуют.
// ErrConflict — роль уже назначена.
func (s *UserService) AssignRole(ctx context.Context, userID, roleID string) error {
	// Существование обеих сторон проверяется явно, чтобы отличить
	// «нет такой роли» от «роль уже назначена».
	if _, err := s.users.GetWithAccessByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("проверка пользователя: %w", err)
	}
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("проверка роли: %w", err)
	}

	if err := s.users.AssignRole(ctx, userID, roleID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("назначение роли: %w", err)
	}

	s.logger.Info("Пользователю назначена роль",
		slog.String("user_id", userID),
		slog.String("role", role.Name),
	)
	return nil
}

// RemoveRole снимает с пользователя прямую роль.
// ErrNotFound — назначение отсутствует.
func (s *UserService) RemoveRole(ctx context.Context, userID, roleID string) error {
	if err := s.users.RemoveRole(ctx, userID, roleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("снятие роли: %w", err)
	}

	s.logger.Info("С пользователя снята роль",
		slog.String("user_id", userID),
		slog.String("role_id", roleID),
	)
	return nil
}

// ListRoles возвращает справочник ролей.
func (s *UserService) ListRoles(ctx context.Context) ([]*model.Role, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("список ролей: %w", err)
	}
	return roles, nil
}
