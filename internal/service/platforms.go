// platforms.go — вычисление набора платформ, доступных пользователю.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hydraplatform/hydra-iam/internal/domain/model"
	"github.com/hydraplatform/hydra-iam/internal/repository"
)

// PlatformService — сервис доступа к платформам.
type PlatformService struct {
	platforms repository.PlatformRepository
	logger    *slog.Logger
}

// NewPlatformService создаёт сервис доступа к платформам.
func NewPlatformService(platforms repository.PlatformRepository, logger *slog.Logger) *PlatformService {
	return &PlatformService{
		platforms: platforms,
		logger:    logger.With(slog.String("component", "platforms_service")),
	}
}

// ListAccessible возвращает платформы, доступные обладателю указанных
// ролей: активные, неудалённые, с пересечением требуемых ролей.
// Платформа без требуемых ролей недостижима; пустой набор ролей
// пользователя → пустой список.
func (s *PlatformService) ListAccessible(ctx context.Context, roleNames []string) ([]*model.Platform, error) {
	platforms, err := s.platforms.ListAccessibleByRoles(ctx, roleNames)
	if err != nil {
		return nil, fmt.Errorf("доступные платформы: %w", err)
	}
	return platforms, nil
}
