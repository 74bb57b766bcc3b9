// Пакет service — бизнес-логика hydra-iam.
// positions.go — сервис должностей: find-or-create по названию из IdP
// и операции чтения для административного API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hydraplatform/hydra-iam/internal/domain/model"
	"github.com/hydraplatform/hydra-iam/internal/repository"
)

// positionSyncDescription — описание должностей, создаваемых
// синхронизацией из корпоративного каталога.
const positionSyncDescription = "Synchronized from the corporate directory"

// PositionService — сервис должностей.
type PositionService struct {
	positions repository.PositionRepository
	logger    *slog.Logger
}

// NewPositionService создаёт сервис должностей.
func NewPositionService(positions repository.PositionRepository, logger *slog.Logger) *PositionService {
	return &PositionService{
		positions: positions,
		logger:    logger.With(slog.String("component", "positions_service")),
	}
}

// Sync находит или создаёт должность по названию из IdP.
// Название обрезается от пробелов; nil или пустое название → nil
// (у пользователя нет должности). Конкурентные вызовы с одним названием
// сходятся на одной записи за счёт уникального индекса.
func (s *PositionService) Sync(ctx context.Context, jobTitle *string) (*model.Position, error) {
	if jobTitle == nil {
		return nil, nil
	}
	name := strings.TrimSpace(*jobTitle)
	if name == "" {
		return nil, nil
	}

	position, err := s.positions.FindOrCreateByName(ctx, name, positionSyncDescription)
	if err != nil {
		return nil, fmt.Errorf("синхронизация должности %q: %w", name, err)
	}
	return position, nil
}

// Get возвращает должность по ID.
func (s *PositionService) Get(ctx context.Context, id string) (*model.Position, error) {
	position, err := s.positions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение должности: %w", err)
	}
	return position, nil
}

// List возвращает список должностей с пагинацией и общее количество.
func (s *PositionService) List(ctx context.Context, limit, offset int) ([]*model.Position, int, error) {
	positions, total, err := s.positions.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("список должностей: %w", err)
	}
	return positions, total, nil
}
