package repository

import (
	"context"
	"fmt"

	"github.com/hydraplatform/hydra-iam/internal/domain/model"
)

// PlatformRepository — доступ к таблицам platforms и platform_roles.
type PlatformRepository interface {
	// ListAccessibleByRoles возвращает платформы, видимые субъекту
	// с указанным набором эффективных ролей: активные, неудалённые и
	// с непустым пересечением требуемых ролей. Платформа без требуемых
	// ролей не возвращается никогда. Пустой набор ролей — пустой результат.
	ListAccessibleByRoles(ctx context.Context, roleNames []string) ([]*model.Platform, error)
}

// platformRepo — реализация PlatformRepository.
type platformRepo struct {
	db DBTX
}

// NewPlatformRepository создаёт репозиторий платформ.
func NewPlatformRepository(db DBTX) PlatformRepository {
	return &platformRepo{db: db}
}

func (r *platformRepo) ListAccessibleByRoles(ctx context.Context, roleNames []string) ([]*model.Platform, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT p.id, p.name, p.code, p.url, p.is_active, p.deleted_at, p.created_at, p.updated_at
		FROM platforms p
		JOIN platform_roles pr ON pr.platform_id = p.id
		JOIN roles ro ON ro.id = pr.role_id
		WHERE p.is_active
		  AND p.deleted_at IS NULL
		  AND ro.name = ANY($1)
		ORDER BY p.name`

	rows, err := r.db.Query(ctx, query, roleNames)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения доступных платформ: %w", err)
	}
	defer rows.Close()

	var result []*model.Platform
	for rows.Next() {
		p := &model.Platform{}
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Code, &p.URL, &p.IsActive,
			&p.DeletedAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования платформы: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
