package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hydraplatform/hydra-iam/internal/domain/model"
)

// PositionRepository — доступ к таблице positions.
type PositionRepository interface {
	// GetByID возвращает должность по ID или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.Position, error)
	// FindByName ищет неудалённую должность по точному имени или ErrNotFound.
	FindByName(ctx context.Context, name string) (*model.Position, error)
	// FindOrCreateByName атомарно находит или создаёт неудалённую должность.
	// Безопасен при конкурентных вызовах с одинаковым именем: вставка идёт
	// через ON CONFLICT DO NOTHING по частичному уникальному индексу,
	// после чего запись перечитывается. Двух строк с одним именем не бывает.
	FindOrCreateByName(ctx context.Context, name, description string) (*model.Position, error)
	// List возвращает неудалённые должности (с пагинацией) и их общее количество.
	List(ctx context.Context, limit, offset int) ([]*model.Position, int, error)
}

// positionRepo — реализация PositionRepository.
type positionRepo struct {
	db DBTX
}

// NewPositionRepository создаёт репозиторий должностей.
func NewPositionRepository(db DBTX) PositionRepository {
	return &positionRepo{db: db}
}

const positionColumns = `id, name, description, deleted_at, created_at, updated_at`

func (r *positionRepo) GetByID(ctx context.Context, id string) (*model.Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE id = $1 AND deleted_at IS NULL`, positionColumns)
	return r.scanPosition(r.db.QueryRow(ctx, query, id))
}

func (r *positionRepo) FindByName(ctx context.Context, name string) (*model.Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE name = $1 AND deleted_at IS NULL`, positionColumns)
	return r.scanPosition(r.db.QueryRow(ctx, query, name))
}

func (r *positionRepo) FindOrCreateByName(ctx context.Context, name, description string) (*model.Position, error) {
	// Вставка через частичный уникальный индекс (name WHERE deleted_at IS NULL).
	// При гонке двух одинаковых вставок одна пройдёт, вторая тихо не вставит
	// ничего — обе стороны перечитают одну и ту же строку.
	_, err := r.db.Exec(ctx, `
		INSERT INTO positions (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) WHERE deleted_at IS NULL DO NOTHING`,
		name, description,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания должности: %w", err)
	}

	pos, err := r.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения должности после upsert: %w", err)
	}
	return pos, nil
}

func (r *positionRepo) List(ctx context.Context, limit, offset int) ([]*model.Position, int, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM positions
		WHERE deleted_at IS NULL
		ORDER BY name
		LIMIT $1 OFFSET $2`, positionColumns)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка должностей: %w", err)
	}
	defer rows.Close()

	var result []*model.Position
	for rows.Next() {
		p := &model.Position{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования должности: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM positions WHERE deleted_at IS NULL`).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта должностей: %w", err)
	}

	return result, total, nil
}

// scanPosition сканирует одну строку positions.
func (r *positionRepo) scanPosition(row pgx.Row) (*model.Position, error) {
	p := &model.Position{}
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения должности: %w", err)
	}
	return p, nil
}
