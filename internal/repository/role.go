package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hydraplatform/hydra-iam/internal/domain/model"
)

// RoleRepository — доступ к справочнику ролей.
type RoleRepository interface {
	// GetByID возвращает роль по ID или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.Role, error)
	// GetByName возвращает роль по имени или ErrNotFound.
	GetByName(ctx context.Context, name string) (*model.Role, error)
	// List возвращает все роли, отсортированные по имени.
	List(ctx context.Context) ([]*model.Role, error)
}

// roleRepo — реализация RoleRepository.
type roleRepo struct {
	db DBTX
}

// NewRoleRepository создаёт репозиторий ролей.
func NewRoleRepository(db DBTX) RoleRepository {
	return &roleRepo{db: db}
}

func (r *roleRepo) GetByID(ctx context.Context, id string) (*model.Role, error) {
	return r.scanRole(r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM roles WHERE id = $1`, id))
}

func (r *roleRepo) GetByName(ctx context.Context, name string) (*model.Role, error) {
	return r.scanRole(r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM roles WHERE name = $1`, name))
}

func (r *roleRepo) List(ctx context.Context) ([]*model.Role, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка ролей: %w", err)
	}
	defer rows.Close()

	var result []*model.Role
	for rows.Next() {
		role := &model.Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования роли: %w", err)
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

// scanRole сканирует одну строку roles.
func (r *roleRepo) scanRole(row pgx.Row) (*model.Role, error) {
	role := &model.Role{}
	err := row.Scan(&role.ID, &role.Name, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения роли: %w", err)
	}
	return role, nil
}
