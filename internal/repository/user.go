package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hydraplatform/hydra-iam/internal/domain/model"
)

// UserRepository — доступ к таблицам users и user_roles.
type UserRepository interface {
	// FindWithAccessByExternalIDOrEmail ищет пользователя по external_id ИЛИ
	// email (OR-семантика: пользователь, зарегистрированный по email до первого
	// SSO-входа, находится по email). При совпадении обоих критериев
	// предпочитается совпадение по external_id. Возвращает гидрированный
	// агрегат или ErrNotFound.
	FindWithAccessByExternalIDOrEmail(ctx context.Context, externalID, email string) (*model.UserWithAccess, error)
	// GetWithAccessByID возвращает гидрированный агрегат по ID или ErrNotFound.
	GetWithAccessByID(ctx context.Context, id string) (*model.UserWithAccess, error)
	// Create вставляет нового пользователя и заполняет ID/CreatedAt/UpdatedAt.
	// Нарушение уникальности email или external_id → ErrConflict.
	Create(ctx context.Context, u *model.User) error
	// UpdateIdentity обновляет поля, синхронизируемые при входе
	// (external_id, position_id, name, email). Нарушение уникальности → ErrConflict.
	UpdateIdentity(ctx context.Context, id string, externalID, positionID *string, name, email string) error
	// UpdateStatus меняет статус учётной записи. ErrNotFound, если записи нет.
	UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error
	// List возвращает неудалённых пользователей (с пагинацией) и их общее количество.
	List(ctx context.Context, limit, offset int) ([]*model.User, int, error)
	// AssignRole создаёт прямую связь user→role. Дубликат пары → ErrConflict.
	AssignRole(ctx context.Context, userID, roleID string) error
	// RemoveRole удаляет прямую связь user→role. Отсутствующая пара → ErrNotFound.
	RemoveRole(ctx context.Context, userID, roleID string) error
	// GrantRoleByName идемпотентно выдаёт пользователю роль по имени
	// (upsert пары user_roles). ErrNotFound, если роль не существует.
	GrantRoleByName(ctx context.Context, userID, roleName string) error
}

// userRepo — реализация UserRepository.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, name, email, external_id, position_id, account_status, created_at, updated_at`

func (r *userRepo) FindWithAccessByExternalIDOrEmail(ctx context.Context, externalID, email string) (*model.UserWithAccess, error) {
	// COALESCE прячет NULL из сравнения external_id, когда у записи его ещё нет.
	query := fmt.Sprintf(`
		SELECT %s
		FROM users
		WHERE COALESCE(external_id = $1, false) OR email = $2
		ORDER BY COALESCE(external_id = $1, false) DESC
		LIMIT 1`, userColumns)

	u, err := r.scanUser(r.db.QueryRow(ctx, query, nullIfEmpty(externalID), email))
	if err != nil {
		return nil, err
	}
	return r.hydrate(ctx, u)
}

func (r *userRepo) GetWithAccessByID(ctx context.Context, id string) (*model.UserWithAccess, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)

	u, err := r.scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return r.hydrate(ctx, u)
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (name, email, external_id, position_id, account_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.Name, u.Email, u.ExternalID, u.PositionID, u.AccountStatus,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) UpdateIdentity(ctx context.Context, id string, externalID, positionID *string, name, email string) error {
	query := `
		UPDATE users
		SET external_id = $2, position_id = $3, name = $4, email = $5, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, externalID, positionID, name, email)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка обновления пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET account_status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) List(ctx context.Context, limit, offset int) ([]*model.User, int, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM users
		WHERE account_status <> 'deleted'
		ORDER BY name
		LIMIT $1 OFFSET $2`, userColumns)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	var result []*model.User
	for rows.Next() {
		u := &model.User{}
		if err := rows.Scan(
			&u.ID, &u.Name, &u.Email, &u.ExternalID, &u.PositionID,
			&u.AccountStatus, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE account_status <> 'deleted'`,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}

	return result, total, nil
}

func (r *userRepo) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`,
		userID, roleID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка назначения роли: %w", err)
	}
	return nil
}

func (r *userRepo) RemoveRole(ctx context.Context, userID, roleID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("ошибка снятия роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) GrantRoleByName(ctx context.Context, userID, roleName string) error {
	query := `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = $2
		ON CONFLICT (user_id, role_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, userID, roleName)
	if err != nil {
		return fmt.Errorf("ошибка выдачи роли %q: %w", roleName, err)
	}
	// Ни вставки, ни конфликта — роли с таким именем нет.
	if tag.RowsAffected() == 0 {
		if granted, checkErr := r.hasRole(ctx, userID, roleName); checkErr == nil && granted {
			return nil
		}
		return ErrNotFound
	}
	return nil
}

// hasRole проверяет наличие прямой связи user→role по имени роли.
func (r *userRepo) hasRole(ctx context.Context, userID, roleName string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_roles ur
			JOIN roles ro ON ro.id = ur.role_id
			WHERE ur.user_id = $1 AND ro.name = $2
		)`, userID, roleName).Scan(&exists)
	return exists, err
}

// scanUser сканирует одну строку users.
func (r *userRepo) scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.ExternalID, &u.PositionID,
		&u.AccountStatus, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

// hydrate догружает прямые роли, должность и роли должности.
func (r *userRepo) hydrate(ctx context.Context, u *model.User) (*model.UserWithAccess, error) {
	result := &model.UserWithAccess{User: *u}

	directRoles, err := r.roleNames(ctx, `
		SELECT ro.name
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY ro.name`, u.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки прямых ролей: %w", err)
	}
	result.DirectRoles = directRoles

	if u.PositionID == nil {
		return result, nil
	}

	pos := &model.Position{}
	err = r.db.QueryRow(ctx, `
		SELECT id, name, description, deleted_at, created_at, updated_at
		FROM positions WHERE id = $1`, *u.PositionID,
	).Scan(&pos.ID, &pos.Name, &pos.Description, &pos.DeletedAt, &pos.CreatedAt, &pos.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Слабая ссылка: должность могла быть удалена коллаборатором.
			return result, nil
		}
		return nil, fmt.Errorf("ошибка загрузки должности: %w", err)
	}
	result.Position = pos

	positionRoles, err := r.roleNames(ctx, `
		SELECT ro.name
		FROM position_roles pr
		JOIN roles ro ON ro.id = pr.role_id
		WHERE pr.position_id = $1
		ORDER BY ro.name`, pos.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки ролей должности: %w", err)
	}
	result.PositionRoles = positionRoles

	return result, nil
}

// roleNames выполняет запрос, возвращающий один столбец имён ролей.
func (r *userRepo) roleNames(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// nullIfEmpty возвращает nil для пустой строки (SQL NULL вместо "").
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
