package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hydraplatform/hydra-iam/internal/config"
	"github.com/hydraplatform/hydra-iam/internal/database"
	"github.com/hydraplatform/hydra-iam/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool; контейнер и пул закрываются через t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("hydra_iam_test"),
		postgres.WithUsername("hydra"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("IAM_DB_HOST", host)
	os.Setenv("IAM_DB_PORT", port.Port())
	os.Setenv("IAM_DB_NAME", "hydra_iam_test")
	os.Setenv("IAM_DB_USER", "hydra")
	os.Setenv("IAM_DB_PASSWORD", "test-password")
	os.Setenv("IAM_DB_SSL_MODE", "disable")
	os.Setenv("IAM_JWT_SECRET", "test-secret")
	os.Setenv("IAM_ENTRA_CLIENT_ID", "test")
	os.Setenv("IAM_ENTRA_CLIENT_SECRET", "test")
	os.Setenv("IAM_ENTRA_REDIRECT_URI", "http://localhost:8080/auth/microsoft/callback")
	os.Setenv("IAM_STATE_SECRET", "test-state-secret")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// createTestUser вставляет пользователя и возвращает его.
func createTestUser(t *testing.T, repo UserRepository, email string, externalID *string) *model.User {
	t.Helper()
	u := &model.User{
		Name:          "Иван Иванов",
		Email:         email,
		ExternalID:    externalID,
		AccountStatus: model.AccountActive,
	}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	return u
}

func strPtr(s string) *string { return &s }

// --- Тесты UserRepository ---

func TestUserCreateAndLookup(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	u := createTestUser(t, repo, "ivanov@example.com", strPtr("oid-0001"))
	if u.ID == "" {
		t.Fatal("ID не установлен после Create")
	}
	if u.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// GetWithAccessByID
	got, err := repo.GetWithAccessByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetWithAccessByID() ошибка: %v", err)
	}
	if got.Email != "ivanov@example.com" {
		t.Errorf("Email = %q, хотели %q", got.Email, "ivanov@example.com")
	}

	// Поиск по external_id
	got2, err := repo.FindWithAccessByExternalIDOrEmail(ctx, "oid-0001", "other@example.com")
	if err != nil {
		t.Fatalf("Поиск по external_id ошибка: %v", err)
	}
	if got2.ID != u.ID {
		t.Errorf("ID = %q, хотели %q", got2.ID, u.ID)
	}

	// Поиск по email (запись без external_id-совпадения)
	got3, err := repo.FindWithAccessByExternalIDOrEmail(ctx, "oid-unknown", "ivanov@example.com")
	if err != nil {
		t.Fatalf("Поиск по email ошибка: %v", err)
	}
	if got3.ID != u.ID {
		t.Errorf("ID = %q, хотели %q", got3.ID, u.ID)
	}

	// Ничего не совпало
	_, err = repo.FindWithAccessByExternalIDOrEmail(ctx, "oid-unknown", "unknown@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидали ErrNotFound, получили: %v", err)
	}
}

// TestUserLookupPrefersExternalID: при совпадении разных записей по
// external_id и по email предпочитается совпадение по external_id.
func TestUserLookupPrefersExternalID(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	byExternal := createTestUser(t, repo, "first@example.com", strPtr("oid-pref"))
	createTestUser(t, repo, "second@example.com", nil)

	got, err := repo.FindWithAccessByExternalIDOrEmail(ctx, "oid-pref", "second@example.com")
	if err != nil {
		t.Fatalf("Поиск ошибка: %v", err)
	}
	if got.ID != byExternal.ID {
		t.Errorf("найден ID = %q, хотели запись с external_id %q", got.ID, byExternal.ID)
	}
}

// TestUserLookupIgnoresNullExternalID: пустой external_id в запросе не
// совпадает с записями, у которых external_id IS NULL.
func TestUserLookupIgnoresNullExternalID(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	createTestUser(t, repo, "nulloid@example.com", nil)

	_, err := repo.FindWithAccessByExternalIDOrEmail(ctx, "", "other@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидали ErrNotFound, получили: %v", err)
	}
}

func TestUserCreateConflict(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	createTestUser(t, repo, "dup@example.com", strPtr("oid-dup"))

	// Дублирующийся email
	err := repo.Create(ctx, &model.User{
		Name: "Другой", Email: "dup@example.com", AccountStatus: model.AccountActive,
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("дубликат email: ожидали ErrConflict, получили: %v", err)
	}

	// Дублирующийся external_id
	err = repo.Create(ctx, &model.User{
		Name: "Третий", Email: "third@example.com",
		ExternalID: strPtr("oid-dup"), AccountStatus: model.AccountActive,
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("дубликат external_id: ожидали ErrConflict, получили: %v", err)
	}
}

func TestUserUpdateIdentityAndStatus(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	u := createTestUser(t, repo, "update@example.com", nil)

	// Бэкофилл external_id и смена имени
	err := repo.UpdateIdentity(ctx, u.ID, strPtr("oid-upd"), nil, "Пётр Петров", "update@example.com")
	if err != nil {
		t.Fatalf("UpdateIdentity() ошибка: %v", err)
	}
	got, _ := repo.GetWithAccessByID(ctx, u.ID)
	if got.ExternalID == nil || *got.ExternalID != "oid-upd" {
		t.Errorf("ExternalID = %v, хотели oid-upd", got.ExternalID)
	}
	if got.Name != "Пётр Петров" {
		t.Errorf("Name = %q, хотели %q", got.Name, "Пётр Петров")
	}

	// Смена статуса
	if err := repo.UpdateStatus(ctx, u.ID, model.AccountDisabled); err != nil {
		t.Fatalf("UpdateStatus() ошибка: %v", err)
	}
	got2, _ := repo.GetWithAccessByID(ctx, u.ID)
	if got2.AccountStatus != model.AccountDisabled {
		t.Errorf("AccountStatus = %q, хотели %q", got2.AccountStatus, model.AccountDisabled)
	}

	// Несуществующий пользователь
	err = repo.UpdateStatus(ctx, uuid.NewString(), model.AccountActive)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидали ErrNotFound, получили: %v", err)
	}
}

// TestUserListExcludesDeleted: помеченные удалёнными записи не попадают
// в список и не учитываются в total.
func TestUserListExcludesDeleted(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	alive := createTestUser(t, repo, "alive@example.com", nil)
	gone := createTestUser(t, repo, "gone@example.com", nil)
	if err := repo.UpdateStatus(ctx, gone.ID, model.AccountDeleted); err != nil {
		t.Fatalf("UpdateStatus() ошибка: %v", err)
	}

	users, total, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, хотели 1", total)
	}
	if len(users) != 1 || users[0].ID != alive.ID {
		t.Errorf("List() вернул не ту запись: %+v", users)
	}
}

func TestUserRoles(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	userRepo := NewUserRepository(pool)
	roleRepo := NewRoleRepository(pool)

	u := createTestUser(t, userRepo, "roles@example.com", nil)

	// GrantRoleByName — идемпотентная выдача базовой роли
	if err := userRepo.GrantRoleByName(ctx, u.ID, model.RoleUser); err != nil {
		t.Fatalf("GrantRoleByName() ошибка: %v", err)
	}
	if err := userRepo.GrantRoleByName(ctx, u.ID, model.RoleUser); err != nil {
		t.Fatalf("Повторный GrantRoleByName() ошибка: %v", err)
	}

	// Несуществующая роль
	err := userRepo.GrantRoleByName(ctx, u.ID, "NO_SUCH_ROLE")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GrantRoleByName несуществующей роли: ожидали ErrNotFound, получили: %v", err)
	}

	// AssignRole: повтор пары → ErrConflict
	admin, err := roleRepo.GetByName(ctx, model.RoleAdmin)
	if err != nil {
		t.Fatalf("GetByName(ADMIN) ошибка: %v", err)
	}
	if err := userRepo.AssignRole(ctx, u.ID, admin.ID); err != nil {
		t.Fatalf("AssignRole() ошибка: %v", err)
	}
	err = userRepo.AssignRole(ctx, u.ID, admin.ID)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("повторный AssignRole: ожидали ErrConflict, получили: %v", err)
	}

	// Гидрированный агрегат: прямые роли отсортированы по имени
	got, err := userRepo.GetWithAccessByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetWithAccessByID() ошибка: %v", err)
	}
	if len(got.DirectRoles) != 2 || got.DirectRoles[0] != model.RoleAdmin || got.DirectRoles[1] != model.RoleUser {
		t.Errorf("DirectRoles = %v, хотели [ADMIN USER]", got.DirectRoles)
	}

	// RemoveRole: снятие и повтор
	if err := userRepo.RemoveRole(ctx, u.ID, admin.ID); err != nil {
		t.Fatalf("RemoveRole() ошибка: %v", err)
	}
	err = userRepo.RemoveRole(ctx, u.ID, admin.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный RemoveRole: ожидали ErrNotFound, получили: %v", err)
	}
}

// --- Тесты PositionRepository ---

func TestPositionFindOrCreate(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewPositionRepository(pool)

	p1, err := repo.FindOrCreateByName(ctx, "Старший инженер", "Synchronized from the corporate directory")
	if err != nil {
		t.Fatalf("FindOrCreateByName() ошибка: %v", err)
	}
	if p1.ID == "" {
		t.Fatal("ID не установлен")
	}
	if p1.Description != "Synchronized from the corporate directory" {
		t.Errorf("Description = %q, ожидается сгенерированное описание", p1.Description)
	}

	// Повторный вызов возвращает ту же запись
	p2, err := repo.FindOrCreateByName(ctx, "Старший инженер", "Synchronized from the corporate directory")
	if err != nil {
		t.Fatalf("Повторный FindOrCreateByName() ошибка: %v", err)
	}
	if p2.ID != p1.ID {
		t.Errorf("повторный вызов вернул другую запись: %q != %q", p2.ID, p1.ID)
	}

	// GetByID и List
	got, err := repo.GetByID(ctx, p1.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Name != "Старший инженер" {
		t.Errorf("Name = %q", got.Name)
	}

	list, total, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Errorf("List() total=%d, len=%d; хотели 1/1", total, len(list))
	}
}

// TestPositionFindOrCreateConcurrent: конкурентные вызовы с одним именем
// сходятся на одной записи.
func TestPositionFindOrCreateConcurrent(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewPositionRepository(pool)

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			p, err := repo.FindOrCreateByName(ctx, "Аналитик", "")
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			ids[i] = p.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("worker %d получил другую запись: %q != %q", i, ids[i], ids[0])
		}
	}

	_, total, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if total != 1 {
		t.Errorf("в таблице %d должностей, хотели 1", total)
	}
}

// --- Тесты RoleRepository ---

func TestRoleSeedAndLookup(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRoleRepository(pool)

	// Сидированные роли из миграции
	user, err := repo.GetByName(ctx, model.RoleUser)
	if err != nil {
		t.Fatalf("GetByName(USER) ошибка: %v", err)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Name != model.RoleUser {
		t.Errorf("Name = %q, хотели USER", got.Name)
	}

	roles, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(roles) != 2 {
		t.Errorf("List() вернул %d ролей, хотели 2 (ADMIN, USER)", len(roles))
	}

	_, err = repo.GetByName(ctx, "NO_SUCH_ROLE")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидали ErrNotFound, получили: %v", err)
	}
}

// --- Тесты PlatformRepository ---

// createTestPlatform вставляет платформу с требуемыми ролями.
func createTestPlatform(t *testing.T, pool *pgxpool.Pool, name, code string, isActive, deleted bool, roleNames ...string) string {
	t.Helper()
	ctx := context.Background()

	var id string
	query := `
		INSERT INTO platforms (name, code, url, is_active, deleted_at)
		VALUES ($1, $2, $3, $4, CASE WHEN $5 THEN now() ELSE NULL END)
		RETURNING id`
	if err := pool.QueryRow(ctx, query, name, code, "https://"+code+".example.com", isActive, deleted).Scan(&id); err != nil {
		t.Fatalf("Создание платформы %q: %v", name, err)
	}

	for _, roleName := range roleNames {
		_, err := pool.Exec(ctx, `
			INSERT INTO platform_roles (platform_id, role_id)
			SELECT $1, id FROM roles WHERE name = $2`, id, roleName)
		if err != nil {
			t.Fatalf("Привязка роли %q к платформе: %v", roleName, err)
		}
	}
	return id
}

func TestPlatformVisibility(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewPlatformRepository(pool)

	visible := createTestPlatform(t, pool, "Wiki", "wiki", true, false, model.RoleUser)
	createTestPlatform(t, pool, "Admin Console", "admin-console", true, false, model.RoleAdmin)
	createTestPlatform(t, pool, "Inactive", "inactive", false, false, model.RoleUser)
	createTestPlatform(t, pool, "Deleted", "deleted", true, true, model.RoleUser)
	createTestPlatform(t, pool, "No Roles", "no-roles", true, false)

	// Пользователь с ролью USER видит только активную платформу с ролью USER
	platforms, err := repo.ListAccessibleByRoles(ctx, []string{model.RoleUser})
	if err != nil {
		t.Fatalf("ListAccessibleByRoles() ошибка: %v", err)
	}
	if len(platforms) != 1 || platforms[0].ID != visible {
		t.Errorf("видимые платформы = %+v, хотели одну (Wiki)", platforms)
	}

	// Пересечение по любой из ролей (any-of)
	platforms2, err := repo.ListAccessibleByRoles(ctx, []string{model.RoleUser, model.RoleAdmin})
	if err != nil {
		t.Fatalf("ListAccessibleByRoles() ошибка: %v", err)
	}
	if len(platforms2) != 2 {
		t.Errorf("видимых платформ = %d, хотели 2", len(platforms2))
	}

	// Пустой набор ролей — пустой результат
	platforms3, err := repo.ListAccessibleByRoles(ctx, nil)
	if err != nil {
		t.Fatalf("ListAccessibleByRoles(nil) ошибка: %v", err)
	}
	if len(platforms3) != 0 {
		t.Errorf("для пустого набора ролей вернулось %d платформ", len(platforms3))
	}
}
