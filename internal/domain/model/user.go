// Пакет model — доменные модели hydra-iam.
package model

import "time"

// AccountStatus — статус учётной записи пользователя.
// Заменяет пару флагов isActive/deletedAt одним явным перечислением.
type AccountStatus string

const (
	// AccountActive — учётная запись активна, вход разрешён.
	AccountActive AccountStatus = "active"
	// AccountDisabled — учётная запись отключена администратором.
	AccountDisabled AccountStatus = "disabled"
	// AccountDeleted — учётная запись помечена удалённой (soft delete).
	AccountDeleted AccountStatus = "deleted"
)

// IsValidAccountStatus проверяет, является ли строка допустимым статусом.
func IsValidAccountStatus(s string) bool {
	switch AccountStatus(s) {
	case AccountActive, AccountDisabled, AccountDeleted:
		return true
	}
	return false
}

// User — локальная учётная запись, провиженится при первом входе через Entra ID
// или создаётся администратором.
type User struct {
	// ID — UUID записи.
	ID string
	// Name — отображаемое имя пользователя.
	Name string
	// Email — адрес электронной почты (глобально уникален).
	Email string
	// ExternalID — идентификатор в Entra ID (oid), уникален; nil до первого SSO-входа.
	ExternalID *string
	// PositionID — должность пользователя; nil, если должность неизвестна.
	PositionID *string
	// AccountStatus — статус учётной записи.
	AccountStatus AccountStatus
	// CreatedAt — время создания записи.
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time
}

// UserWithAccess — пользователь с жадно загруженными связями.
// Формируется репозиторием одним набором запросов: прямые роли,
// должность и роли должности. Движок разрешения ролей работает
// только с этим агрегатом и не знает о хранилище.
type UserWithAccess struct {
	User
	// DirectRoles — имена ролей, назначенных пользователю напрямую.
	DirectRoles []string
	// Position — должность пользователя; nil, если не назначена.
	Position *Position
	// PositionRoles — имена ролей, наследуемых от должности.
	PositionRoles []string
}
