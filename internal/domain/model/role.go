package model

import "time"

// Роли, на которые опирается ядро. Остальные роли — административные данные.
const (
	// RoleUser — базовая роль, выдаётся каждому новому пользователю.
	RoleUser = "USER"
	// RoleAdmin — роль администратора, открывает служебные endpoints.
	RoleAdmin = "ADMIN"
)

// Role — справочник ролей. Имя глобально уникально.
type Role struct {
	// ID — UUID записи.
	ID string
	// Name — имя роли (например, "ADMIN", "USER").
	Name string
	// CreatedAt — время создания записи.
	CreatedAt time.Time
}
