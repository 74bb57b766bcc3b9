package model

import "time"

// Platform — внутренняя платформа, доступ к которой гейтится ролями.
// Платформа видна пользователю, если она активна, не удалена и хотя бы
// одна из требуемых ролей входит в эффективный набор ролей пользователя.
// Платформа без требуемых ролей недостижима — пустой набор не означает
// «открыта для всех».
type Platform struct {
	// ID — UUID записи.
	ID string
	// Name — человекочитаемое имя платформы.
	Name string
	// Code — короткий уникальный код (например, "crm").
	Code string
	// URL — адрес платформы.
	URL string
	// IsActive — включена ли платформа.
	IsActive bool
	// DeletedAt — время soft delete; nil для действующих платформ.
	DeletedAt *time.Time
	// CreatedAt — время создания записи.
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time
}
