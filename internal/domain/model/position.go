package model

import "time"

// Position — должность (job title) из корпоративного справочника.
// Создаётся автоматически при первом появлении нового названия должности.
// Имя уникально среди неудалённых записей.
type Position struct {
	// ID — UUID записи.
	ID string
	// Name — нормализованное название должности.
	Name string
	// Description — описание; для автоматически созданных записей генерируется.
	Description string
	// DeletedAt — время soft delete; nil для действующих должностей.
	DeletedAt *time.Time
	// CreatedAt — время создания записи.
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time
}
