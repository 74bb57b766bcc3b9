// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrAccountDisabled — учётная запись отключена или удалена.
	// Вход запрещён даже при валидном утверждении от IdP.
	ErrAccountDisabled = errors.New("учётная запись отключена")
	// ErrIDPUnavailable — Identity Provider (Entra ID) недоступен.
	ErrIDPUnavailable = errors.New("Identity Provider недоступен")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)
