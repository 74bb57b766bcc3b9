// Пакет rbac — вычисление эффективного набора ролей и проверка доступа.
// Эффективные роли = объединение прямых ролей пользователя и ролей его
// должности. Источники равноправны: без весов и приоритетов, дубликаты
// схлопываются. Набор вычисляется по требованию из свежезагруженного
// агрегата и не кэшируется между запросами.
package rbac

import (
	"sort"

	"github.com/hydraplatform/hydra-iam/internal/domain/model"
)

// EffectiveRoles возвращает дедуплицированное объединение прямых ролей
// и ролей должности. Результат отсортирован для детерминизма; порядок
// не несёт смысловой нагрузки.
func EffectiveRoles(u *model.UserWithAccess) []string {
	return Union(u.DirectRoles, u.PositionRoles)
}

// Union объединяет два набора имён ролей, убирая дубликаты и пустые строки.
func Union(direct, inherited []string) []string {
	seen := make(map[string]bool, len(direct)+len(inherited))
	for _, r := range direct {
		if r != "" {
			seen[r] = true
		}
	}
	for _, r := range inherited {
		if r != "" {
			seen[r] = true
		}
	}

	result := make([]string, 0, len(seen))
	for r := range seen {
		result = append(result, r)
	}
	sort.Strings(result)
	return result
}

// HasAnyRole проверяет any-of семантику доступа: пересечение ролей
// субъекта с требуемыми ролями непусто. Пустой список required всегда
// означает отказ.
func HasAnyRole(principalRoles, required []string) bool {
	if len(required) == 0 {
		return false
	}
	set := make(map[string]bool, len(principalRoles))
	for _, r := range principalRoles {
		set[r] = true
	}
	for _, r := range required {
		if set[r] {
			return true
		}
	}
	return false
}
