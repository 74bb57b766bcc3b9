// platforms.go — обработчик списка платформ, доступных текущему
// пользователю. Видимость вычисляется по ролям из токена.
package handlers

import (
	"net/http"

	apierrors "github.com/hydraplatform/hydra-iam/internal/api/errors"
	"github.com/hydraplatform/hydra-iam/internal/api/middleware"
)

// ListMyPlatforms — GET /platforms/me/access (и алиас под /api/v1).
// Возвращает активные неудалённые платформы, требуемые роли которых
// пересекаются с ролями Principal.
func (h *APIHandler) ListMyPlatforms(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		apierrors.Unauthorized(w, "Отсутствует Principal в контексте")
		return
	}

	platforms, err := h.platforms.ListAccessible(r.Context(), principal.Roles)
	if err != nil {
		h.logger.Error("Ошибка получения доступных платформ",
			"user_id", principal.ID, "error", err)
		apierrors.InternalError(w, "Ошибка получения доступных платформ")
		return
	}

	items := make([]platformDTO, 0, len(platforms))
	for _, p := range platforms {
		items = append(items, mapPlatform(p))
	}
	writeJSON(w, http.StatusOK, items)
}
