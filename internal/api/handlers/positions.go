// positions.go — обработчики чтения справочника должностей.
// Должности создаются синхронизацией из IdP, ручного создания в API нет.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/hydraplatform/hydra-iam/internal/api/errors"
	"github.com/hydraplatform/hydra-iam/internal/service"
)

// ListPositions — GET /api/v1/positions.
func (h *APIHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	positions, total, err := h.positions.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка должностей", "error", err)
		apierrors.InternalError(w, "Ошибка получения списка должностей")
		return
	}

	items := make([]positionDTO, 0, len(positions))
	for _, p := range positions {
		items = append(items, mapPosition(p))
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	})
}

// GetPosition — GET /api/v1/positions/{id}.
func (h *APIHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	position, err := h.positions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Должность не найдена")
			return
		}
		h.logger.Error("Ошибка получения должности", "position_id", id, "error", err)
		apierrors.InternalError(w, "Ошибка получения должности")
		return
	}

	writeJSON(w, http.StatusOK, mapPosition(position))
}
