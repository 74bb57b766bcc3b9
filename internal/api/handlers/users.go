// users.go — административные обработчики пользователей и их прямых ролей.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/hydraplatform/hydra-iam/internal/api/errors"
	"github.com/hydraplatform/hydra-iam/internal/domain/rbac"
	"github.com/hydraplatform/hydra-iam/internal/service"
)

// ListUsers — GET /api/v1/users.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	users, total, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка пользователей", "error", err)
		apierrors.InternalError(w, "Ошибка получения списка пользователей")
		return
	}

	items := make([]userDTO, 0, len(users))
	for _, u := range users {
		items = append(items, mapUser(u))
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	})
}

// GetUser — GET /api/v1/users/{id}.
// Возвращает пользователя с прямыми ролями, должностью и эффективным
// набором ролей.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Пользователь не найден")
			return
		}
		h.logger.Error("Ошибка получения пользователя", "user_id", id, "error", err)
		apierrors.InternalError(w, "Ошибка получения пользователя")
		return
	}

	writeJSON(w, http.StatusOK, mapUserWithAccess(user, rbac.EffectiveRoles(user)))
}

// updateStatusRequest — тело запроса смены статуса учётной записи.
type updateStatusRequest struct {
	AccountStatus string `json:"accountStatus"`
}

// UpdateUserStatus — PATCH /api/v1/users/{id}/status.
func (h *APIHandler) UpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Невалидное тело запроса")
		return
	}

	user, err := h.users.UpdateStatus(r.Context(), id, req.AccountStatus)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			apierrors.ValidationError(w, "Недопустимый статус учётной записи: "+req.AccountStatus)
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Пользователь не найден")
		default:
			h.logger.Error("Ошибка смены статуса", "user_id", id, "error", err)
			apierrors.InternalError(w, "Ошибка смены статуса")
		}
		return
	}

	writeJSON(w, http.StatusOK, mapUserWithAccess(user, rbac.EffectiveRoles(user)))
}

// GetUserRoles — GET /api/v1/users/{id}/roles.
// Возвращает прямые роли, роли должности и эффективный набор.
func (h *APIHandler) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Пользователь не найден")
			return
		}
		h.logger.Error("Ошибка получения ролей пользователя", "user_id", id, "error", err)
		apierrors.InternalError(w, "Ошибка получения ролей пользователя")
		return
	}

	writeJSON(w, http.StatusOK, userRolesDTO{
		DirectRoles:    emptyIfNil(user.DirectRoles),
		PositionRoles:  emptyIfNil(user.PositionRoles),
		EffectiveRoles: rbac.EffectiveRoles(user),
	})
}

// userRolesDTO — роли пользователя в разрезе источников.
type userRolesDTO struct {
	DirectRoles    []string `json:"directRoles"`
	PositionRoles  []string `json:"positionRoles"`
	EffectiveRoles []string `json:"effectiveRoles"`
}

// AssignUserRole — POST /api/v1/users/{id}/roles/{roleId}.
// 404 — пользователь или роль не существуют, 409 — роль уже назначена.
func (h *APIHandler) AssignUserRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	roleID := chi.URLParam(r, "roleId")

	if err := h.users.AssignRole(r.Context(), userID, roleID); err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Пользователь или роль не найдены")
		case errors.Is(err, service.ErrConflict):
			apierrors.Conflict(w, "Роль уже назначена пользователю")
		default:
			h.logger.Error("Ошибка назначения роли",
				"user_id", userID, "role_id", roleID, "error", err)
			apierrors.InternalError(w, "Ошибка назначения роли")
		}
		return
	}

	user, err := h.users.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("Ошибка перечитывания пользователя", "user_id", userID, "error", err)
		apierrors.InternalError(w, "Ошибка перечитывания пользователя")
		return
	}

	writeJSON(w, http.StatusCreated, mapUserWithAccess(user, rbac.EffectiveRoles(user)))
}

// RemoveUserRole — DELETE /api/v1/users/{id}/roles/{roleId}.
// 404 — назначение отсутствует, 204 — успех.
func (h *APIHandler) RemoveUserRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	roleID := chi.URLParam(r, "roleId")

	if err := h.users.RemoveRole(r.Context(), userID, roleID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Назначение роли не найдено")
			return
		}
		h.logger.Error("Ошибка снятия роли",
			"user_id", userID, "role_id", roleID, "error", err)
		apierrors.InternalError(w, "Ошибка снятия роли")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListRoles — GET /api/v1/roles. Справочник ролей.
func (h *APIHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.users.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения справочника ролей", "error", err)
		apierrors.InternalError(w, "Ошибка получения справочника ролей")
		return
	}

	items := make([]roleDTO, 0, len(roles))
	for _, role := range roles {
		items = append(items, mapRole(role))
	}
	writeJSON(w, http.StatusOK, items)
}
