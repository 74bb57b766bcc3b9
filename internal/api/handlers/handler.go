// handler.go — основной обработчик API hydra-iam.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hydraplatform/hydra-iam/internal/domain/model"
	"github.com/hydraplatform/hydra-iam/internal/service"
)

// APIHandler — основной обработчик API hydra-iam.
type APIHandler struct {
	health    *HealthHandler
	auth      *AuthHandler
	users     *service.UserService
	positions *service.PositionService
	platforms *service.PlatformService
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	auth *AuthHandler,
	users *service.UserService,
	positions *service.PositionService,
	platforms *service.PlatformService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		auth:      auth,
		users:     users,
		positions: positions,
		platforms: platforms,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// Health возвращает обработчик health endpoints.
func (h *APIHandler) Health() *HealthHandler { return h.health }

// Auth возвращает обработчики аутентификации.
func (h *APIHandler) Auth() *AuthHandler { return h.auth }

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationParams извлекает и нормализует limit/offset из query string.
func paginationParams(r *http.Request) (limit, offset int) {
	limit = 100
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// listResponse — обёртка списочных ответов с пагинацией.
type listResponse struct {
	Items   any  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// --- DTO и маппинг domain → API ---

// userDTO — представление пользователя в API.
type userDTO struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	ExternalID    *string   `json:"externalId"`
	PositionID    *string   `json:"positionId"`
	AccountStatus string    `json:"accountStatus"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// userWithAccessDTO — пользователь с ролями и должностью.
type userWithAccessDTO struct {
	userDTO
	DirectRoles    []string     `json:"directRoles"`
	Position       *positionDTO `json:"position"`
	PositionRoles  []string     `json:"positionRoles"`
	EffectiveRoles []string     `json:"effectiveRoles"`
}

// positionDTO — представление должности в API.
type positionDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// roleDTO — представление роли в API.
type roleDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// platformDTO — представление платформы в API.
type platformDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	URL      string `json:"url"`
	IsActive bool   `json:"isActive"`
}

func mapUser(u *model.User) userDTO {
	return userDTO{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		ExternalID:    u.ExternalID,
		PositionID:    u.PositionID,
		AccountStatus: string(u.AccountStatus),
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func mapUserWithAccess(u *model.UserWithAccess, effectiveRoles []string) userWithAccessDTO {
	dto := userWithAccessDTO{
		userDTO:        mapUser(&u.User),
		DirectRoles:    emptyIfNil(u.DirectRoles),
		PositionRoles:  emptyIfNil(u.PositionRoles),
		EffectiveRoles: emptyIfNil(effectiveRoles),
	}
	if u.Position != nil {
		p := mapPosition(u.Position)
		dto.Position = &p
	}
	return dto
}

func mapPosition(p *model.Position) positionDTO {
	return positionDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func mapRole(role *model.Role) roleDTO {
	return roleDTO{
		ID:        role.ID,
		Name:      role.Name,
		CreatedAt: role.CreatedAt,
	}
}

func mapPlatform(p *model.Platform) platformDTO {
	return platformDTO{
		ID:       p.ID,
		Name:     p.Name,
		Code:     p.Code,
		URL:      p.URL,
		IsActive: p.IsActive,
	}
}

// emptyIfNil заменяет nil-срез пустым: в JSON уходит [], а не null.
func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
