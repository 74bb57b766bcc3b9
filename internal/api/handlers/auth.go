// auth.go — обработчики входа через Entra ID и /auth/me.
// GET /auth/microsoft/login    — redirect на вход IdP
// GET /auth/microsoft/callback — завершение входа, redirect на frontend
// GET /auth/me                 — личность текущего запроса (снимок из токена)
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	apierrors "github.com/hydraplatform/hydra-iam/internal/api/errors"
	"github.com/hydraplatform/hydra-iam/internal/api/middleware"
	"github.com/hydraplatform/hydra-iam/internal/auth"
	"github.com/hydraplatform/hydra-iam/internal/service"
)

// AuthHandler — обработчики аутентификации.
type AuthHandler struct {
	auth        *service.AuthService
	stateCipher *auth.StateCipher
	frontendURL string
	logger      *slog.Logger
}

// NewAuthHandler создаёт обработчики аутентификации.
func NewAuthHandler(
	authService *service.AuthService,
	stateCipher *auth.StateCipher,
	frontendURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:        authService,
		stateCipher: stateCipher,
		frontendURL: frontendURL,
		logger:      logger.With(slog.String("component", "auth_handler")),
	}
}

// Login — GET /auth/microsoft/login.
// Создаёт пару state/nonce, сохраняет её в зашифрованном cookie и
// перенаправляет пользователя на вход Entra ID.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, nonce, err := h.stateCipher.Issue(w, r)
	if err != nil {
		h.logger.Error("Ошибка создания state/nonce", "error", err)
		apierrors.InternalError(w, "Ошибка инициализации входа")
		return
	}

	http.Redirect(w, r, h.auth.LoginURL(state, nonce), http.StatusFound)
}

// Callback — GET /auth/microsoft/callback.
// Проверяет state, завершает code flow и перенаправляет на frontend
// с access-токеном в query string.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// IdP сообщил об ошибке (пользователь отменил вход и т.п.)
	if errCode := q.Get("error"); errCode != "" {
		h.logger.Warn("IdP вернул ошибку в callback",
			"error", errCode,
			"description", q.Get("error_description"),
		)
		apierrors.Unauthorized(w, "Вход через Entra ID не завершён: "+errCode)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		apierrors.ValidationError(w, "Отсутствуют обязательные параметры code и state")
		return
	}

	// state одноразовый: повтор или подделка отклоняются здесь
	nonce, err := h.stateCipher.Consume(w, r, state)
	if err != nil {
		apierrors.Unauthorized(w, "Невалидный или истёкший state")
		return
	}

	token, err := h.auth.Callback(r.Context(), code, nonce)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccountDisabled):
			apierrors.AccountDisabled(w, "Учётная запись отключена")
		case errors.Is(err, service.ErrIDPUnavailable):
			apierrors.IDPUnavailable(w, "Entra ID недоступен")
		case errors.Is(err, service.ErrValidation):
			apierrors.Unauthorized(w, "Вход через Entra ID не подтверждён")
		default:
			h.logger.Error("Ошибка завершения входа", "error", err)
			apierrors.InternalError(w, "Ошибка завершения входа")
		}
		return
	}

	redirect := h.frontendURL + "/auth/callback?token=" + url.QueryEscape(token)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Me — GET /auth/me.
// Возвращает личность текущего запроса. Роли — снимок на момент
// выпуска токена, без обращения к БД.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		apierrors.Unauthorized(w, "Отсутствует Principal в контексте")
		return
	}

	writeJSON(w, http.StatusOK, principalDTO{
		ID:         principal.ID,
		Email:      principal.Email,
		Name:       principal.Name,
		Roles:      emptyIfNil(principal.Roles),
		PositionID: principal.PositionID,
	})
}

// principalDTO — представление личности запроса в API.
type principalDTO struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	Roles      []string `json:"roles"`
	PositionID string   `json:"positionId,omitempty"`
}
