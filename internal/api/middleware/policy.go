// policy.go — статическая политика доступа к операциям API.
// Каждая операция имеет идентификатор; таблица operationRoles задаёт
// требуемые роли. Операция доступна, если у Principal есть хотя бы одна
// из требуемых ролей (any-of). Операция без записи в таблице недостижима.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	apierrors "github.com/hydraplatform/hydra-iam/internal/api/errors"
	"github.com/hydraplatform/hydra-iam/internal/domain/model"
)

// Идентификаторы защищённых операций API.
const (
	OpPlatformsMyAccess = "platforms.my_access"
	OpUsersList         = "users.list"
	OpUsersGet          = "users.get"
	OpUsersUpdateStatus = "users.update_status"
	OpUserRolesList     = "users.roles.list"
	OpUserRolesAssign   = "users.roles.assign"
	OpUserRolesRemove   = "users.roles.remove"
	OpPositionsList     = "positions.list"
	OpPositionsGet      = "positions.get"
	OpRolesList         = "roles.list"
)

// operationRoles — таблица требуемых ролей по операциям.
// Просмотр своих платформ доступен любому пользователю с базовой ролью,
// остальные операции — административные.
var operationRoles = map[string][]string{
	OpPlatformsMyAccess: {model.RoleUser, model.RoleAdmin},
	OpUsersList:         {model.RoleAdmin},
	OpUsersGet:          {model.RoleAdmin},
	OpUsersUpdateStatus: {model.RoleAdmin},
	OpUserRolesList:     {model.RoleAdmin},
	OpUserRolesAssign:   {model.RoleAdmin},
	OpUserRolesRemove:   {model.RoleAdmin},
	OpPositionsList:     {model.RoleAdmin},
	OpPositionsGet:      {model.RoleAdmin},
	OpRolesList:         {model.RoleAdmin},
}

// RequireOperation возвращает middleware, проверяющий доступ к операции
// по таблице operationRoles. Неизвестная операция запрещена всем.
// Должен использоваться ПОСЛЕ Authenticator.Middleware().
func RequireOperation(operation string) func(http.Handler) http.Handler {
	return RequireRoles(operationRoles[operation]...)
}

// RequireRoles возвращает middleware, требующий хотя бы одну из указанных
// ролей. Пустой список ролей запрещает операцию всем.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil {
				apierrors.Unauthorized(w, "Отсутствует Principal в контексте")
				return
			}

			if !principal.HasAnyRole(roles...) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(roles, " или ")))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
