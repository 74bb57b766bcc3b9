package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/hydraplatform/hydra-iam/internal/auth"
	"github.com/hydraplatform/hydra-iam/internal/domain/model"
)

const (
	testSecret   = "test-secret"
	testIssuer   = "hydra-iam"
	testAudience = "internal-platforms"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestAuthenticator создаёт Authenticator и Issuer с одним секретом.
func newTestAuthenticator(t *testing.T) (*Authenticator, *auth.TokenIssuer) {
	t.Helper()
	validator, err := auth.NewTokenValidator(testSecret, testIssuer, testAudience, 0)
	if err != nil {
		t.Fatalf("Ошибка создания TokenValidator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(testSecret, testIssuer, testAudience, 15*time.Minute)
	if err != nil {
		t.Fatalf("Ошибка создания TokenIssuer: %v", err)
	}
	return NewAuthenticator(validator, testLogger()), issuer
}

// issueToken выпускает токен с указанными ролями.
func issueToken(t *testing.T, issuer *auth.TokenIssuer, roles []string) string {
	t.Helper()
	token, err := issuer.Issue(&auth.Principal{
		ID:    "user-1",
		Email: "ivanov@example.com",
		Name:  "Иван Иванов",
		Roles: roles,
	})
	if err != nil {
		t.Fatalf("Ошибка выпуска токена: %v", err)
	}
	return token
}

// echoPrincipal — handler, возвращающий ID Principal из контекста.
func echoPrincipal(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		http.Error(w, "нет Principal", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(principal.ID))
}

// TestAuthenticatorBearerToken: валидный Bearer-токен пропускается,
// Principal доступен в контексте.
func TestAuthenticatorBearerToken(t *testing.T) {
	a, issuer := newTestAuthenticator(t)
	handler := a.Middleware()(http.HandlerFunc(echoPrincipal))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, issuer, []string{"USER"}))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", w.Code)
	}
	if w.Body.String() != "user-1" {
		t.Errorf("тело = %q, ожидается user-1", w.Body.String())
	}
}

// TestAuthenticatorCookieToken: токен из cookie access_token принимается.
func TestAuthenticatorCookieToken(t *testing.T) {
	a, issuer := newTestAuthenticator(t)
	handler := a.Middleware()(http.HandlerFunc(echoPrincipal))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.AccessTokenCookieName, Value: issueToken(t, issuer, []string{"USER"})})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", w.Code)
	}
}

// TestAuthenticatorRejectsMissingToken: запрос без токена → 401 в
// стандартном формате ошибки.
func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	handler := a.Middleware()(http.HandlerFunc(echoPrincipal))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("статус = %d, ожидается 401", w.Code)
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело не JSON: %v", err)
	}
	if body.Error.Code != "UNAUTHORIZED" {
		t.Errorf("code = %q, ожидается UNAUTHORIZED", body.Error.Code)
	}
}

// TestAuthenticatorRejectsGarbageToken: мусорный токен → 401.
func TestAuthenticatorRejectsGarbageToken(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	handler := a.Middleware()(http.HandlerFunc(echoPrincipal))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("статус = %d, ожидается 401", w.Code)
	}
}

// TestRequireRoles проверяет политику any-of.
func TestRequireRoles(t *testing.T) {
	tests := []struct {
		name       string
		userRoles  []string
		required   []string
		wantStatus int
	}{
		{"совпадение одной роли", []string{model.RoleUser}, []string{model.RoleUser, model.RoleAdmin}, http.StatusOK},
		{"роль администратора", []string{model.RoleAdmin}, []string{model.RoleAdmin}, http.StatusOK},
		{"нет требуемой роли", []string{model.RoleUser}, []string{model.RoleAdmin}, http.StatusForbidden},
		{"без ролей", nil, []string{model.RoleUser}, http.StatusForbidden},
		{"пустое требование — операция недостижима", []string{model.RoleAdmin}, nil, http.StatusForbidden},
	}

	a, issuer := newTestAuthenticator(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := a.Middleware()(RequireRoles(tt.required...)(http.HandlerFunc(echoPrincipal)))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
			req.Header.Set("Authorization", "Bearer "+issueToken(t, issuer, tt.userRoles))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидается %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// TestRequireOperation: доступ к операциям определяется таблицей
// operationRoles; неизвестная операция запрещена даже администратору.
func TestRequireOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		userRoles  []string
		wantStatus int
	}{
		{"администратор к административной операции", OpUsersList, []string{model.RoleAdmin}, http.StatusOK},
		{"пользователь к административной операции", OpUsersList, []string{model.RoleUser}, http.StatusForbidden},
		{"пользователь к своим платформам", OpPlatformsMyAccess, []string{model.RoleUser}, http.StatusOK},
		{"администратор к своим платформам", OpPlatformsMyAccess, []string{model.RoleAdmin}, http.StatusOK},
		{"неизвестная операция запрещена всем", "users.export", []string{model.RoleAdmin}, http.StatusForbidden},
	}

	a, issuer := newTestAuthenticator(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := a.Middleware()(RequireOperation(tt.operation)(http.HandlerFunc(echoPrincipal)))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
			req.Header.Set("Authorization", "Bearer "+issueToken(t, issuer, tt.userRoles))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидается %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// TestNormalizePath проверяет нормализацию путей для метрик.
func TestNormalizePath(t *testing.T) {
	const id = "a1b2c3d4-e5f6-7890-abcd-ef1234567890"

	tests := []struct {
		input    string
		expected string
	}{
		{"/health/live", "/health/live"},
		{"/auth/microsoft/callback", "/auth/microsoft/callback"},
		{"/platforms/me/access", "/platforms/me/access"},
		{"/api/v1/platforms/me/access", "/api/v1/platforms/me/access"},
		{"/api/v1/users", "/api/v1/users"},
		{"/api/v1/users/" + id, "/api/v1/users/{id}"},
		{"/api/v1/users/" + id + "/status", "/api/v1/users/{id}/status"},
		{"/api/v1/users/" + id + "/roles", "/api/v1/users/{id}/roles"},
		{"/api/v1/users/" + id + "/roles/" + id, "/api/v1/users/{id}/roles/{roleId}"},
		{"/api/v1/positions/" + id, "/api/v1/positions/{id}"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizePath(tt.input); got != tt.expected {
				t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.input, got, tt.expected)
			}
		})
	}
}
