package entra

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-entra"

const (
	testTenant   = "tenant-test"
	testClientID = "client-id-test"
)

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	nB64 := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	eB64 := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   nB64,
				"e":   eB64,
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// idTokenOverrides — переопределение claims тестового id_token.
type idTokenOverrides map[string]any

// generateIDToken генерирует id_token с типовыми claims Entra ID.
func generateIDToken(t *testing.T, key *rsa.PrivateKey, issuer, nonce string, overrides idTokenOverrides) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":                "sub-0001",
		"oid":                "oid-0001",
		"preferred_username": "ivanov@example.com",
		"name":               "Иван Иванов",
		"nonce":              nonce,
		"aud":                testClientID,
		"iss":                issuer,
		"exp":                jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"nbf":                jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	for k, v := range overrides {
		if v == nil {
			delete(claims, k)
		} else {
			claims[k] = v
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

// testIdP — mock Entra ID + Graph на одном httptest-сервере.
type testIdP struct {
	server *httptest.Server
	// idToken — id_token, возвращаемый token endpoint.
	idToken string
	// tokenStatus — статус token endpoint (0 → 200).
	tokenStatus int
	// jobTitle — jobTitle из Graph.
	jobTitle string
	// graphStatus — статус Graph endpoint (0 → 200).
	graphStatus int
	// lastTokenForm — последний form-запрос к token endpoint.
	lastTokenForm url.Values
}

// newTestIdP поднимает mock-сервер Entra ID + Graph.
func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	idp := &testIdP{}

	mux := http.NewServeMux()
	mux.HandleFunc("/"+testTenant+"/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		idp.lastTokenForm = r.PostForm

		if idp.tokenStatus != 0 && idp.tokenStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(idp.tokenStatus)
			_ = json.NewEncoder(w).Encode(tokenError{
				Error:       "invalid_grant",
				Description: "код просрочен",
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "graph-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idp.idToken,
		})
	})
	mux.HandleFunc("/v1.0/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer graph-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if idp.graphStatus != 0 && idp.graphStatus != http.StatusOK {
			w.WriteHeader(idp.graphStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jobTitle": idp.jobTitle,
		})
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

// issuer возвращает issuer тестового tenant.
func (idp *testIdP) issuer() string {
	return idp.server.URL + "/" + testTenant + "/v2.0"
}

// newTestClient создаёт клиент с mock JWKS поверх тестового IdP.
func newTestClient(t *testing.T, idp *testIdP, key *rsa.PrivateKey) *Client {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}

	return NewClientWithKeyfunc(Config{
		TenantID:     testTenant,
		ClientID:     testClientID,
		ClientSecret: "client-secret-test",
		RedirectURI:  "https://iam.test/auth/microsoft/callback",
		BaseURL:      idp.server.URL,
		GraphBaseURL: idp.server.URL,
	}, kf, testLogger())
}

// TestAuthorizeURL проверяет параметры авторизационного URL.
func TestAuthorizeURL(t *testing.T) {
	idp := newTestIdP(t)
	c := newTestClient(t, idp, generateTestKey(t))

	raw := c.AuthorizeURL("state-123", "nonce-456")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("AuthorizeURL() вернул невалидный URL: %v", err)
	}

	if !strings.HasSuffix(u.Path, "/"+testTenant+"/oauth2/v2.0/authorize") {
		t.Errorf("путь = %q, ожидается .../oauth2/v2.0/authorize", u.Path)
	}

	q := u.Query()
	checks := map[string]string{
		"client_id":     testClientID,
		"response_type": "code",
		"response_mode": "query",
		"redirect_uri":  "https://iam.test/auth/microsoft/callback",
		"state":         "state-123",
		"nonce":         "nonce-456",
		"scope":         authScopes,
	}
	for param, want := range checks {
		if got := q.Get(param); got != want {
			t.Errorf("параметр %s = %q, ожидается %q", param, got, want)
		}
	}
}

// TestAuthenticateSuccess проверяет полный успешный flow: обмен кода,
// проверка id_token, нормализация и обогащение jobTitle из Graph.
func TestAuthenticateSuccess(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, key, idp.issuer(), "nonce-1", nil)
	idp.jobTitle = "  Старший инженер  "

	c := newTestClient(t, idp, key)

	assertion, err := c.Authenticate(context.Background(), "auth-code", "nonce-1")
	if err != nil {
		t.Fatalf("Authenticate() вернул ошибку: %v", err)
	}

	if assertion.ExternalID != "oid-0001" {
		t.Errorf("ExternalID = %q, ожидается oid-0001", assertion.ExternalID)
	}
	if assertion.Email != "ivanov@example.com" {
		t.Errorf("Email = %q, ожидается ivanov@example.com", assertion.Email)
	}
	if assertion.Name != "Иван Иванов" {
		t.Errorf("Name = %q, ожидается Иван Иванов", assertion.Name)
	}
	if assertion.JobTitle == nil || *assertion.JobTitle != "Старший инженер" {
		t.Errorf("JobTitle = %v, ожидается Старший инженер (с обрезкой пробелов)", assertion.JobTitle)
	}

	// Обмен кода ушёл с правильными параметрами
	if got := idp.lastTokenForm.Get("grant_type"); got != "authorization_code" {
		t.Errorf("grant_type = %q, ожидается authorization_code", got)
	}
	if got := idp.lastTokenForm.Get("code"); got != "auth-code" {
		t.Errorf("code = %q, ожидается auth-code", got)
	}
	if got := idp.lastTokenForm.Get("client_secret"); got != "client-secret-test" {
		t.Errorf("client_secret = %q, ожидается client-secret-test", got)
	}
}

// TestAuthenticateOidFallbackToSub проверяет fallback oid → sub.
func TestAuthenticateOidFallbackToSub(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, key, idp.issuer(), "nonce-1", idTokenOverrides{"oid": nil})

	c := newTestClient(t, idp, key)

	assertion, err := c.Authenticate(context.Background(), "auth-code", "nonce-1")
	if err != nil {
		t.Fatalf("Authenticate() вернул ошибку: %v", err)
	}
	if assertion.ExternalID != "sub-0001" {
		t.Errorf("ExternalID = %q, ожидается sub-0001 (fallback на sub)", assertion.ExternalID)
	}
}

// TestAuthenticateNameFallback проверяет fallback name → preferred_username.
func TestAuthenticateNameFallback(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, key, idp.issuer(), "nonce-1", idTokenOverrides{"name": nil})

	c := newTestClient(t, idp, key)

	assertion, err := c.Authenticate(context.Background(), "auth-code", "nonce-1")
	if err != nil {
		t.Fatalf("Authenticate() вернул ошибку: %v", err)
	}
	if assertion.Name != "ivanov@example.com" {
		t.Errorf("Name = %q, ожидается fallback на preferred_username", assertion.Name)
	}
}

// TestAuthenticateEmailFallback проверяет fallback preferred_username → email.
func TestAuthenticateEmailFallback(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, key, idp.issuer(), "nonce-1", idTokenOverrides{
		"preferred_username": nil,
		"email":              "fallback@example.com",
	})

	c := newTestClient(t, idp, key)

	assertion, err := c.Authenticate(context.Background(), "auth-code", "nonce-1")
	if err != nil {
		t.Fatalf("Authenticate() вернул ошибку: %v", err)
	}
	if assertion.Email != "fallback@example.com" {
		t.Errorf("Email = %q, ожидается fallback@example.com", assertion.Email)
	}
}

// TestAuthenticateNoExternalID проверяет отказ при отсутствии oid и sub.
func TestAuthenticateNoExternalID(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, key, idp.issuer(), "nonce-1", idTokenOverrides{
		"oid": nil,
		"sub": nil,
	})

	c := newTestClient(t, idp, key)

	if _, err := c.Authenticate(context.Background(), "auth-code", "nonce-1"); !errors.Is(err, ErrNoExternalID) {
		t.Errorf("Authenticate() = %v, ожидается ErrNoExternalID", err)
	}
}

// TestAuthenticateNonceMismatch проверяет отказ при чужом nonce.
func TestAuthenticateNonceMismatch(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, key, idp.issuer(), "nonce-original", nil)

	c := newTestClient(t, idp, key)

	if _, err := c.Authenticate(context.Background(), "auth-code", "nonce-other"); !errors.Is(err, ErrNonceMismatch) {
		t.Errorf("Authenticate() = %v, ожидается ErrNonceMismatch", err)
	}
}

// TestAuthenticateExpiredIDToken проверяет отказ по просроченному id_token.
func TestAuthenticateExpiredIDToken(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, key, idp.issuer(), "nonce-1", idTokenOverrides{
		"exp": jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	c := newTestClient(t, idp, key)

	if _, err := c.Authenticate(context.Background(), "auth-code", "nonce-1"); !errors.Is(err, ErrInvalidIDToken) {
		t.Errorf("Authenticate() = %v, ожидается ErrInvalidIDToken", err)
	}
}

// TestAuthenticateWrongAudience проверяет отказ по чужому audience.
func TestAuthenticateWrongAudience(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, key, idp.issuer(), "nonce-1", idTokenOverrides{
		"aud": "other-client",
	})

	c := newTestClient(t, idp, key)

	if _, err := c.Authenticate(context.Background(), "auth-code", "nonce-1"); !errors.Is(err, ErrInvalidIDToken) {
		t.Errorf("Authenticate() = %v, ожидается ErrInvalidIDToken", err)
	}
}

// TestAuthenticateWrongSignature проверяет отказ по чужой подписи.
func TestAuthenticateWrongSignature(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, otherKey, idp.issuer(), "nonce-1", nil)

	c := newTestClient(t, idp, key)

	if _, err := c.Authenticate(context.Background(), "auth-code", "nonce-1"); !errors.Is(err, ErrInvalidIDToken) {
		t.Errorf("Authenticate() = %v, ожидается ErrInvalidIDToken", err)
	}
}

// TestAuthenticateTokenEndpointError проверяет маппинг ошибки token
// endpoint в ErrIdPUnavailable.
func TestAuthenticateTokenEndpointError(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.tokenStatus = http.StatusBadRequest

	c := newTestClient(t, idp, key)

	if _, err := c.Authenticate(context.Background(), "stale-code", "nonce-1"); !errors.Is(err, ErrIdPUnavailable) {
		t.Errorf("Authenticate() = %v, ожидается ErrIdPUnavailable", err)
	}
}

// TestAuthenticateGraphFailureIsBestEffort проверяет, что ошибка Graph
// не ломает вход: JobTitle просто nil.
func TestAuthenticateGraphFailureIsBestEffort(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, key, idp.issuer(), "nonce-1", nil)
	idp.graphStatus = http.StatusInternalServerError

	c := newTestClient(t, idp, key)

	assertion, err := c.Authenticate(context.Background(), "auth-code", "nonce-1")
	if err != nil {
		t.Fatalf("Authenticate() вернул ошибку: %v", err)
	}
	if assertion.JobTitle != nil {
		t.Errorf("JobTitle = %v, ожидается nil при ошибке Graph", assertion.JobTitle)
	}
}

// TestAuthenticateGraphEmptyJobTitle проверяет, что пустой jobTitle
// превращается в nil.
func TestAuthenticateGraphEmptyJobTitle(t *testing.T) {
	key := generateTestKey(t)
	idp := newTestIdP(t)
	idp.idToken = generateIDToken(t, key, idp.issuer(), "nonce-1", nil)
	idp.jobTitle = "   "

	c := newTestClient(t, idp, key)

	assertion, err := c.Authenticate(context.Background(), "auth-code", "nonce-1")
	if err != nil {
		t.Fatalf("Authenticate() вернул ошибку: %v", err)
	}
	if assertion.JobTitle != nil {
		t.Errorf("JobTitle = %v, ожидается nil для пустой должности", assertion.JobTitle)
	}
}
