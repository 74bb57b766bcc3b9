// Пакет entra — клиент Microsoft Entra ID (Authorization Code Flow)
// и обогащение профиля через Microsoft Graph.
// Подпись id_token проверяется по JWKS identity platform.
package entra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Scopes авторизационного запроса. User.Read нужен для чтения
// jobTitle через Microsoft Graph.
const authScopes = "openid profile email User.Read"

// Ошибки аутентификации через Entra ID.
var (
	// ErrIdPUnavailable — Entra ID недоступен или вернул ошибку обмена кода.
	ErrIdPUnavailable = errors.New("identity provider недоступен")
	// ErrInvalidIDToken — id_token не прошёл проверку подписи или claims.
	ErrInvalidIDToken = errors.New("невалидный id_token")
	// ErrNonceMismatch — nonce в id_token не совпадает с ожидаемым.
	ErrNonceMismatch = errors.New("nonce в id_token не совпадает")
)

// Config — конфигурация клиента Entra ID.
type Config struct {
	// TenantID — tenant ("common" для multi-tenant).
	TenantID string
	// ClientID — Application (client) ID.
	ClientID string
	// ClientSecret — client secret приложения.
	ClientSecret string
	// RedirectURI — URI callback, зарегистрированный в приложении.
	RedirectURI string
	// BaseURL — база identity platform (переопределяется в тестах).
	BaseURL string
	// GraphBaseURL — база Microsoft Graph (переопределяется в тестах).
	GraphBaseURL string
	// HTTPClient — HTTP-клиент (nil — создаётся новый с Timeout).
	HTTPClient *http.Client
	// Timeout — таймаут HTTP-запросов. Используется при HTTPClient == nil.
	Timeout time.Duration
	// JWKSRefreshInterval — интервал обновления JWKS-ключей.
	JWKSRefreshInterval time.Duration
	// Leeway — допустимое отклонение времени при проверке id_token.
	Leeway time.Duration
}

// Client — клиент Entra ID: authorize URL, обмен кода на токены,
// проверка id_token, чтение профиля из Graph.
type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	authorizeURL string
	tokenURL     string
	graphMeURL   string
	// issuer — ожидаемый issuer id_token; пустой при tenant=common
	// (issuer содержит конкретный tid и заранее неизвестен).
	issuer     string
	leeway     time.Duration
	httpClient *http.Client
	jwks       keyfunc.Keyfunc
	logger     *slog.Logger
}

// NewClient создаёт клиент Entra ID с фоновым обновлением JWKS.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURI == "" {
		return nil, errors.New("не заданы client_id, client_secret или redirect_uri")
	}

	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://login.microsoftonline.com"
	}
	graphBaseURL := strings.TrimRight(cfg.GraphBaseURL, "/")
	if graphBaseURL == "" {
		graphBaseURL = "https://graph.microsoft.com"
	}

	tenantBase := baseURL + "/" + tenant
	jwksURL := tenantBase + "/discovery/v2.0/keys"

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если Entra ID ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.JWKSRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS Entra ID",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	// При multi-tenant входе issuer содержит tid конкретного tenant
	// и не может быть зафиксирован заранее.
	issuer := ""
	if tenant != "common" {
		issuer = tenantBase + "/v2.0"
	}

	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		authorizeURL: tenantBase + "/oauth2/v2.0/authorize",
		tokenURL:     tenantBase + "/oauth2/v2.0/token",
		graphMeURL:   graphBaseURL + "/v1.0/me",
		issuer:       issuer,
		leeway:       cfg.Leeway,
		httpClient:   httpClient,
		jwks:         k,
		logger:       logger.With(slog.String("component", "entra_client")),
	}, nil
}

// NewClientWithKeyfunc создаёт клиент с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewClientWithKeyfunc(cfg Config, kf keyfunc.Keyfunc, logger *slog.Logger) *Client {
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	graphBaseURL := strings.TrimRight(cfg.GraphBaseURL, "/")
	tenantBase := baseURL + "/" + tenant

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	issuer := ""
	if tenant != "common" {
		issuer = tenantBase + "/v2.0"
	}

	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		authorizeURL: tenantBase + "/oauth2/v2.0/authorize",
		tokenURL:     tenantBase + "/oauth2/v2.0/token",
		graphMeURL:   graphBaseURL + "/v1.0/me",
		issuer:       issuer,
		leeway:       cfg.Leeway,
		httpClient:   httpClient,
		jwks:         kf,
		logger:       logger.With(slog.String("component", "entra_client")),
	}
}

// AuthorizeURL формирует URL для redirect пользователя на вход Entra ID.
// state защищает от CSRF, nonce связывает id_token с этой попыткой входа.
func (c *Client) AuthorizeURL(state, nonce string) string {
	params := url.Values{
		"client_id":     {c.clientID},
		"response_type": {"code"},
		"response_mode": {"query"},
		"redirect_uri":  {c.redirectURI},
		"scope":         {authScopes},
		"state":         {state},
		"nonce":         {nonce},
	}
	return c.authorizeURL + "?" + params.Encode()
}

// tokenResponse — ответ token endpoint Entra ID.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	IDToken     string `json:"id_token"`
}

// tokenError — ошибка token endpoint Entra ID.
type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Authenticate завершает Authorization Code Flow: обменивает код на
// токены, проверяет id_token (подпись, audience, nonce) и возвращает
// нормализованное утверждение личности.
// JobTitle читается из Graph best-effort: ошибки Graph логируются и
// не прерывают вход.
func (c *Client) Authenticate(ctx context.Context, code, nonce string) (*Assertion, error) {
	tokens, err := c.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	claims, err := c.verifyIDToken(ctx, tokens.IDToken, nonce)
	if err != nil {
		return nil, err
	}

	assertion, err := assertionFromClaims(claims)
	if err != nil {
		return nil, err
	}

	assertion.JobTitle = c.fetchJobTitle(ctx, tokens.AccessToken)
	return assertion, nil
}

// exchangeCode обменивает authorization code на токены.
func (c *Client) exchangeCode(ctx context.Context, code string) (*tokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
		"redirect_uri":  {c.redirectURI},
		"scope":         {authScopes},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Ошибка запроса к token endpoint Entra ID",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrIdPUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var tokenErr tokenError
		if jsonErr := json.Unmarshal(body, &tokenErr); jsonErr == nil && tokenErr.Error != "" {
			c.logger.Warn("Token endpoint Entra ID вернул ошибку",
				slog.String("error", tokenErr.Error),
				slog.String("description", tokenErr.Description),
			)
			return nil, fmt.Errorf("%w: %s — %s", ErrIdPUnavailable, tokenErr.Error, tokenErr.Description)
		}
		return nil, fmt.Errorf("%w: token endpoint вернул статус %d", ErrIdPUnavailable, resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("ошибка парсинга token response: %w", err)
	}
	if tokens.IDToken == "" {
		return nil, fmt.Errorf("%w: token endpoint не вернул id_token", ErrInvalidIDToken)
	}

	return &tokens, nil
}

// verifyIDToken проверяет подпись и claims id_token.
func (c *Client) verifyIDToken(ctx context.Context, idToken, nonce string) (*idTokenClaims, error) {
	claims := &idTokenClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(c.clientID),
		jwt.WithLeeway(c.leeway),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}

	token, err := jwt.ParseWithClaims(idToken, claims, c.jwks.KeyfuncCtx(ctx), parserOpts...)
	if err != nil || !token.Valid {
		c.logger.Debug("id_token не прошёл проверку",
			slog.Any("error", err),
		)
		return nil, ErrInvalidIDToken
	}

	if claims.Nonce == "" || claims.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	return claims, nil
}

// graphProfile — нужная часть ответа GET /v1.0/me.
type graphProfile struct {
	JobTitle string `json:"jobTitle"`
}

// fetchJobTitle читает jobTitle пользователя из Microsoft Graph.
// Любая ошибка логируется и превращается в nil: обогащение профиля
// не должно ломать вход.
func (c *Client) fetchJobTitle(ctx context.Context, accessToken string) *string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphMeURL, http.NoBody)
	if err != nil {
		c.logger.Warn("Ошибка создания запроса к Graph", slog.String("error", err.Error()))
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Microsoft Graph недоступен", slog.String("error", err.Error()))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Microsoft Graph вернул ошибку",
			slog.Int("status", resp.StatusCode),
		)
		return nil
	}

	var profile graphProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		c.logger.Warn("Ошибка парсинга ответа Graph", slog.String("error", err.Error()))
		return nil
	}

	title := strings.TrimSpace(profile.JobTitle)
	if title == "" {
		return nil
	}
	return &title
}

// CheckReady проверяет доступность JWKS endpoint Entra ID.
// Используется readiness-проверкой и dephealth.
func (c *Client) CheckReady() (status, message string) {
	jwksURL := strings.Replace(c.tokenURL, "/oauth2/v2.0/token", "/discovery/v2.0/keys", 1)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, jwksURL, http.NoBody)
	if err != nil {
		return "fail", "ошибка создания запроса: " + err.Error()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("Entra ID JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("Entra ID JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("Entra ID JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "Entra ID JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
