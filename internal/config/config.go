// Пакет config — загрузка и валидация конфигурации hydra-iam
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации hydra-iam.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Собственные токены (HS256) ---

	// Секрет подписи access-токенов
	JWTSecret string
	// Issuer выдаваемых токенов
	JWTIssuer string
	// Audience выдаваемых токенов
	JWTAudience string
	// Время жизни access-токена
	JWTTTL time.Duration
	// Допустимое отклонение времени при валидации
	JWTLeeway time.Duration

	// --- Microsoft Entra ID ---

	// Tenant ID ("common", если не задан или задан заглушкой)
	EntraTenantID string
	// Client ID приложения в Entra ID
	EntraClientID string
	// Client Secret приложения в Entra ID
	EntraClientSecret string
	// Redirect URI callback (должен совпадать с регистрацией приложения)
	EntraRedirectURI string
	// Базовый URL identity platform (переопределяется в тестах)
	EntraBaseURL string
	// Базовый URL Microsoft Graph (переопределяется в тестах)
	GraphBaseURL string
	// Таймаут HTTP-запросов к Entra ID и Graph
	EntraHTTPTimeout time.Duration
	// Интервал обновления JWKS-ключей Entra ID
	JWKSRefreshInterval time.Duration

	// --- State/nonce (anti-replay) ---

	// Ключ шифрования state-блоба (AES-256-GCM)
	StateSecret string
	// Время жизни одного state/nonce
	StateTTL time.Duration
	// Максимум одновременно открытых auth flow на клиента
	StateMaxPending int

	// --- Frontend ---

	// Базовый URL фронтенда для redirect после логина
	FrontendURL string

	// --- topologymetrics ---

	// Имя группы в метриках dephealth
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// IAM_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("IAM_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("IAM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("IAM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// IAM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IAM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IAM_LOG_LEVEL: %w", err)
	}

	// IAM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("IAM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IAM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// IAM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("IAM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// IAM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("IAM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("IAM_DB_PORT: %w", err)
	}

	// IAM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("IAM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// IAM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("IAM_DB_USER")
	if err != nil {
		return nil, err
	}

	// IAM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("IAM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// IAM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("IAM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("IAM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Собственные токены ---

	// IAM_JWT_SECRET — обязательный
	cfg.JWTSecret, err = getEnvRequired("IAM_JWT_SECRET")
	if err != nil {
		return nil, err
	}

	// IAM_JWT_ISSUER — issuer токенов (по умолчанию hydra-iam)
	cfg.JWTIssuer = getEnvDefault("IAM_JWT_ISSUER", "hydra-iam")

	// IAM_JWT_AUDIENCE — audience токенов (по умолчанию internal-platforms)
	cfg.JWTAudience = getEnvDefault("IAM_JWT_AUDIENCE", "internal-platforms")

	// IAM_JWT_TTL — время жизни токена (по умолчанию 15m)
	cfg.JWTTTL, err = getEnvDuration("IAM_JWT_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IAM_JWT_TTL: %w", err)
	}

	// IAM_JWT_LEEWAY — допустимое отклонение времени (по умолчанию 0)
	cfg.JWTLeeway, err = getEnvDuration("IAM_JWT_LEEWAY", 0)
	if err != nil {
		return nil, fmt.Errorf("IAM_JWT_LEEWAY: %w", err)
	}

	// --- Microsoft Entra ID ---

	// IAM_ENTRA_TENANT_ID — tenant; заглушка или пустое значение → "common"
	cfg.EntraTenantID = normalizeTenant(getEnvDefault("IAM_ENTRA_TENANT_ID", ""))

	// IAM_ENTRA_CLIENT_ID — обязательный
	cfg.EntraClientID, err = getEnvRequired("IAM_ENTRA_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	// IAM_ENTRA_CLIENT_SECRET — обязательный
	cfg.EntraClientSecret, err = getEnvRequired("IAM_ENTRA_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}

	// IAM_ENTRA_REDIRECT_URI — обязательный
	cfg.EntraRedirectURI, err = getEnvRequired("IAM_ENTRA_REDIRECT_URI")
	if err != nil {
		return nil, err
	}

	// IAM_ENTRA_BASE_URL — база identity platform (по умолчанию боевая)
	cfg.EntraBaseURL = strings.TrimRight(
		getEnvDefault("IAM_ENTRA_BASE_URL", "https://login.microsoftonline.com"), "/")

	// IAM_GRAPH_BASE_URL — база Microsoft Graph (по умолчанию боевая)
	cfg.GraphBaseURL = strings.TrimRight(
		getEnvDefault("IAM_GRAPH_BASE_URL", "https://graph.microsoft.com"), "/")

	// IAM_ENTRA_HTTP_TIMEOUT — таймаут запросов к Entra ID/Graph (по умолчанию 10s)
	cfg.EntraHTTPTimeout, err = getEnvDuration("IAM_ENTRA_HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IAM_ENTRA_HTTP_TIMEOUT: %w", err)
	}

	// IAM_JWKS_REFRESH_INTERVAL — интервал обновления JWKS (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("IAM_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("IAM_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- State/nonce ---

	// IAM_STATE_SECRET — обязательный
	cfg.StateSecret, err = getEnvRequired("IAM_STATE_SECRET")
	if err != nil {
		return nil, err
	}

	// IAM_STATE_TTL — время жизни state/nonce (по умолчанию 600s)
	cfg.StateTTL, err = getEnvDuration("IAM_STATE_TTL", 600*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IAM_STATE_TTL: %w", err)
	}

	// IAM_STATE_MAX_PENDING — максимум открытых auth flow (по умолчанию 5)
	cfg.StateMaxPending, err = getEnvInt("IAM_STATE_MAX_PENDING", 5)
	if err != nil {
		return nil, fmt.Errorf("IAM_STATE_MAX_PENDING: %w", err)
	}
	if cfg.StateMaxPending < 1 || cfg.StateMaxPending > 100 {
		return nil, fmt.Errorf("IAM_STATE_MAX_PENDING: значение %d вне допустимого диапазона 1-100", cfg.StateMaxPending)
	}

	// --- Frontend ---

	// IAM_FRONTEND_URL — база фронтенда (по умолчанию http://localhost:3000)
	cfg.FrontendURL = strings.TrimRight(
		getEnvDefault("IAM_FRONTEND_URL", "http://localhost:3000"), "/")

	// --- topologymetrics ---

	// IAM_DEPHEALTH_GROUP — группа в метриках (по умолчанию iam)
	cfg.DephealthGroup = getEnvDefault("IAM_DEPHEALTH_GROUP", "iam")

	// IAM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("IAM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IAM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// IAM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("IAM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IAM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// normalizeTenant приводит tenant к рабочему значению.
// Пустая строка → "common" (multi-tenant вход без привязки issuer к tenant).
func normalizeTenant(tenant string) string {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return "common"
	}
	return tenant
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
