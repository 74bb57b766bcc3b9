// Точка входа hydra-iam — сервис идентификации и доступа платформы Hydra.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// инициализирует клиент Entra ID, создаёт сервисный слой и API handlers,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/hydraplatform/hydra-iam/internal/api/handlers"
	"github.com/hydraplatform/hydra-iam/internal/api/middleware"
	"github.com/hydraplatform/hydra-iam/internal/auth"
	"github.com/hydraplatform/hydra-iam/internal/config"
	"github.com/hydraplatform/hydra-iam/internal/database"
	"github.com/hydraplatform/hydra-iam/internal/entra"
	"github.com/hydraplatform/hydra-iam/internal/repository"
	"github.com/hydraplatform/hydra-iam/internal/server"
	"github.com/hydraplatform/hydra-iam/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("hydra-iam запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("IAM_DEPHEALTH_GROUP") == "" {
		logger.Warn("IAM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Клиент Entra ID (обмен кода, проверка id_token, Graph)
	entraClient, err := entra.NewClient(entra.Config{
		TenantID:            cfg.EntraTenantID,
		ClientID:            cfg.EntraClientID,
		ClientSecret:        cfg.EntraClientSecret,
		RedirectURI:         cfg.EntraRedirectURI,
		BaseURL:             cfg.EntraBaseURL,
		GraphBaseURL:        cfg.GraphBaseURL,
		Timeout:             cfg.EntraHTTPTimeout,
		JWKSRefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:              cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента Entra ID", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Клиент Entra ID создан",
		slog.String("tenant", cfg.EntraTenantID),
		slog.String("redirect_uri", cfg.EntraRedirectURI),
	)

	// 6. Криптография входа: state/nonce cookie и access-токены
	secureCookie := strings.HasPrefix(cfg.EntraRedirectURI, "https")

	stateCipher, err := auth.NewStateCipher(cfg.StateSecret, cfg.StateTTL, cfg.StateMaxPending, secureCookie)
	if err != nil {
		logger.Error("Ошибка создания StateCipher", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tokenIssuer, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL)
	if err != nil {
		logger.Error("Ошибка создания TokenIssuer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	tokenValidator, err := auth.NewTokenValidator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTLeeway)
	if err != nil {
		logger.Error("Ошибка создания TokenValidator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Repositories
	userRepo := repository.NewUserRepository(pool)
	positionRepo := repository.NewPositionRepository(pool)
	roleRepo := repository.NewRoleRepository(pool)
	platformRepo := repository.NewPlatformRepository(pool)

	// 8. Services
	positionsSvc := service.NewPositionService(positionRepo, logger)
	identitySvc := service.NewIdentityService(userRepo, positionsSvc, logger)
	usersSvc := service.NewUserService(userRepo, roleRepo, logger)
	platformsSvc := service.NewPlatformService(platformRepo, logger)
	authSvc := service.NewAuthService(entraClient, identitySvc, tokenIssuer, logger)

	// 9. Readiness checkers (PostgreSQL + Entra ID)
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker, entraClient)

	// 10. API handlers
	authHandler := handlers.NewAuthHandler(authSvc, stateCipher, cfg.FrontendURL, logger)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		authHandler,
		usersSvc,
		positionsSvc,
		platformsSvc,
		logger,
	)

	// 11. Middleware аутентификации
	authn := middleware.NewAuthenticator(tokenValidator, logger)

	// 12. topologymetrics — мониторинг зависимостей (PostgreSQL + Entra ID)
	entraJWKSURL := strings.TrimRight(cfg.EntraBaseURL, "/") + "/" + cfg.EntraTenantID + "/discovery/v2.0/keys"

	dephealthSvc, dephealthErr := service.NewDephealthService(
		"hydra-iam",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		entraJWKSURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, authn)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("hydra-iam остановлен")
}
