// Пакет server — HTTP-сервер hydra-iam с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hydraplatform/hydra-iam/internal/api/handlers"
	"github.com/hydraplatform/hydra-iam/internal/api/middleware"
	"github.com/hydraplatform/hydra-iam/internal/config"
)

// Server — HTTP-сервер hydra-iam.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// authn — middleware аутентификации; применяется только к защищённым
// маршрутам, health и metrics остаются публичными для Kubernetes.
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, authn *middleware.Authenticator) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Mount("/", Routes(handler, authn))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Routes собирает маршруты API с политикой доступа по ролям.
// Вынесено отдельно от New, чтобы тесты могли поднимать router
// без реального http.Server.
func Routes(handler *handlers.APIHandler, authn *middleware.Authenticator) chi.Router {
	router := chi.NewRouter()

	// Публичные маршруты: probes, метрики и вход через Entra ID.
	router.Get("/health/live", handler.Health().HealthLive)
	router.Get("/health/ready", handler.Health().HealthReady)
	router.Get("/metrics", handler.Health().GetMetrics)
	router.Get("/auth/microsoft/login", handler.Auth().Login)
	router.Get("/auth/microsoft/callback", handler.Auth().Callback)

	// Маршруты, требующие аутентификации. Политика доступа — по
	// идентификатору операции (middleware.RequireOperation).
	router.Group(func(r chi.Router) {
		r.Use(authn.Middleware())

		r.Get("/auth/me", handler.Auth().Me)

		// Канонический путь и его алиас под префиксом API.
		myAccess := r.With(middleware.RequireOperation(middleware.OpPlatformsMyAccess))
		myAccess.Get("/platforms/me/access", handler.ListMyPlatforms)
		myAccess.Get("/api/v1/platforms/me/access", handler.ListMyPlatforms)

		r.Route("/api/v1", func(r chi.Router) {
			r.With(middleware.RequireOperation(middleware.OpUsersList)).
				Get("/users", handler.ListUsers)
			r.With(middleware.RequireOperation(middleware.OpUsersGet)).
				Get("/users/{id}", handler.GetUser)
			r.With(middleware.RequireOperation(middleware.OpUsersUpdateStatus)).
				Patch("/users/{id}/status", handler.UpdateUserStatus)
			r.With(middleware.RequireOperation(middleware.OpUserRolesList)).
				Get("/users/{id}/roles", handler.GetUserRoles)
			r.With(middleware.RequireOperation(middleware.OpUserRolesAssign)).
				Post("/users/{id}/roles/{roleId}", handler.AssignUserRole)
			r.With(middleware.RequireOperation(middleware.OpUserRolesRemove)).
				Delete("/users/{id}/roles/{roleId}", handler.RemoveUserRole)

			r.With(middleware.RequireOperation(middleware.OpPositionsList)).
				Get("/positions", handler.ListPositions)
			r.With(middleware.RequireOperation(middleware.OpPositionsGet)).
				Get("/positions/{id}", handler.GetPosition)

			r.With(middleware.RequireOperation(middleware.OpRolesList)).
				Get("/roles", handler.ListRoles)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
