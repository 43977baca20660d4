// Пакет server — HTTP-сервер Access Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/gostorefront/access-module/internal/api/handlers"
	"github.com/bigkaa/gostorefront/access-module/internal/api/middleware"
	"github.com/bigkaa/gostorefront/access-module/internal/config"
	"github.com/bigkaa/gostorefront/access-module/internal/domain/rbac"
)

// Server — HTTP-сервер Access Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// Deps — зависимости маршрутизатора.
type Deps struct {
	Handler *handlers.APIHandler
	// Authenticate — JWT middleware; nil отключает аутентификацию (только в тестах).
	Authenticate func(http.Handler) http.Handler
	Authorizer   *middleware.Authorizer
	RateLimiter  *middleware.RateLimiter
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты Access Module.
// Health, metrics и контракт доступны без JWT: их опрашивает Kubernetes напрямую.
func NewRouter(logger *slog.Logger, deps Deps) chi.Router {
	h := deps.Handler
	authz := deps.Authorizer

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)
	router.Get("/api/v1/openapi.yaml", h.GetOpenAPI)

	router.Route("/api/v1/roles", func(r chi.Router) {
		if deps.Authenticate != nil {
			r.Use(deps.Authenticate)
		}

		view := authz.RequirePermission(rbac.PermRolesView)
		manage := authz.RequirePermission(rbac.PermRolesManage)
		assign := authz.RequirePermission(rbac.PermRolesAssign)
		selfOrView := authz.RequireSelfOrPermission(rbac.PermRolesView)
		limited := deps.RateLimiter.Middleware()

		// Консоль администратора: роли
		r.With(view).Get("/", h.ListRoles)
		r.With(limited, manage).Post("/", h.CreateRole)
		r.With(view).Get("/{roleId}", h.GetRole)
		r.With(limited, manage).Put("/{roleId}", h.UpdateRole)
		r.With(limited, manage).Delete("/{roleId}", h.DeleteRole)

		// Назначения и эффективные права пользователя
		r.Route("/user/{userId}", func(r chi.Router) {
			r.With(selfOrView).Get("/", h.ListUserAssignments)
			r.With(selfOrView).Get("/permissions", h.ResolvePermissions)
			r.With(selfOrView).Get("/permissions/{permission}", h.CheckPermission)

			r.Group(func(r chi.Router) {
				r.Use(limited, assign)
				r.Post("/", h.AssignRole)
				r.Delete("/", h.RemoveAllRoles)
				r.Delete("/{roleId}", h.RemoveRole)
				r.Post("/{roleId}/{action}", h.MutatePermission)
			})
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
