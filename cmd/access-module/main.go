// Точка входа Access Module — ролей и прав витрины.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт сервисный слой, выполняет bootstrap администраторов,
// запускает topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/gostorefront/access-module/internal/api/handlers"
	"github.com/bigkaa/gostorefront/access-module/internal/api/middleware"
	"github.com/bigkaa/gostorefront/access-module/internal/config"
	"github.com/bigkaa/gostorefront/access-module/internal/database"
	"github.com/bigkaa/gostorefront/access-module/internal/domain/rbac"
	"github.com/bigkaa/gostorefront/access-module/internal/repository"
	"github.com/bigkaa/gostorefront/access-module/internal/server"
	"github.com/bigkaa/gostorefront/access-module/internal/service"
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
	logger.Info("Access Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("AC_DEPHEALTH_GROUP") == "" {
		logger.Warn("AC_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
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

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	roleRepo := repository.NewRoleRepository(pool)
	assignmentRepo := repository.NewAssignmentRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 6. Services
	policy := rbac.Policy{ExcludeInactiveRoles: cfg.RBACExcludeInactiveRoles}
	roleSvc := service.NewRoleService(roleRepo, logger)
	permSvc := service.NewPermissionService(assignmentRepo, roleRepo, policy, logger)

	// 7. Bootstrap роли администраторов
	if len(cfg.BootstrapAdminUsers) > 0 {
		bootstrap := service.NewBootstrapService(txRunner, cfg.BootstrapRole, cfg.BootstrapAdminUsers, logger)
		if err := bootstrap.Run(ctx); err != nil {
			logger.Warn("Ошибка bootstrap администраторов",
				slog.String("role", cfg.BootstrapRole),
				slog.String("error", err.Error()),
			)
		}
	}

	// 8. Readiness checkers (PostgreSQL + JWKS)
	pgChecker := database.NewReadinessChecker(pool)
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. API handler
	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(pgChecker, jwksChecker),
		roleSvc,
		permSvc,
		logger,
	)

	// 10. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWTJWKSURL,
		CACertPath:      cfg.CACertPath,
		Issuer:          cfg.JWTIssuer,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 11. topologymetrics — мониторинг зависимостей (PostgreSQL + JWKS)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:     "access-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PGConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, server.Deps{
		Handler:      apiHandler,
		Authenticate: jwtAuth.Middleware(),
		Authorizer:   middleware.NewAuthorizer(permSvc, logger),
		RateLimiter:  middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	})
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Access Module остановлен")
}
