// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Access Module мониторит две зависимости:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical)
//   - сервис аутентификации — HTTP checker к JWKS endpoint (critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для JWKS
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// DephealthParams — параметры мониторинга зависимостей.
type DephealthParams struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (AC_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	DB *sql.DB
	// PGConnURL — URL PostgreSQL (для лейблов, не для подключения)
	PGConnURL string
	// JWKSURL — URL JWKS endpoint сервиса аутентификации
	JWKSURL string
	// CheckInterval — интервал проверки (AC_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// Registerer — Prometheus registerer; nil — глобальный registry
	Registerer prometheus.Registerer
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
func NewDephealthService(p DephealthParams, logger *slog.Logger) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		// PostgreSQL через существующий пул: проверка отражает
		// реальное состояние пула соединений.
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(p.DB)),
			dephealth.FromURL(p.PGConnURL),
			dephealth.CheckInterval(p.CheckInterval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("auth-jwks",
			dephealth.FromURL(p.JWKSURL),
			dephealth.WithHTTPHealthPath(jwksHealthPath(p.JWKSURL)),
			dephealth.CheckInterval(p.CheckInterval),
			dephealth.Critical(true),
		),
	}
	if p.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(p.Registerer))
	}

	dh, err := dephealth.New(p.ServiceID, p.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// jwksHealthPath возвращает path JWKS URL для health check.
// Доступность самого JWKS подтверждает, что проверка токенов возможна.
func jwksHealthPath(jwksURL string) string {
	if parsed, err := url.Parse(jwksURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return "/health"
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (PostgreSQL + JWKS)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
