// handler.go — основной обработчик API Access Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/gostorefront/access-module/internal/api/errors"
	"github.com/bigkaa/gostorefront/access-module/internal/api/openapi"
	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
	"github.com/bigkaa/gostorefront/access-module/internal/service"
)

// maxBodyBytes — ограничение размера тела запроса.
const maxBodyBytes = 1 << 20

// RoleManager — управление ролями. Реализуется service.RoleService.
type RoleManager interface {
	CreateRole(ctx context.Context, in service.CreateRoleInput) (*model.Role, error)
	GetRole(ctx context.Context, id string) (*model.Role, error)
	ListRoles(ctx context.Context, includeInactive bool, limit, offset int) ([]*model.Role, int, error)
	UpdateRole(ctx context.Context, id string, in service.UpdateRoleInput) (*model.Role, error)
	DeleteRole(ctx context.Context, id string) error
}

// PermissionEngine — разрешение прав и изменение назначений.
// Реализуется service.PermissionService.
type PermissionEngine interface {
	Resolve(ctx context.Context, userID string) (*model.ResolvedPermissions, error)
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
	ListAssignments(ctx context.Context, userID string) ([]model.RoleAssignment, error)
	AssignRole(ctx context.Context, userID, roleID, assignedBy string) (*model.Assignment, bool, error)
	RemoveRole(ctx context.Context, userID, roleID string) error
	RemoveAllRoles(ctx context.Context, userID string) (int64, error)
	GrantPermission(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error)
	RevokePermission(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error)
	DenyPermission(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error)
	AllowPermission(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error)
}

// APIHandler — основной обработчик API Access Module.
type APIHandler struct {
	health *HealthHandler
	roles  RoleManager
	perms  PermissionEngine
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(health *HealthHandler, roles RoleManager, perms PermissionEngine, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health: health,
		roles:  roles,
		perms:  perms,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetOpenAPI — исходный OpenAPI контракт.
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.RawSpec())
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody читает тело запроса, проверяет его по схеме контракта
// и декодирует в dst. При ошибке пишет 400 и возвращает false.
func decodeBody(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		apierrors.ValidationError(w, "Не удалось прочитать тело запроса: "+err.Error())
		return false
	}
	if err := openapi.ValidateBody(schema, body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// listParams — параметры пагинации и фильтрации списков.
type listParams struct {
	Limit           *int
	Offset          *int
	IncludeInactive *bool
}

// bindListParams разбирает query-параметры limit, offset, include_inactive.
func bindListParams(r *http.Request) (listParams, error) {
	var p listParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &p.Limit); err != nil {
		return p, fmt.Errorf("limit: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", q, &p.Offset); err != nil {
		return p, fmt.Errorf("offset: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "include_inactive", q, &p.IncludeInactive); err != nil {
		return p, fmt.Errorf("include_inactive: %w", err)
	}
	return p, nil
}

// paginationDefaults нормализует параметры пагинации.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и отдаются как 500 с сообщением fallback.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrInvalidRole):
		apierrors.InvalidRole(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	default:
		h.logger.Error(fallback, slog.String("error", err.Error()))
		apierrors.InternalError(w, fallback)
	}
}
