// roles.go — обработчики /api/v1/roles endpoints (консоль администратора).
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/gostorefront/access-module/internal/api/contract"
	apierrors "github.com/bigkaa/gostorefront/access-module/internal/api/errors"
	"github.com/bigkaa/gostorefront/access-module/internal/service"
)

// ListRoles — GET /api/v1/roles.
// Доступ: roles.view.
func (h *APIHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	params, err := bindListParams(r)
	if err != nil {
		apierrors.ValidationError(w, "Некорректные параметры запроса: "+err.Error())
		return
	}
	limit, offset := paginationDefaults(params.Limit, params.Offset)
	includeInactive := params.IncludeInactive != nil && *params.IncludeInactive

	roles, total, err := h.roles.ListRoles(r.Context(), includeInactive, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка ролей")
		return
	}

	resp := contract.RoleList{
		Items:  make([]contract.Role, 0, len(roles)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, role := range roles {
		resp.Items = append(resp.Items, contract.FromRole(role))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateRole — POST /api/v1/roles.
// Доступ: roles.manage.
func (h *APIHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req contract.CreateRoleRequest
	if !decodeBody(w, r, "CreateRoleRequest", &req) {
		return
	}

	role, err := h.roles.CreateRole(r.Context(), service.CreateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка создания роли")
		return
	}
	writeJSON(w, http.StatusCreated, contract.FromRole(role))
}

// GetRole — GET /api/v1/roles/{roleId}.
// Доступ: roles.view.
func (h *APIHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.roles.GetRole(r.Context(), chi.URLParam(r, "roleId"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения роли")
		return
	}
	writeJSON(w, http.StatusOK, contract.FromRole(role))
}

// UpdateRole — PUT /api/v1/roles/{roleId}.
// Доступ: roles.manage.
func (h *APIHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req contract.UpdateRoleRequest
	if !decodeBody(w, r, "UpdateRoleRequest", &req) {
		return
	}

	role, err := h.roles.UpdateRole(r.Context(), chi.URLParam(r, "roleId"), service.UpdateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка обновления роли")
		return
	}
	writeJSON(w, http.StatusOK, contract.FromRole(role))
}

// DeleteRole — DELETE /api/v1/roles/{roleId}.
// Назначения удалённой роли сохраняются и дают только дополнительные права.
// Доступ: roles.manage.
func (h *APIHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.roles.DeleteRole(r.Context(), chi.URLParam(r, "roleId")); err != nil {
		h.writeServiceError(w, err, "Ошибка удаления роли")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
