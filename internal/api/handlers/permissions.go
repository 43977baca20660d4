// permissions.go — обработчики /api/v1/roles/user/{userId} endpoints:
// эффективные права, назначения ролей и изменение наборов прав назначения.
package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/gostorefront/access-module/internal/api/contract"
	apierrors "github.com/bigkaa/gostorefront/access-module/internal/api/errors"
	"github.com/bigkaa/gostorefront/access-module/internal/api/middleware"
	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
)

// ResolvePermissions — GET /api/v1/roles/user/{userId}/permissions.
// Доступ: сам пользователь или roles.view.
func (h *APIHandler) ResolvePermissions(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.perms.Resolve(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка вычисления прав пользователя")
		return
	}
	writeJSON(w, http.StatusOK, contract.FromResolved(resolved))
}

// CheckPermission — GET /api/v1/roles/user/{userId}/permissions/{permission}.
// Доступ: сам пользователь или roles.view.
func (h *APIHandler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	permission := chi.URLParam(r, "permission")

	granted, err := h.perms.HasPermission(r.Context(), userID, permission)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка проверки права")
		return
	}
	writeJSON(w, http.StatusOK, contract.PermissionCheck{
		UserID:     userID,
		Permission: permission,
		Granted:    granted,
	})
}

// ListUserAssignments — GET /api/v1/roles/user/{userId}.
// Доступ: сам пользователь или roles.view.
func (h *APIHandler) ListUserAssignments(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	assignments, err := h.perms.ListAssignments(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения назначений пользователя")
		return
	}

	resp := contract.AssignmentList{
		UserID: userID,
		Items:  make([]contract.Assignment, 0, len(assignments)),
	}
	for _, ra := range assignments {
		resp.Items = append(resp.Items, contract.FromRoleAssignment(ra))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AssignRole — POST /api/v1/roles/user/{userId}.
// 201 — роль назначена, 200 — роль уже была назначена.
// Доступ: roles.assign.
func (h *APIHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req contract.AssignRoleRequest
	if !decodeBody(w, r, "AssignRoleRequest", &req) {
		return
	}

	a, created, err := h.perms.AssignRole(r.Context(), chi.URLParam(r, "userId"), req.RoleID,
		middleware.SubjectFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка назначения роли")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, contract.FromAssignment(a, ""))
}

// RemoveRole — DELETE /api/v1/roles/user/{userId}/{roleId}.
// Доступ: roles.assign.
func (h *APIHandler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	if err := h.perms.RemoveRole(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "roleId")); err != nil {
		h.writeServiceError(w, err, "Ошибка удаления назначения роли")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAllRoles — DELETE /api/v1/roles/user/{userId}.
// Доступ: roles.assign.
func (h *APIHandler) RemoveAllRoles(w http.ResponseWriter, r *http.Request) {
	n, err := h.perms.RemoveAllRoles(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка удаления назначений пользователя")
		return
	}
	writeJSON(w, http.StatusOK, contract.RemoveAllResult{Removed: n})
}

// MutatePermission — POST /api/v1/roles/user/{userId}/{roleId}/{action},
// action: grant, revoke, deny, allow.
// Доступ: roles.assign.
func (h *APIHandler) MutatePermission(w http.ResponseWriter, r *http.Request) {
	var mutate func(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error)
	switch chi.URLParam(r, "action") {
	case "grant":
		mutate = h.perms.GrantPermission
	case "revoke":
		mutate = h.perms.RevokePermission
	case "deny":
		mutate = h.perms.DenyPermission
	case "allow":
		mutate = h.perms.AllowPermission
	default:
		apierrors.NotFound(w, "Неизвестное действие: "+chi.URLParam(r, "action"))
		return
	}

	var req contract.PermissionRequest
	if !decodeBody(w, r, "PermissionRequest", &req) {
		return
	}

	a, err := mutate(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "roleId"), req.Permission)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка изменения прав назначения")
		return
	}
	writeJSON(w, http.StatusOK, contract.FromAssignment(a, ""))
}
