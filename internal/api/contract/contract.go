// Пакет contract — JSON-представления запросов и ответов Access Module API.
// Соответствуют схемам internal/api/openapi/openapi.yaml и используются
// как обработчиками сервера, так и клиентом accessclient.
package contract

import (
	"time"

	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
)

// Role — роль.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RoleList — страница списка ролей.
type RoleList struct {
	Items  []Role `json:"items"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// CreateRoleRequest — тело POST /api/v1/roles.
type CreateRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	IsActive    *bool    `json:"isActive,omitempty"`
}

// UpdateRoleRequest — тело PUT /api/v1/roles/{roleId}. Отсутствующие поля не меняются.
type UpdateRoleRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
	IsActive    *bool     `json:"isActive,omitempty"`
}

// AssignRoleRequest — тело POST /api/v1/roles/user/{userId}.
type AssignRoleRequest struct {
	RoleID string `json:"roleId"`
}

// PermissionRequest — тело grant/revoke/deny/allow.
type PermissionRequest struct {
	Permission string `json:"permission"`
}

// Assignment — назначение роли пользователю.
type Assignment struct {
	UserID                string    `json:"userId"`
	RoleID                string    `json:"roleId"`
	RoleName              string    `json:"roleName"`
	RoleActive            *bool     `json:"roleActive,omitempty"`
	AdditionalPermissions []string  `json:"additionalPermissions"`
	DeniedPermissions     []string  `json:"deniedPermissions"`
	AssignedBy            string    `json:"assignedBy,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// AssignmentList — назначения пользователя.
type AssignmentList struct {
	UserID string       `json:"userId"`
	Items  []Assignment `json:"items"`
}

// RemoveAllResult — результат удаления всех назначений пользователя.
type RemoveAllResult struct {
	Removed int64 `json:"removed"`
}

// ResolvedRole — роль в ответе разрешения прав.
type ResolvedRole struct {
	RoleID                string   `json:"roleId"`
	RoleName              string   `json:"roleName"`
	AdditionalPermissions []string `json:"additionalPermissions"`
	DeniedPermissions     []string `json:"deniedPermissions"`
}

// ResolvedPermissions — ответ GET /api/v1/roles/user/{userId}/permissions.
type ResolvedPermissions struct {
	Roles            []ResolvedRole `json:"roles"`
	Permissions      []string       `json:"permissions"`
	TotalPermissions int            `json:"totalPermissions"`
}

// PermissionCheck — ответ проверки одного права.
type PermissionCheck struct {
	UserID     string `json:"userId"`
	Permission string `json:"permission"`
	Granted    bool   `json:"granted"`
}

// ErrorBody — тело ответа с ошибкой.
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Маппинг из доменных моделей ---

// FromRole конвертирует model.Role.
func FromRole(r *model.Role) Role {
	return Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Permissions: nonNil(r.Permissions),
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// FromAssignment конвертирует назначение без сведений о роли.
func FromAssignment(a *model.Assignment, roleName string) Assignment {
	return Assignment{
		UserID:                a.UserID,
		RoleID:                a.RoleID,
		RoleName:              roleName,
		AdditionalPermissions: nonNil(a.AdditionalPermissions),
		DeniedPermissions:     nonNil(a.DeniedPermissions),
		AssignedBy:            a.AssignedBy,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

// FromRoleAssignment конвертирует назначение вместе с ролью.
func FromRoleAssignment(ra model.RoleAssignment) Assignment {
	out := FromAssignment(&ra.Assignment, ra.RoleName())
	if ra.Role != nil {
		active := ra.Role.IsActive
		out.RoleActive = &active
	}
	return out
}

// FromResolved конвертирует эффективный набор прав.
func FromResolved(rp *model.ResolvedPermissions) ResolvedPermissions {
	out := ResolvedPermissions{
		Roles:            make([]ResolvedRole, 0, len(rp.Roles)),
		Permissions:      nonNil(rp.Permissions),
		TotalPermissions: rp.TotalPermissions,
	}
	for _, r := range rp.Roles {
		out.Roles = append(out.Roles, ResolvedRole{
			RoleID:                r.RoleID,
			RoleName:              r.RoleName,
			AdditionalPermissions: nonNil(r.AdditionalPermissions),
			DeniedPermissions:     nonNil(r.DeniedPermissions),
		})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
