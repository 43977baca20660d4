// Пакет rbac — вычисление эффективного набора прав пользователя.
//
// Каждое назначение роли вносит вклад
//
//	(права роли ∪ additional) − denied
//
// и эффективный набор — объединение вкладов всех назначений.
// Запрет действует только внутри своего назначения: другое назначение,
// выдающее то же право без запрета, сохраняет его в итоговом наборе.
package rbac

import (
	"regexp"
	"slices"

	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
)

// Права, которыми защищён API управления ролями.
const (
	PermRolesView   = "roles.view"
	PermRolesAssign = "roles.assign"
	PermRolesManage = "roles.manage"
)

// AdminPermissions возвращает права роли, создаваемой при bootstrap.
func AdminPermissions() []string {
	return []string{PermRolesView, PermRolesAssign, PermRolesManage}
}

// Policy — параметры вычисления прав.
type Policy struct {
	// ExcludeInactiveRoles — базовые права неактивных ролей не учитываются.
	// additional-права назначения при этом сохраняются.
	ExcludeInactiveRoles bool
}

var (
	permissionNameRe = regexp.MustCompile(`^[a-z0-9_.:-]{1,128}$`)
	roleNameRe       = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,99}$`)
)

// ValidPermissionName проверяет формат имени права (read_products, roles.view, ...).
func ValidPermissionName(name string) bool {
	return permissionNameRe.MatchString(name)
}

// ValidRoleName проверяет формат имени роли (CUSTOMER, EDITOR, ...).
func ValidRoleName(name string) bool {
	return roleNameRe.MatchString(name)
}

// Contribution вычисляет вклад одного назначения:
// (права роли ∪ additional) − denied.
// Для удалённой роли базовый набор пуст.
func Contribution(ra model.RoleAssignment, p Policy) map[string]bool {
	set := make(map[string]bool)
	if ra.Role != nil && (ra.Role.IsActive || !p.ExcludeInactiveRoles) {
		for _, perm := range ra.Role.Permissions {
			set[perm] = true
		}
	}
	for _, perm := range ra.AdditionalPermissions {
		set[perm] = true
	}
	for _, perm := range ra.DeniedPermissions {
		delete(set, perm)
	}
	return set
}

// Effective возвращает отсортированное объединение вкладов всех назначений.
// Пустой набор назначений даёт пустой (не nil) срез.
func Effective(assignments []model.RoleAssignment, p Policy) []string {
	union := make(map[string]bool)
	for _, ra := range assignments {
		for perm := range Contribution(ra, p) {
			union[perm] = true
		}
	}

	result := make([]string, 0, len(union))
	for perm := range union {
		result = append(result, perm)
	}
	slices.Sort(result)
	return result
}

// Has проверяет наличие права в эффективном наборе.
// Останавливается на первом назначении, которое даёт право.
func Has(assignments []model.RoleAssignment, permission string, p Policy) bool {
	for _, ra := range assignments {
		if Contribution(ra, p)[permission] {
			return true
		}
	}
	return false
}

// Resolve формирует полный ответ разрешения прав пользователя.
func Resolve(userID string, assignments []model.RoleAssignment, p Policy) *model.ResolvedPermissions {
	roles := make([]model.ResolvedRole, 0, len(assignments))
	for _, ra := range assignments {
		roles = append(roles, model.ResolvedRole{
			RoleID:                ra.RoleID,
			RoleName:              ra.RoleName(),
			AdditionalPermissions: nonNil(ra.AdditionalPermissions),
			DeniedPermissions:     nonNil(ra.DeniedPermissions),
		})
	}

	perms := Effective(assignments, p)
	return &model.ResolvedPermissions{
		UserID:           userID,
		Roles:            roles,
		Permissions:      perms,
		TotalPermissions: len(perms),
	}
}

// Normalize убирает дубликаты и сортирует набор прав.
func Normalize(perms []string) []string {
	set := toSet(perms)
	result := make([]string, 0, len(set))
	for perm := range set {
		result = append(result, perm)
	}
	slices.Sort(result)
	return result
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
