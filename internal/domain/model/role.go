// Пакет model — доменные модели Access Module.
package model

import "time"

// Role — именованный набор прав. Хранится в таблице roles.
type Role struct {
	// ID — UUID роли
	ID string
	// Name — уникальное имя роли (CUSTOMER, EDITOR, ...)
	Name string
	// Description — описание для консоли администратора
	Description string
	// Permissions — базовый набор прав роли
	Permissions []string
	// IsActive — активна ли роль
	IsActive bool
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Assignment — назначение роли пользователю. Хранится в таблице user_roles,
// первичный ключ (UserID, RoleID).
type Assignment struct {
	// UserID — идентификатор пользователя (sub из JWT)
	UserID string
	// RoleID — UUID роли; роль может быть уже удалена
	RoleID string
	// AdditionalPermissions — права, добавленные поверх прав роли
	AdditionalPermissions []string
	// DeniedPermissions — права, запрещённые в рамках этого назначения
	DeniedPermissions []string
	// AssignedBy — кто выполнил назначение
	AssignedBy string
	// CreatedAt — время назначения
	CreatedAt time.Time
	// UpdatedAt — время последнего изменения
	UpdatedAt time.Time
}

// RoleAssignment — назначение вместе с ролью, на которую оно ссылается.
// Role == nil для «осиротевшего» назначения (роль удалена).
type RoleAssignment struct {
	Assignment
	Role *Role
}

// RoleName возвращает имя роли или пустую строку для удалённой роли.
func (ra RoleAssignment) RoleName() string {
	if ra.Role == nil {
		return ""
	}
	return ra.Role.Name
}

// ResolvedRole — элемент списка ролей в ответе разрешения прав.
type ResolvedRole struct {
	RoleID                string
	RoleName              string
	AdditionalPermissions []string
	DeniedPermissions     []string
}

// ResolvedPermissions — эффективный набор прав пользователя.
// Вычисляется при каждом запросе и нигде не хранится.
type ResolvedPermissions struct {
	UserID           string
	Roles            []ResolvedRole
	Permissions      []string
	TotalPermissions int
}
