// Пакет service — бизнес-логика Access Module.
// roles.go — сервис управления ролями.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
	"github.com/bigkaa/gostorefront/access-module/internal/domain/rbac"
	"github.com/bigkaa/gostorefront/access-module/internal/repository"
)

// RoleService — сервис управления ролями.
type RoleService struct {
	roles  repository.RoleRepository
	logger *slog.Logger
}

// NewRoleService создаёт сервис управления ролями.
func NewRoleService(roles repository.RoleRepository, logger *slog.Logger) *RoleService {
	return &RoleService{
		roles:  roles,
		logger: logger.With(slog.String("component", "role_service")),
	}
}

// CreateRoleInput — параметры создания роли.
type CreateRoleInput struct {
	Name        string
	Description string
	Permissions []string
	// IsActive == nil — роль создаётся активной
	IsActive *bool
}

// UpdateRoleInput — частичное обновление роли. nil-поля не меняются.
type UpdateRoleInput struct {
	Name        *string
	Description *string
	Permissions *[]string
	IsActive    *bool
}

// CreateRole создаёт роль.
func (s *RoleService) CreateRole(ctx context.Context, in CreateRoleInput) (*model.Role, error) {
	if !rbac.ValidRoleName(in.Name) {
		return nil, fmt.Errorf("%w: некорректное имя роли %q", ErrValidation, in.Name)
	}
	if err := validatePermissions(in.Permissions); err != nil {
		return nil, err
	}

	role := &model.Role{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: in.Description,
		Permissions: rbac.Normalize(in.Permissions),
		IsActive:    in.IsActive == nil || *in.IsActive,
	}

	if err := s.roles.Create(ctx, role); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: роль %q уже существует", ErrConflict, in.Name)
		}
		return nil, fmt.Errorf("создание роли: %w", err)
	}

	s.logger.Info("Роль создана",
		slog.String("role_id", role.ID),
		slog.String("name", role.Name),
		slog.Int("permissions", len(role.Permissions)),
	)
	return role, nil
}

// GetRole возвращает роль по ID.
func (s *RoleService) GetRole(ctx context.Context, id string) (*model.Role, error) {
	if !isUUID(id) {
		return nil, ErrNotFound
	}
	role, err := s.roles.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение роли: %w", err)
	}
	return role, nil
}

// ListRoles возвращает страницу ролей и их общее количество.
func (s *RoleService) ListRoles(ctx context.Context, includeInactive bool, limit, offset int) ([]*model.Role, int, error) {
	roles, err := s.roles.List(ctx, includeInactive, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("получение списка ролей: %w", err)
	}
	total, err := s.roles.Count(ctx, includeInactive)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт ролей: %w", err)
	}
	return roles, total, nil
}

// UpdateRole частично обновляет роль.
// Изменение набора прав роли сразу отражается на всех её назначениях.
func (s *RoleService) UpdateRole(ctx context.Context, id string, in UpdateRoleInput) (*model.Role, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if !rbac.ValidRoleName(*in.Name) {
			return nil, fmt.Errorf("%w: некорректное имя роли %q", ErrValidation, *in.Name)
		}
		role.Name = *in.Name
	}
	if in.Description != nil {
		role.Description = *in.Description
	}
	if in.Permissions != nil {
		if err := validatePermissions(*in.Permissions); err != nil {
			return nil, err
		}
		role.Permissions = rbac.Normalize(*in.Permissions)
	}
	if in.IsActive != nil {
		role.IsActive = *in.IsActive
	}

	if err := s.roles.Update(ctx, role); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrConflict):
			return nil, fmt.Errorf("%w: роль %q уже существует", ErrConflict, role.Name)
		}
		return nil, fmt.Errorf("обновление роли: %w", err)
	}

	s.logger.Info("Роль обновлена",
		slog.String("role_id", role.ID),
		slog.String("name", role.Name),
		slog.Bool("is_active", role.IsActive),
	)
	return role, nil
}

// DeleteRole удаляет роль. Назначения роли остаются и дают пустой базовый набор прав.
func (s *RoleService) DeleteRole(ctx context.Context, id string) error {
	if !isUUID(id) {
		return ErrNotFound
	}
	if err := s.roles.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление роли: %w", err)
	}
	s.logger.Info("Роль удалена", slog.String("role_id", id))
	return nil
}

func validatePermissions(perms []string) error {
	for _, p := range perms {
		if !rbac.ValidPermissionName(p) {
			return fmt.Errorf("%w: некорректное имя права %q", ErrValidation, p)
		}
	}
	return nil
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
