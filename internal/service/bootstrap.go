// bootstrap.go — начальная настройка ролей при старте сервиса.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
	"github.com/bigkaa/gostorefront/access-module/internal/domain/rbac"
	"github.com/bigkaa/gostorefront/access-module/internal/repository"
)

// Transactor выполняет fn в одной транзакции с репозиториями ролей и назначений.
// Реализуется repository.TxRunner.
type Transactor interface {
	WithRepositories(ctx context.Context, fn func(roles repository.RoleRepository, assignments repository.AssignmentRepository) error) error
}

// BootstrapService создаёт роль администратора и назначает её
// пользователям из AC_BOOTSTRAP_ADMIN_USERS. Повторный запуск ничего не меняет.
type BootstrapService struct {
	tx       Transactor
	roleName string
	users    []string
	logger   *slog.Logger
}

// NewBootstrapService создаёт сервис начальной настройки.
func NewBootstrapService(tx Transactor, roleName string, users []string, logger *slog.Logger) *BootstrapService {
	return &BootstrapService{
		tx:       tx,
		roleName: roleName,
		users:    users,
		logger:   logger.With(slog.String("component", "bootstrap")),
	}
}

// Run выполняет начальную настройку в одной транзакции.
func (s *BootstrapService) Run(ctx context.Context) error {
	if !rbac.ValidRoleName(s.roleName) {
		return fmt.Errorf("%w: некорректное имя роли %q", ErrValidation, s.roleName)
	}

	return s.tx.WithRepositories(ctx, func(roles repository.RoleRepository, assignments repository.AssignmentRepository) error {
		role, err := s.ensureRole(ctx, roles)
		if err != nil {
			return err
		}

		for _, userID := range s.users {
			created, err := assignments.Create(ctx, &model.Assignment{
				UserID:     userID,
				RoleID:     role.ID,
				AssignedBy: "bootstrap",
			})
			if err != nil {
				return fmt.Errorf("назначение роли %s пользователю %s: %w", role.Name, userID, err)
			}
			if created {
				s.logger.Info("Роль администратора назначена",
					slog.String("user_id", userID),
					slog.String("role", role.Name),
				)
			}
		}
		return nil
	})
}

// ensureRole находит роль администратора или создаёт её и дополняет
// недостающими административными правами.
func (s *BootstrapService) ensureRole(ctx context.Context, roles repository.RoleRepository) (*model.Role, error) {
	role, err := roles.GetByName(ctx, s.roleName)
	if errors.Is(err, repository.ErrNotFound) {
		role = &model.Role{
			ID:          uuid.New().String(),
			Name:        s.roleName,
			Description: "Администратор доступа",
			Permissions: rbac.AdminPermissions(),
			IsActive:    true,
		}
		if err := roles.Create(ctx, role); err != nil {
			return nil, fmt.Errorf("создание роли %s: %w", s.roleName, err)
		}
		s.logger.Info("Роль администратора создана", slog.String("role", role.Name))
		return role, nil
	}
	if err != nil {
		return nil, fmt.Errorf("получение роли %s: %w", s.roleName, err)
	}

	missing := false
	for _, perm := range rbac.AdminPermissions() {
		if !slices.Contains(role.Permissions, perm) {
			missing = true
			break
		}
	}
	if missing || !role.IsActive {
		role.Permissions = rbac.Normalize(append(role.Permissions, rbac.AdminPermissions()...))
		role.IsActive = true
		if err := roles.Update(ctx, role); err != nil {
			return nil, fmt.Errorf("обновление роли %s: %w", s.roleName, err)
		}
		s.logger.Info("Роль администратора обновлена", slog.String("role", role.Name))
	}
	return role, nil
}
