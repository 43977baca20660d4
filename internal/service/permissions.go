// permissions.go — движок разрешения прав: вычисление эффективного набора
// прав пользователя и изменение назначений ролей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
	"github.com/bigkaa/gostorefront/access-module/internal/domain/rbac"
	"github.com/bigkaa/gostorefront/access-module/internal/repository"
)

var (
	// permissionChecksTotal — проверки наличия права.
	permissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ac_permission_checks_total",
			Help: "Количество проверок наличия права у пользователя",
		},
		[]string{"result"},
	)

	// assignmentMutationsTotal — изменения назначений ролей.
	assignmentMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ac_assignment_mutations_total",
			Help: "Количество изменений назначений ролей",
		},
		[]string{"operation", "result"},
	)
)

// Операции над назначениями (лейбл operation).
const (
	opAssign = "assign"
	opRemove = "remove"
	opGrant  = "grant"
	opRevoke = "revoke"
	opDeny   = "deny"
	opAllow  = "allow"
	opPurge  = "purge"
)

// PermissionService — движок разрешения прав.
// Результат не кэшируется: каждое изменение назначения видно следующему запросу.
type PermissionService struct {
	assignments repository.AssignmentRepository
	roles       repository.RoleRepository
	policy      rbac.Policy
	logger      *slog.Logger
}

// NewPermissionService создаёт движок разрешения прав.
func NewPermissionService(
	assignments repository.AssignmentRepository,
	roles repository.RoleRepository,
	policy rbac.Policy,
	logger *slog.Logger,
) *PermissionService {
	return &PermissionService{
		assignments: assignments,
		roles:       roles,
		policy:      policy,
		logger:      logger.With(slog.String("component", "permission_service")),
	}
}

// Resolve вычисляет эффективный набор прав пользователя.
// Пользователь без назначений получает пустой набор, это не ошибка.
func (s *PermissionService) Resolve(ctx context.Context, userID string) (*model.ResolvedPermissions, error) {
	assignments, err := s.listAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rbac.Resolve(userID, assignments, s.policy), nil
}

// HasPermission проверяет наличие права в эффективном наборе пользователя.
func (s *PermissionService) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	if !rbac.ValidPermissionName(permission) {
		return false, fmt.Errorf("%w: некорректное имя права %q", ErrValidation, permission)
	}
	assignments, err := s.listAssignments(ctx, userID)
	if err != nil {
		permissionChecksTotal.WithLabelValues("error").Inc()
		return false, err
	}

	ok := rbac.Has(assignments, permission, s.policy)
	if ok {
		permissionChecksTotal.WithLabelValues("granted").Inc()
	} else {
		permissionChecksTotal.WithLabelValues("denied").Inc()
	}
	return ok, nil
}

// ListAssignments возвращает назначения пользователя вместе с ролями.
func (s *PermissionService) ListAssignments(ctx context.Context, userID string) ([]model.RoleAssignment, error) {
	return s.listAssignments(ctx, userID)
}

// AssignRole назначает роль пользователю. Повторное назначение — no-op:
// возвращается существующее назначение и created == false.
func (s *PermissionService) AssignRole(ctx context.Context, userID, roleID, assignedBy string) (*model.Assignment, bool, error) {
	if err := validateUserID(userID); err != nil {
		return nil, false, err
	}
	if !isUUID(roleID) {
		return nil, false, fmt.Errorf("%w: роль %q не найдена", ErrInvalidRole, roleID)
	}

	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.countMutation(opAssign, ErrInvalidRole)
			return nil, false, fmt.Errorf("%w: роль %q не найдена", ErrInvalidRole, roleID)
		}
		s.countMutation(opAssign, err)
		return nil, false, fmt.Errorf("получение роли: %w", err)
	}
	if !role.IsActive {
		s.countMutation(opAssign, ErrInvalidRole)
		return nil, false, fmt.Errorf("%w: роль %q неактивна", ErrInvalidRole, role.Name)
	}

	a := &model.Assignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
	}
	created, err := s.assignments.Create(ctx, a)
	if err != nil {
		s.countMutation(opAssign, err)
		return nil, false, fmt.Errorf("назначение роли: %w", err)
	}
	s.countMutation(opAssign, nil)

	if !created {
		existing, err := s.assignments.Get(ctx, userID, roleID)
		if err != nil {
			return nil, false, fmt.Errorf("получение назначения роли: %w", err)
		}
		return existing, false, nil
	}

	s.logger.Info("Роль назначена",
		slog.String("user_id", userID),
		slog.String("role_id", roleID),
		slog.String("role", role.Name),
		slog.String("assigned_by", assignedBy),
	)
	return a, true, nil
}

// RemoveRole удаляет назначение роли.
func (s *PermissionService) RemoveRole(ctx context.Context, userID, roleID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if !isUUID(roleID) {
		return ErrNotFound
	}

	err := s.assignments.Delete(ctx, userID, roleID)
	s.countMutation(opRemove, err)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление назначения роли: %w", err)
	}

	s.logger.Info("Назначение роли удалено",
		slog.String("user_id", userID),
		slog.String("role_id", roleID),
	)
	return nil
}

// RemoveAllRoles удаляет все назначения пользователя (удаление пользователя).
func (s *PermissionService) RemoveAllRoles(ctx context.Context, userID string) (int64, error) {
	if err := validateUserID(userID); err != nil {
		return 0, err
	}
	n, err := s.assignments.DeleteAllForUser(ctx, userID)
	s.countMutation(opPurge, err)
	if err != nil {
		return 0, fmt.Errorf("удаление назначений пользователя: %w", err)
	}
	s.logger.Info("Назначения пользователя удалены",
		slog.String("user_id", userID),
		slog.Int64("count", n),
	)
	return n, nil
}

// GrantPermission добавляет право в additional_permissions назначения.
func (s *PermissionService) GrantPermission(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return s.mutate(ctx, opGrant, userID, roleID, permission, s.assignments.AddAdditional)
}

// RevokePermission убирает право из additional_permissions назначения.
func (s *PermissionService) RevokePermission(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return s.mutate(ctx, opRevoke, userID, roleID, permission, s.assignments.RemoveAdditional)
}

// DenyPermission запрещает право в рамках назначения.
func (s *PermissionService) DenyPermission(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return s.mutate(ctx, opDeny, userID, roleID, permission, s.assignments.AddDenied)
}

// AllowPermission снимает запрет права в рамках назначения.
func (s *PermissionService) AllowPermission(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return s.mutate(ctx, opAllow, userID, roleID, permission, s.assignments.RemoveDenied)
}

type setMutation func(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error)

func (s *PermissionService) mutate(
	ctx context.Context,
	op, userID, roleID, permission string,
	fn setMutation,
) (*model.Assignment, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if !rbac.ValidPermissionName(permission) {
		return nil, fmt.Errorf("%w: некорректное имя права %q", ErrValidation, permission)
	}
	if !isUUID(roleID) {
		return nil, ErrNotFound
	}

	a, err := fn(ctx, userID, roleID, permission)
	s.countMutation(op, err)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("изменение назначения (%s): %w", op, err)
	}

	s.logger.Info("Права назначения изменены",
		slog.String("operation", op),
		slog.String("user_id", userID),
		slog.String("role_id", roleID),
		slog.String("permission", permission),
	)
	return a, nil
}

func (s *PermissionService) listAssignments(ctx context.Context, userID string) ([]model.RoleAssignment, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	assignments, err := s.assignments.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("получение назначений пользователя: %w", err)
	}
	return assignments, nil
}

func (s *PermissionService) countMutation(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, ErrInvalidRole):
		result = "rejected"
	default:
		result = "error"
	}
	assignmentMutationsTotal.WithLabelValues(op, result).Inc()
}

func validateUserID(userID string) error {
	if userID == "" || len(userID) > 255 {
		return fmt.Errorf("%w: некорректный идентификатор пользователя", ErrValidation)
	}
	return nil
}
