package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
)

// AssignmentRepository — интерфейс для таблицы user_roles.
//
// Каждое изменение набора прав назначения выполняется одним UPDATE
// и атомарно в пределах строки.
type AssignmentRepository interface {
	// Create создаёт назначение. Если оно уже существует — ничего не меняет
	// и возвращает created == false.
	Create(ctx context.Context, a *model.Assignment) (created bool, err error)
	// Get возвращает назначение по (userID, roleID).
	Get(ctx context.Context, userID, roleID string) (*model.Assignment, error)
	// Delete удаляет назначение.
	Delete(ctx context.Context, userID, roleID string) error
	// DeleteAllForUser удаляет все назначения пользователя, возвращает их количество.
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	// ListForUser возвращает назначения пользователя вместе с ролями.
	// Для удалённой роли RoleAssignment.Role == nil.
	ListForUser(ctx context.Context, userID string) ([]model.RoleAssignment, error)
	// AddAdditional добавляет право в additional_permissions.
	AddAdditional(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error)
	// RemoveAdditional убирает право из additional_permissions.
	RemoveAdditional(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error)
	// AddDenied добавляет право в denied_permissions.
	AddDenied(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error)
	// RemoveDenied убирает право из denied_permissions.
	RemoveDenied(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error)
}

type assignmentRepo struct {
	db DBTX
}

// NewAssignmentRepository создаёт репозиторий назначений ролей.
func NewAssignmentRepository(db DBTX) AssignmentRepository {
	return &assignmentRepo{db: db}
}

const assignmentColumns = `user_id, role_id, additional_permissions, denied_permissions, assigned_by, created_at, updated_at`

// Колонки с наборами прав назначения.
const (
	columnAdditional = "additional_permissions"
	columnDenied     = "denied_permissions"
)

func scanAssignment(row pgx.Row) (*model.Assignment, error) {
	a := &model.Assignment{}
	err := row.Scan(
		&a.UserID, &a.RoleID, &a.AdditionalPermissions, &a.DeniedPermissions,
		&a.AssignedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *assignmentRepo) Create(ctx context.Context, a *model.Assignment) (bool, error) {
	if a.AdditionalPermissions == nil {
		a.AdditionalPermissions = []string{}
	}
	if a.DeniedPermissions == nil {
		a.DeniedPermissions = []string{}
	}

	query := `
		INSERT INTO user_roles (user_id, role_id, additional_permissions, denied_permissions, assigned_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role_id) DO NOTHING
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		a.UserID, a.RoleID, a.AdditionalPermissions, a.DeniedPermissions, a.AssignedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		// ON CONFLICT DO NOTHING не возвращает строк
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка создания назначения роли: %w", err)
	}
	return true, nil
}

func (r *assignmentRepo) Get(ctx context.Context, userID, roleID string) (*model.Assignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM user_roles WHERE user_id = $1 AND role_id = $2`, assignmentColumns)

	a, err := scanAssignment(r.db.QueryRow(ctx, query, userID, roleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения назначения роли: %w", err)
	}
	return a, nil
}

func (r *assignmentRepo) Delete(ctx context.Context, userID, roleID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("ошибка удаления назначения роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *assignmentRepo) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления назначений пользователя: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *assignmentRepo) ListForUser(ctx context.Context, userID string) ([]model.RoleAssignment, error) {
	// LEFT JOIN: назначение удалённой роли возвращается с NULL-колонками роли
	query := `
		SELECT ur.user_id, ur.role_id, ur.additional_permissions, ur.denied_permissions,
		       ur.assigned_by, ur.created_at, ur.updated_at,
		       r.id, r.name, r.description, r.permissions, r.is_active, r.created_at, r.updated_at
		FROM user_roles ur
		LEFT JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY ur.created_at, ur.role_id`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения назначений пользователя: %w", err)
	}
	defer rows.Close()

	var result []model.RoleAssignment
	for rows.Next() {
		var (
			ra              model.RoleAssignment
			roleID          *string
			roleName        *string
			roleDescription *string
			rolePerms       []string
			roleActive      *bool
			roleCreatedAt   *time.Time
			roleUpdatedAt   *time.Time
		)
		if err := rows.Scan(
			&ra.UserID, &ra.RoleID, &ra.AdditionalPermissions, &ra.DeniedPermissions,
			&ra.AssignedBy, &ra.CreatedAt, &ra.UpdatedAt,
			&roleID, &roleName, &roleDescription, &rolePerms, &roleActive,
			&roleCreatedAt, &roleUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования назначения роли: %w", err)
		}
		if roleID != nil {
			ra.Role = &model.Role{
				ID:          *roleID,
				Name:        deref(roleName),
				Description: deref(roleDescription),
				Permissions: rolePerms,
				IsActive:    roleActive != nil && *roleActive,
			}
			if roleCreatedAt != nil {
				ra.Role.CreatedAt = *roleCreatedAt
			}
			if roleUpdatedAt != nil {
				ra.Role.UpdatedAt = *roleUpdatedAt
			}
		}
		result = append(result, ra)
	}
	return result, rows.Err()
}

func (r *assignmentRepo) AddAdditional(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return r.addToSet(ctx, columnAdditional, userID, roleID, permission)
}

func (r *assignmentRepo) RemoveAdditional(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return r.removeFromSet(ctx, columnAdditional, userID, roleID, permission)
}

func (r *assignmentRepo) AddDenied(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return r.addToSet(ctx, columnDenied, userID, roleID, permission)
}

func (r *assignmentRepo) RemoveDenied(ctx context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return r.removeFromSet(ctx, columnDenied, userID, roleID, permission)
}

// addToSet добавляет право в массив column, если его там ещё нет.
func (r *assignmentRepo) addToSet(ctx context.Context, column, userID, roleID, permission string) (*model.Assignment, error) {
	query := fmt.Sprintf(`
		UPDATE user_roles SET
			%[1]s = CASE WHEN $3::text = ANY(%[1]s) THEN %[1]s ELSE array_append(%[1]s, $3::text) END,
			updated_at = NOW()
		WHERE user_id = $1 AND role_id = $2
		RETURNING %[2]s`, column, assignmentColumns)

	return r.mutate(ctx, query, userID, roleID, permission)
}

// removeFromSet убирает право из массива column.
func (r *assignmentRepo) removeFromSet(ctx context.Context, column, userID, roleID, permission string) (*model.Assignment, error) {
	query := fmt.Sprintf(`
		UPDATE user_roles SET
			%[1]s = array_remove(%[1]s, $3::text),
			updated_at = NOW()
		WHERE user_id = $1 AND role_id = $2
		RETURNING %[2]s`, column, assignmentColumns)

	return r.mutate(ctx, query, userID, roleID, permission)
}

func (r *assignmentRepo) mutate(ctx context.Context, query, userID, roleID, permission string) (*model.Assignment, error) {
	a, err := scanAssignment(r.db.QueryRow(ctx, query, userID, roleID, permission))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка изменения прав назначения: %w", err)
	}
	return a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
