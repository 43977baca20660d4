package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
)

// RoleRepository — интерфейс CRUD для таблицы roles.
type RoleRepository interface {
	// Create создаёт роль. ErrConflict — имя уже занято.
	Create(ctx context.Context, role *model.Role) error
	// GetByID возвращает роль по UUID.
	GetByID(ctx context.Context, id string) (*model.Role, error)
	// GetByName возвращает роль по имени.
	GetByName(ctx context.Context, name string) (*model.Role, error)
	// List возвращает роли с пагинацией, отсортированные по имени.
	List(ctx context.Context, includeInactive bool, limit, offset int) ([]*model.Role, error)
	// Count возвращает количество ролей.
	Count(ctx context.Context, includeInactive bool) (int, error)
	// Update обновляет имя, описание, права и активность роли.
	Update(ctx context.Context, role *model.Role) error
	// Delete удаляет роль. Назначения этой роли не удаляются.
	Delete(ctx context.Context, id string) error
}

type roleRepo struct {
	db DBTX
}

// NewRoleRepository создаёт репозиторий ролей.
func NewRoleRepository(db DBTX) RoleRepository {
	return &roleRepo{db: db}
}

const roleColumns = `id, name, description, permissions, is_active, created_at, updated_at`

func scanRole(row pgx.Row) (*model.Role, error) {
	r := &model.Role{}
	err := row.Scan(
		&r.ID, &r.Name, &r.Description, &r.Permissions,
		&r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *roleRepo) Create(ctx context.Context, role *model.Role) error {
	if role.Permissions == nil {
		role.Permissions = []string{}
	}

	query := `
		INSERT INTO roles (id, name, description, permissions, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		role.ID, role.Name, role.Description, role.Permissions, role.IsActive,
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания роли: %w", err)
	}
	return nil
}

func (r *roleRepo) GetByID(ctx context.Context, id string) (*model.Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles WHERE id = $1`, roleColumns)

	role, err := scanRole(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения роли: %w", err)
	}
	return role, nil
}

func (r *roleRepo) GetByName(ctx context.Context, name string) (*model.Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles WHERE name = $1`, roleColumns)

	role, err := scanRole(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения роли по имени: %w", err)
	}
	return role, nil
}

func (r *roleRepo) List(ctx context.Context, includeInactive bool, limit, offset int) ([]*model.Role, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM roles
		WHERE $1 OR is_active
		ORDER BY name
		LIMIT $2 OFFSET $3`, roleColumns)

	rows, err := r.db.Query(ctx, query, includeInactive, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка ролей: %w", err)
	}
	defer rows.Close()

	var result []*model.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования роли: %w", err)
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

func (r *roleRepo) Count(ctx context.Context, includeInactive bool) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM roles WHERE $1 OR is_active`, includeInactive,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта ролей: %w", err)
	}
	return count, nil
}

func (r *roleRepo) Update(ctx context.Context, role *model.Role) error {
	if role.Permissions == nil {
		role.Permissions = []string{}
	}

	query := `
		UPDATE roles SET
			name = $2,
			description = $3,
			permissions = $4,
			is_active = $5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		role.ID, role.Name, role.Description, role.Permissions, role.IsActive,
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка обновления роли: %w", err)
	}
	return nil
}

func (r *roleRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
