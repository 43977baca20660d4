package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
	"github.com/bigkaa/gostorefront/access-module/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mockRoleRepo ---

type mockRoleRepo struct {
	mu    sync.Mutex
	roles map[string]*model.Role
}

func newMockRoleRepo(roles ...*model.Role) *mockRoleRepo {
	m := &mockRoleRepo{roles: make(map[string]*model.Role)}
	for _, r := range roles {
		m.roles[r.ID] = r
	}
	return m
}

func (m *mockRoleRepo) Create(_ context.Context, role *model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == role.Name {
			return repository.ErrConflict
		}
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *mockRoleRepo) GetByID(_ context.Context, id string) (*model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRoleRepo) GetByName(_ context.Context, name string) (*model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockRoleRepo) List(_ context.Context, includeInactive bool, limit, offset int) ([]*model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.Role
	for _, r := range m.roles {
		if includeInactive || r.IsActive {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockRoleRepo) Count(ctx context.Context, includeInactive bool) (int, error) {
	list, err := m.List(ctx, includeInactive, len(m.roles)+1, 0)
	return len(list), err
}

func (m *mockRoleRepo) Update(_ context.Context, role *model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; !ok {
		return repository.ErrNotFound
	}
	for id, r := range m.roles {
		if id != role.ID && r.Name == role.Name {
			return repository.ErrConflict
		}
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *mockRoleRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

// --- mockAssignmentRepo ---

type assignmentKey struct{ userID, roleID string }

// mockAssignmentRepo хранит назначения в памяти и разрешает роли через roles,
// как LEFT JOIN в PostgreSQL.
type mockAssignmentRepo struct {
	mu      sync.Mutex
	roles   *mockRoleRepo
	items   map[assignmentKey]*model.Assignment
	order   []assignmentKey
	listErr error
}

func newMockAssignmentRepo(roles *mockRoleRepo) *mockAssignmentRepo {
	return &mockAssignmentRepo{roles: roles, items: make(map[assignmentKey]*model.Assignment)}
}

func (m *mockAssignmentRepo) Create(_ context.Context, a *model.Assignment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey{a.UserID, a.RoleID}
	if _, ok := m.items[key]; ok {
		return false, nil
	}
	cp := *a
	cp.AdditionalPermissions = slices.Clone(a.AdditionalPermissions)
	cp.DeniedPermissions = slices.Clone(a.DeniedPermissions)
	m.items[key] = &cp
	m.order = append(m.order, key)
	return true, nil
}

func (m *mockAssignmentRepo) Get(_ context.Context, userID, roleID string) (*model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[assignmentKey{userID, roleID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAssignmentRepo) Delete(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey{userID, roleID}
	if _, ok := m.items[key]; !ok {
		return repository.ErrNotFound
	}
	delete(m.items, key)
	m.order = slices.DeleteFunc(m.order, func(k assignmentKey) bool { return k == key })
	return nil
}

func (m *mockAssignmentRepo) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key := range m.items {
		if key.userID == userID {
			delete(m.items, key)
			n++
		}
	}
	m.order = slices.DeleteFunc(m.order, func(k assignmentKey) bool { return k.userID == userID })
	return n, nil
}

func (m *mockAssignmentRepo) ListForUser(ctx context.Context, userID string) ([]model.RoleAssignment, error) {
	m.mu.Lock()
	if m.listErr != nil {
		m.mu.Unlock()
		return nil, m.listErr
	}
	var items []model.Assignment
	for _, key := range m.order {
		if key.userID == userID {
			items = append(items, *m.items[key])
		}
	}
	m.mu.Unlock()

	result := make([]model.RoleAssignment, 0, len(items))
	for _, a := range items {
		ra := model.RoleAssignment{Assignment: a}
		role, err := m.roles.GetByID(ctx, a.RoleID)
		switch {
		case err == nil:
			ra.Role = role
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
		result = append(result, ra)
	}
	return result, nil
}

func (m *mockAssignmentRepo) update(userID, roleID string, fn func(a *model.Assignment)) (*model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[assignmentKey{userID, roleID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	fn(a)
	cp := *a
	return &cp, nil
}

func addUnique(set []string, v string) []string {
	if slices.Contains(set, v) {
		return set
	}
	return append(set, v)
}

func removeAll(set []string, v string) []string {
	return slices.DeleteFunc(slices.Clone(set), func(s string) bool { return s == v })
}

func (m *mockAssignmentRepo) AddAdditional(_ context.Context, userID, roleID, perm string) (*model.Assignment, error) {
	return m.update(userID, roleID, func(a *model.Assignment) {
		a.AdditionalPermissions = addUnique(a.AdditionalPermissions, perm)
	})
}

func (m *mockAssignmentRepo) RemoveAdditional(_ context.Context, userID, roleID, perm string) (*model.Assignment, error) {
	return m.update(userID, roleID, func(a *model.Assignment) {
		a.AdditionalPermissions = removeAll(a.AdditionalPermissions, perm)
	})
}

func (m *mockAssignmentRepo) AddDenied(_ context.Context, userID, roleID, perm string) (*model.Assignment, error) {
	return m.update(userID, roleID, func(a *model.Assignment) {
		a.DeniedPermissions = addUnique(a.DeniedPermissions, perm)
	})
}

func (m *mockAssignmentRepo) RemoveDenied(_ context.Context, userID, roleID, perm string) (*model.Assignment, error) {
	return m.update(userID, roleID, func(a *model.Assignment) {
		a.DeniedPermissions = removeAll(a.DeniedPermissions, perm)
	})
}

// --- mockTransactor ---

type mockTransactor struct {
	roles       *mockRoleRepo
	assignments *mockAssignmentRepo
	calls       int
}

func (m *mockTransactor) WithRepositories(
	_ context.Context,
	fn func(roles repository.RoleRepository, assignments repository.AssignmentRepository) error,
) error {
	m.calls++
	return fn(m.roles, m.assignments)
}
