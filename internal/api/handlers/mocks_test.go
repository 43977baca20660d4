package handlers

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/gostorefront/access-module/internal/domain/model"
	"github.com/bigkaa/gostorefront/access-module/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRoles — мок RoleManager.
type fakeRoles struct {
	roles map[string]*model.Role
	err   error

	includeInactive bool
	limit, offset   int
}

func (f *fakeRoles) CreateRole(_ context.Context, in service.CreateRoleInput) (*model.Role, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Role{ID: "new-id", Name: in.Name, Permissions: in.Permissions, IsActive: true}, nil
}

func (f *fakeRoles) GetRole(_ context.Context, id string) (*model.Role, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.roles[id]
	if !ok {
		return nil, service.ErrNotFound
	}
	return r, nil
}

func (f *fakeRoles) ListRoles(_ context.Context, includeInactive bool, limit, offset int) ([]*model.Role, int, error) {
	f.includeInactive, f.limit, f.offset = includeInactive, limit, offset
	if f.err != nil {
		return nil, 0, f.err
	}
	out := make([]*model.Role, 0, len(f.roles))
	for _, r := range f.roles {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (f *fakeRoles) UpdateRole(_ context.Context, id string, in service.UpdateRoleInput) (*model.Role, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.roles[id]
	if !ok {
		return nil, service.ErrNotFound
	}
	if in.IsActive != nil {
		r.IsActive = *in.IsActive
	}
	return r, nil
}

func (f *fakeRoles) DeleteRole(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.roles[id]; !ok {
		return service.ErrNotFound
	}
	delete(f.roles, id)
	return nil
}

// fakeEngine — мок PermissionEngine. Ошибки задаются на операцию.
type fakeEngine struct {
	resolved    *model.ResolvedPermissions
	assignments []model.RoleAssignment
	created     bool
	errs        map[string]error
	calls       []string
	lastArgs    []string
}

func (f *fakeEngine) record(op string, args ...string) error {
	f.calls = append(f.calls, op)
	f.lastArgs = args
	return f.errs[op]
}

func (f *fakeEngine) Resolve(_ context.Context, userID string) (*model.ResolvedPermissions, error) {
	if err := f.record("resolve", userID); err != nil {
		return nil, err
	}
	return f.resolved, nil
}

func (f *fakeEngine) HasPermission(_ context.Context, userID, permission string) (bool, error) {
	if err := f.record("check", userID, permission); err != nil {
		return false, err
	}
	for _, p := range f.resolved.Permissions {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEngine) ListAssignments(_ context.Context, userID string) ([]model.RoleAssignment, error) {
	if err := f.record("list", userID); err != nil {
		return nil, err
	}
	return f.assignments, nil
}

func (f *fakeEngine) AssignRole(_ context.Context, userID, roleID, assignedBy string) (*model.Assignment, bool, error) {
	if err := f.record("assign", userID, roleID, assignedBy); err != nil {
		return nil, false, err
	}
	return &model.Assignment{UserID: userID, RoleID: roleID, AssignedBy: assignedBy}, f.created, nil
}

func (f *fakeEngine) RemoveRole(_ context.Context, userID, roleID string) error {
	return f.record("remove", userID, roleID)
}

func (f *fakeEngine) RemoveAllRoles(_ context.Context, userID string) (int64, error) {
	if err := f.record("purge", userID); err != nil {
		return 0, err
	}
	return int64(len(f.assignments)), nil
}

func (f *fakeEngine) mutation(op, userID, roleID, permission string) (*model.Assignment, error) {
	if err := f.record(op, userID, roleID, permission); err != nil {
		return nil, err
	}
	return &model.Assignment{UserID: userID, RoleID: roleID}, nil
}

func (f *fakeEngine) GrantPermission(_ context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return f.mutation("grant", userID, roleID, permission)
}

func (f *fakeEngine) RevokePermission(_ context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return f.mutation("revoke", userID, roleID, permission)
}

func (f *fakeEngine) DenyPermission(_ context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return f.mutation("deny", userID, roleID, permission)
}

func (f *fakeEngine) AllowPermission(_ context.Context, userID, roleID, permission string) (*model.Assignment, error) {
	return f.mutation("allow", userID, roleID, permission)
}

// newTestRouter регистрирует обработчики без аутентификации и авторизации.
func newTestRouter(h *APIHandler) chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1/roles", func(r chi.Router) {
		r.Get("/", h.ListRoles)
		r.Post("/", h.CreateRole)
		r.Get("/{roleId}", h.GetRole)
		r.Put("/{roleId}", h.UpdateRole)
		r.Delete("/{roleId}", h.DeleteRole)

		r.Get("/user/{userId}", h.ListUserAssignments)
		r.Post("/user/{userId}", h.AssignRole)
		r.Delete("/user/{userId}", h.RemoveAllRoles)
		r.Get("/user/{userId}/permissions", h.ResolvePermissions)
		r.Get("/user/{userId}/permissions/{permission}", h.CheckPermission)
		r.Delete("/user/{userId}/{roleId}", h.RemoveRole)
		r.Post("/user/{userId}/{roleId}/{action}", h.MutatePermission)
	})
	return r
}
