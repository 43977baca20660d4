// permissions.go — middleware авторизации на основе эффективных прав пользователя.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gostorefront/access-module/internal/api/errors"
)

// PermissionChecker — источник проверки прав.
// Реализуется service.PermissionService.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

// Authorizer строит middleware проверки прав.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
type Authorizer struct {
	checker PermissionChecker
	logger  *slog.Logger
}

// NewAuthorizer создаёт Authorizer.
func NewAuthorizer(checker PermissionChecker, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		checker: checker,
		logger:  logger.With(slog.String("component", "authorizer")),
	}
}

// RequirePermission пропускает запрос, если у вызывающего есть право permission.
func (a *Authorizer) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := SubjectFromContext(r.Context())
			if subject == "" {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if !a.allowed(w, r, subject, permission) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSelfOrPermission пропускает запрос, если параметр пути userId совпадает
// с sub вызывающего, иначе требует право permission.
func (a *Authorizer) RequireSelfOrPermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := SubjectFromContext(r.Context())
			if subject == "" {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if chi.URLParam(r, "userId") == subject {
				next.ServeHTTP(w, r)
				return
			}
			if !a.allowed(w, r, subject, permission) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allowed проверяет право и пишет ответ ошибки, если доступ запрещён.
func (a *Authorizer) allowed(w http.ResponseWriter, r *http.Request, subject, permission string) bool {
	ok, err := a.checker.HasPermission(r.Context(), subject, permission)
	if err != nil {
		a.logger.Error("Ошибка проверки прав",
			slog.String("user_id", subject),
			slog.String("permission", permission),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка проверки прав")
		return false
	}
	if !ok {
		apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется %s", permission))
		return false
	}
	return true
}
