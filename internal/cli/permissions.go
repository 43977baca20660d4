package cli

import (
	"errors"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/gostorefront/access-module/internal/api/contract"
)

// ErrPermissionDenied — право не выдано (код выхода 1 у accessctl check).
var ErrPermissionDenied = errors.New("право не выдано")

func (a *app) permissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "permissions [userId]",
		Short: "Эффективные права пользователя (по умолчанию текущего)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := a.userArg(args, 0)
			if err != nil {
				return err
			}
			resolved, err := a.client.ResolvePermissions(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return render(a.stdout, a.output, resolved, func(tw *tabwriter.Writer) {
				printResolved(tw, resolved)
			})
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "check <permission>",
		Short: "Проверить одно право пользователя",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := a.userArg([]string{userID}, 0)
			if err != nil {
				return err
			}
			granted, err := a.client.HasPermission(cmd.Context(), uid, args[0])
			if err != nil {
				return err
			}

			check := contract.PermissionCheck{UserID: uid, Permission: args[0], Granted: granted}
			if err := render(a.stdout, a.output, check, func(tw *tabwriter.Writer) {
				verdict := "denied"
				if granted {
					verdict = "granted"
				}
				line(tw, uid, args[0], verdict)
			}); err != nil {
				return err
			}
			if !granted {
				return ErrPermissionDenied
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "userId (по умолчанию текущий пользователь)")
	return cmd
}

func printResolved(tw *tabwriter.Writer, resolved *contract.ResolvedPermissions) {
	line(tw, "ROLE ID", "ROLE", "ADDITIONAL", "DENIED")
	for _, r := range resolved.Roles {
		name := r.RoleName
		if name == "" {
			name = "(удалена)"
		}
		line(tw, r.RoleID, name, joinOrDash(r.AdditionalPermissions), joinOrDash(r.DeniedPermissions))
	}
	line(tw)
	line(tw, "PERMISSIONS", resolved.TotalPermissions, joinOrDash(resolved.Permissions))
}
