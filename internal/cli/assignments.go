package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/gostorefront/access-module/internal/accessclient"
	"github.com/bigkaa/gostorefront/access-module/internal/api/contract"
)

func (a *app) assignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <userId> <roleId>",
		Short: "Назначить роль пользователю",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignment, created, err := a.client.AssignRole(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return render(a.stdout, a.output, assignment, func(tw *tabwriter.Writer) {
				if created {
					line(tw, "Роль назначена:", args[0], args[1])
				} else {
					line(tw, "Роль уже назначена:", args[0], args[1])
				}
			})
		},
	}
}

func (a *app) unassignCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "unassign <userId> [roleId]",
		Short: "Снять роль (или все роли с --all) с пользователя",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) == 1:
				removed, err := a.client.RemoveAllRoles(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(a.stdout, a.output, contract.RemoveAllResult{Removed: removed}, func(tw *tabwriter.Writer) {
					line(tw, "Снято назначений:", removed)
				})
			case !all && len(args) == 2:
				if err := a.client.RemoveRole(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, "Роль снята")
				return nil
			default:
				return errors.New("укажите roleId или --all")
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "снять все роли пользователя")
	return cmd
}

// mutateCmd — grant/revoke/deny/allow <userId> <roleId> <permission>.
func (a *app) mutateCmd(action accessclient.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <userId> <roleId> <permission>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignment, err := a.client.MutatePermission(cmd.Context(), args[0], args[1], action, args[2])
			if err != nil {
				return err
			}
			return render(a.stdout, a.output, assignment, func(tw *tabwriter.Writer) {
				printAssignments(tw, []contract.Assignment{*assignment})
			})
		},
	}
}

func printAssignments(tw *tabwriter.Writer, items []contract.Assignment) {
	line(tw, "USER", "ROLE ID", "ROLE", "ADDITIONAL", "DENIED")
	for _, as := range items {
		name := as.RoleName
		if name == "" {
			name = "-"
		}
		line(tw, as.UserID, as.RoleID, name, joinOrDash(as.AdditionalPermissions), joinOrDash(as.DeniedPermissions))
	}
}
