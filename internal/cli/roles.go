package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/gostorefront/access-module/internal/accessclient"
	"github.com/bigkaa/gostorefront/access-module/internal/api/contract"
)

func (a *app) rolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Управление ролями",
	}
	cmd.AddCommand(a.rolesListCmd(), a.rolesGetCmd(), a.rolesCreateCmd(), a.rolesDeleteCmd(), a.rolesAssignmentsCmd())
	return cmd
}

func (a *app) rolesListCmd() *cobra.Command {
	var (
		limit, offset int
		activeOnly    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Список ролей",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := accessclient.ListOptions{Limit: limit, Offset: offset}
			if activeOnly {
				includeInactive := false
				opts.IncludeInactive = &includeInactive
			}
			list, err := a.client.ListRoles(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return render(a.stdout, a.output, list, func(tw *tabwriter.Writer) {
				line(tw, "ID", "NAME", "ACTIVE", "PERMISSIONS")
				for _, r := range list.Items {
					line(tw, r.ID, r.Name, r.IsActive, joinOrDash(r.Permissions))
				}
				line(tw)
				line(tw, fmt.Sprintf("Всего: %d", list.Total))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "размер страницы (0 — по умолчанию сервера)")
	cmd.Flags().IntVar(&offset, "offset", 0, "смещение")
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "только активные роли")
	return cmd
}

func (a *app) rolesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <roleId>",
		Short: "Показать роль",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := a.client.GetRole(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(a.stdout, a.output, role, func(tw *tabwriter.Writer) {
				printRole(tw, role)
			})
		},
	}
}

func (a *app) rolesCreateCmd() *cobra.Command {
	var (
		description string
		permissions []string
		inactive    bool
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Создать роль",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := contract.CreateRoleRequest{
				Name:        args[0],
				Description: description,
				Permissions: permissions,
			}
			if inactive {
				active := false
				req.IsActive = &active
			}
			role, err := a.client.CreateRole(cmd.Context(), req)
			if err != nil {
				return err
			}
			return render(a.stdout, a.output, role, func(tw *tabwriter.Writer) {
				printRole(tw, role)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "описание")
	cmd.Flags().StringSliceVarP(&permissions, "permission", "p", nil, "право роли (можно повторять или через запятую)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "создать неактивной")
	return cmd
}

func (a *app) rolesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <roleId>",
		Short: "Удалить роль",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.DeleteRole(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Роль удалена")
			return nil
		},
	}
}

func (a *app) rolesAssignmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assignments [userId]",
		Short: "Назначения ролей пользователя (по умолчанию текущего)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := a.userArg(args, 0)
			if err != nil {
				return err
			}
			list, err := a.client.ListAssignments(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return render(a.stdout, a.output, list, func(tw *tabwriter.Writer) {
				printAssignments(tw, list.Items)
			})
		},
	}
}

func printRole(tw *tabwriter.Writer, r *contract.Role) {
	line(tw, "ID", r.ID)
	line(tw, "NAME", r.Name)
	line(tw, "DESCRIPTION", r.Description)
	line(tw, "ACTIVE", r.IsActive)
	line(tw, "PERMISSIONS", joinOrDash(r.Permissions))
}
