package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/gostorefront/access-module/internal/session"
)

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Войти и сохранить сессию",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pass, err := a.password(password)
			if err != nil {
				return err
			}
			creds, err := a.auth.Login(cmd.Context(), session.LoginRequest{Email: email, Password: pass})
			if err != nil {
				return err
			}
			return a.printSession(creds)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email пользователя")
	cmd.Flags().StringVar(&password, "password", "", "пароль (по умолчанию ACCESSCTL_PASSWORD или stdin)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) registerCmd() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Зарегистрироваться и сохранить сессию",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pass, err := a.password(password)
			if err != nil {
				return err
			}
			creds, err := a.auth.Register(cmd.Context(), session.RegisterRequest{Email: email, Password: pass, Name: name})
			if err != nil {
				return err
			}
			return a.printSession(creds)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email пользователя")
	cmd.Flags().StringVar(&password, "password", "", "пароль (по умолчанию ACCESSCTL_PASSWORD или stdin)")
	cmd.Flags().StringVar(&name, "name", "", "имя")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Завершить сессию и удалить сохранённые токены",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := a.coord.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Сессия завершена")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Показать текущего пользователя и его эффективные права",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.currentUserID()
			if err != nil {
				return err
			}
			resolved, err := a.client.ResolvePermissions(cmd.Context(), userID)
			if err != nil {
				return err
			}

			out := struct {
				UserID      string          `json:"userId"`
				User        json.RawMessage `json:"user,omitempty"`
				Permissions []string        `json:"permissions"`
			}{
				UserID:      userID,
				User:        a.coord.Credentials().User,
				Permissions: resolved.Permissions,
			}
			return render(a.stdout, a.output, out, func(tw *tabwriter.Writer) {
				line(tw, "USER", userID)
				line(tw, "PERMISSIONS", joinOrDash(resolved.Permissions))
			})
		},
	}
}

// password возвращает пароль из флага, ACCESSCTL_PASSWORD или первой строки stdin.
func (a *app) password(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv("ACCESSCTL_PASSWORD"); env != "" {
		return env, nil
	}

	reader := bufio.NewReader(a.stdin)
	pass, err := reader.ReadString('\n')
	pass = strings.TrimRight(pass, "\r\n")
	if pass == "" {
		if err != nil {
			return "", fmt.Errorf("чтение пароля: %w", err)
		}
		return "", errors.New("пустой пароль")
	}
	return pass, nil
}

func (a *app) printSession(creds session.Credentials) error {
	userID, _ := a.currentUserID()
	out := struct {
		UserID string          `json:"userId,omitempty"`
		User   json.RawMessage `json:"user,omitempty"`
	}{UserID: userID, User: creds.User}

	return render(a.stdout, a.output, out, func(tw *tabwriter.Writer) {
		if userID != "" {
			line(tw, "Вход выполнен:", userID)
		} else {
			line(tw, "Вход выполнен")
		}
	})
}
