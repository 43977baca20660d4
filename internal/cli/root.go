// Пакет cli — команды accessctl: вход покупателя/администратора,
// просмотр эффективных прав и управление назначениями ролей.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/bigkaa/gostorefront/access-module/internal/accessclient"
	"github.com/bigkaa/gostorefront/access-module/internal/session"
)

// app — общее состояние команд: настройки и клиенты.
type app struct {
	configPath string
	server     string
	authServer string
	output     string
	verbose    bool

	logger  *slog.Logger
	coord   *session.Coordinator
	auth    *session.AuthClient
	client  *accessclient.Client
	stdout  io.Writer
	stderr  io.Writer
	stdin   io.Reader
	started bool
}

// NewRootCommand собирает дерево команд accessctl.
func NewRootCommand(version string) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "accessctl",
		Short:         "accessctl — сессия витрины и управление ролями Access Module",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", DefaultConfigPath(), "файл настроек")
	flags.StringVar(&a.server, "server", "", "адрес Access Module (перекрывает config)")
	flags.StringVar(&a.authServer, "auth-server", "", "адрес сервиса аутентификации (перекрывает config)")
	flags.StringVarP(&a.output, "output", "o", outputText, "формат вывода: text, json, yaml")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "подробный лог")

	root.AddCommand(
		a.loginCmd(),
		a.registerCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.permissionsCmd(),
		a.checkCmd(),
		a.assignCmd(),
		a.unassignCmd(),
		a.mutateCmd(accessclient.ActionGrant, "добавить право к назначению"),
		a.mutateCmd(accessclient.ActionRevoke, "убрать добавленное право из назначения"),
		a.mutateCmd(accessclient.ActionDeny, "запретить право в рамках назначения"),
		a.mutateCmd(accessclient.ActionAllow, "снять запрет права в назначении"),
		a.rolesCmd(),
	)
	return root
}

// Execute запускает accessctl.
func Execute(version string) error {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		return err
	}
	return nil
}

// setup загружает настройки и собирает клиентов.
func (a *app) setup(cmd *cobra.Command) error {
	if a.started {
		return nil
	}
	if !validOutput(a.output) {
		return fmt.Errorf("неизвестный формат вывода %q", a.output)
	}

	a.stdout = cmd.OutOrStdout()
	a.stderr = cmd.ErrOrStderr()
	a.stdin = cmd.InOrStdin()

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.server != "" {
		cfg.Server = a.server
	}
	if a.authServer != "" {
		cfg.AuthServer = a.authServer
	}

	store, err := session.NewFileStore(cfg.CredentialsFile, cfg.CredentialsKey)
	if err != nil {
		return fmt.Errorf("хранилище сессии: %w (задайте credentials_key или ACCESSCTL_CREDENTIALS_KEY)", err)
	}

	plain := &http.Client{Timeout: cfg.Timeout}
	coord, err := session.NewCoordinator(session.Config{
		Store:          store,
		Refresher:      session.NewHTTPRefresher(cfg.AuthServer, plain),
		RefreshTimeout: cfg.Timeout,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}
	coord.OnSessionTerminated(func(err error) {
		fmt.Fprintf(a.stderr, "Сессия завершена (%v). Выполните: accessctl login\n", err)
	})
	a.coord = coord
	a.auth = session.NewAuthClient(cfg.AuthServer, plain, coord)

	authed := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: session.NewTransport(nil, coord),
	}
	a.client = accessclient.New(cfg.Server, authed, a.logger)
	a.started = true
	return nil
}

// currentUserID извлекает sub из access token текущей сессии.
// Подпись не проверяется: токен проверяет сервер при каждом запросе.
func (a *app) currentUserID() (string, error) {
	token := a.coord.AccessToken()
	if token == "" {
		return "", errors.New("нет активной сессии, выполните accessctl login")
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("разбор access token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("в access token нет sub")
	}
	return claims.Subject, nil
}

// userArg возвращает userId из аргумента или текущего пользователя.
func (a *app) userArg(args []string, idx int) (string, error) {
	if len(args) > idx && args[idx] != "" {
		return args[idx], nil
	}
	return a.currentUserID()
}
