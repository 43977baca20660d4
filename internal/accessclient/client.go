// Пакет accessclient — HTTP-клиент Access Module API (/api/v1/roles).
// Авторизация запросов выполняется http.Client, переданным в New
// (обычно поверх session.Transport).
package accessclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bigkaa/gostorefront/access-module/internal/api/contract"
)

// Action — операция над правами назначения.
type Action string

const (
	ActionGrant  Action = "grant"
	ActionRevoke Action = "revoke"
	ActionDeny   Action = "deny"
	ActionAllow  Action = "allow"
)

// Valid сообщает, поддерживается ли операция сервером.
func (a Action) Valid() bool {
	switch a {
	case ActionGrant, ActionRevoke, ActionDeny, ActionAllow:
		return true
	default:
		return false
	}
}

// APIError — ответ сервера с ошибкой ({"error":{"code","message"}}).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("access-module вернул статус %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("access-module: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound сообщает, что роль или назначение не найдены.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsForbidden сообщает, что у пользователя нет нужного права.
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// Client — клиент Access Module.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. baseURL — адрес сервиса без /api/v1.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v1/roles",
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "access_client")),
	}
}

// ListOptions — параметры GET /api/v1/roles.
type ListOptions struct {
	Limit           int
	Offset          int
	IncludeInactive *bool
}

// ListRoles возвращает страницу ролей.
func (c *Client) ListRoles(ctx context.Context, opts ListOptions) (*contract.RoleList, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.IncludeInactive != nil {
		q.Set("include_inactive", strconv.FormatBool(*opts.IncludeInactive))
	}

	path := "/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out contract.RoleList
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRole создаёт роль.
func (c *Client) CreateRole(ctx context.Context, in contract.CreateRoleRequest) (*contract.Role, error) {
	var out contract.Role
	if _, err := c.do(ctx, http.MethodPost, "/", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRole возвращает роль по ID.
func (c *Client) GetRole(ctx context.Context, roleID string) (*contract.Role, error) {
	var out contract.Role
	if _, err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(roleID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRole частично обновляет роль.
func (c *Client) UpdateRole(ctx context.Context, roleID string, in contract.UpdateRoleRequest) (*contract.Role, error) {
	var out contract.Role
	if _, err := c.do(ctx, http.MethodPut, "/"+url.PathEscape(roleID), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRole удаляет роль.
func (c *Client) DeleteRole(ctx context.Context, roleID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/"+url.PathEscape(roleID), nil, nil)
	return err
}

// ResolvePermissions возвращает эффективные права пользователя.
func (c *Client) ResolvePermissions(ctx context.Context, userID string) (*contract.ResolvedPermissions, error) {
	var out contract.ResolvedPermissions
	if _, err := c.do(ctx, http.MethodGet, userPath(userID)+"/permissions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HasPermission проверяет одно право пользователя.
func (c *Client) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	var out contract.PermissionCheck
	path := userPath(userID) + "/permissions/" + url.PathEscape(permission)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, err
	}
	return out.Granted, nil
}

// ListAssignments возвращает назначения пользователя.
func (c *Client) ListAssignments(ctx context.Context, userID string) (*contract.AssignmentList, error) {
	var out contract.AssignmentList
	if _, err := c.do(ctx, http.MethodGet, userPath(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssignRole назначает роль. created=false — назначение уже существовало.
func (c *Client) AssignRole(ctx context.Context, userID, roleID string) (*contract.Assignment, bool, error) {
	var out contract.Assignment
	status, err := c.do(ctx, http.MethodPost, userPath(userID), contract.AssignRoleRequest{RoleID: roleID}, &out)
	if err != nil {
		return nil, false, err
	}
	return &out, status == http.StatusCreated, nil
}

// RemoveRole снимает роль с пользователя.
func (c *Client) RemoveRole(ctx context.Context, userID, roleID string) error {
	_, err := c.do(ctx, http.MethodDelete, userPath(userID)+"/"+url.PathEscape(roleID), nil, nil)
	return err
}

// RemoveAllRoles снимает все роли пользователя.
func (c *Client) RemoveAllRoles(ctx context.Context, userID string) (int64, error) {
	var out contract.RemoveAllResult
	if _, err := c.do(ctx, http.MethodDelete, userPath(userID), nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// MutatePermission выполняет grant/revoke/deny/allow над назначением.
func (c *Client) MutatePermission(ctx context.Context, userID, roleID string, action Action, permission string) (*contract.Assignment, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("неизвестная операция %q", action)
	}

	var out contract.Assignment
	path := userPath(userID) + "/" + url.PathEscape(roleID) + "/" + string(action)
	if _, err := c.do(ctx, http.MethodPost, path, contract.PermissionRequest{Permission: permission}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func userPath(userID string) string {
	return "/user/" + url.PathEscape(userID)
}

// do выполняет запрос и декодирует JSON-ответ в out (nil — тело не читается).
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("сериализация запроса: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return 0, fmt.Errorf("запрос %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Ответ access-module",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	if resp.StatusCode >= 300 {
		return resp.StatusCode, decodeError(resp)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("декодирование ответа %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body contract.ErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
