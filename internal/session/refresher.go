package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPRefresher — обмен refresh token через POST {base}/auth/refresh.
type HTTPRefresher struct {
	refreshURL string
	httpClient *http.Client
}

// NewHTTPRefresher создаёт refresher сервиса аутентификации.
// httpClient не должен использовать Transport координатора (nil — клиент с таймаутом 30s).
func NewHTTPRefresher(baseURL string, httpClient *http.Client) *HTTPRefresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRefresher{
		refreshURL: strings.TrimRight(baseURL, "/") + "/auth/refresh",
		httpClient: httpClient,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"` //nolint:gosec // G117: поле протокола
}

// Refresh реализует Refresher. Отсутствующий в ответе refreshToken
// означает, что прежний остаётся действительным.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (Credentials, error) {
	var creds Credentials
	if err := postJSON(ctx, r.httpClient, r.refreshURL, refreshRequest{RefreshToken: refreshToken}, &creds); err != nil {
		return Credentials{}, fmt.Errorf("обновление токена: %w", err)
	}
	return creds, nil
}

// postJSON отправляет JSON и декодирует успешный (2xx) ответ в out.
func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("ошибка запроса к %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("ошибка парсинга ответа: %w", err)
	}
	return nil
}
