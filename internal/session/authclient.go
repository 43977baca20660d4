package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AuthClient — вход и регистрация покупателя. Успешный ответ
// начинает новую сессию координатора.
type AuthClient struct {
	baseURL    string
	httpClient *http.Client
	coord      *Coordinator
}

// NewAuthClient создаёт клиент сервиса аутентификации.
// httpClient — без Transport координатора (nil — клиент с таймаутом 30s).
func NewAuthClient(baseURL string, httpClient *http.Client, coord *Coordinator) *AuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AuthClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		coord:      coord,
	}
}

// LoginRequest — тело POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"` //nolint:gosec // G117: поле протокола
}

// RegisterRequest — тело POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"` //nolint:gosec // G117: поле протокола
	Name     string `json:"name,omitempty"`
}

// Login выполняет вход и сохраняет сессию.
func (a *AuthClient) Login(ctx context.Context, in LoginRequest) (Credentials, error) {
	return a.authenticate(ctx, "/auth/login", in)
}

// Register регистрирует покупателя и сохраняет сессию.
func (a *AuthClient) Register(ctx context.Context, in RegisterRequest) (Credentials, error) {
	return a.authenticate(ctx, "/auth/register", in)
}

func (a *AuthClient) authenticate(ctx context.Context, path string, in any) (Credentials, error) {
	var creds Credentials
	if err := postJSON(ctx, a.httpClient, a.baseURL+path, in, &creds); err != nil {
		return Credentials{}, fmt.Errorf("%s: %w", path, err)
	}
	if creds.AccessToken == "" {
		return Credentials{}, errors.New(path + ": пустой access token в ответе")
	}
	if err := a.coord.Seed(creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}
