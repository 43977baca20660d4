package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRefreshExhausted — обновить access token невозможно: нет refresh token
	// или сервис аутентификации отказал. Сессия завершена, повтор не выполняется.
	ErrRefreshExhausted = errors.New("сессия завершена: обновление токена невозможно")

	// ErrRetryLoopGuard — повторённый после обновления запрос снова получил 401.
	ErrRetryLoopGuard = fmt.Errorf("%w: повторный 401 после обновления токена", ErrRefreshExhausted)

	// ErrNoCredentials — в хранилище нет сохранённой сессии.
	ErrNoCredentials = errors.New("сессия не найдена")
)

// StatusError — неожиданный HTTP-статус от сервиса аутентификации.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("сервис аутентификации вернул статус %d: %s", e.StatusCode, e.Body)
}
