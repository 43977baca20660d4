// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден (роль, назначение).
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrInvalidRole — роль не существует или неактивна.
	ErrInvalidRole = errors.New("некорректная роль: роль не существует или неактивна")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)
