// Пакет openapi — встроенный OpenAPI контракт Access Module
// и проверка тел запросов по схемам компонентов.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

var (
	loadOnce sync.Once
	doc      *openapi3.T
	loadErr  error
)

// Spec возвращает разобранный и провалидированный контракт.
func Spec() (*openapi3.T, error) {
	loadOnce.Do(func() {
		loader := openapi3.NewLoader()
		d, err := loader.LoadFromData(specYAML)
		if err != nil {
			loadErr = fmt.Errorf("разбор openapi.yaml: %w", err)
			return
		}
		if err := d.Validate(context.Background()); err != nil {
			loadErr = fmt.Errorf("валидация openapi.yaml: %w", err)
			return
		}
		doc = d
	})
	return doc, loadErr
}

// RawSpec возвращает исходный YAML контракта.
func RawSpec() []byte {
	return specYAML
}

// ValidateBody проверяет JSON-тело запроса по схеме components/schemas/<schemaName>.
// Возвращает ошибку с путём к полю и причиной.
func ValidateBody(schemaName string, body []byte) error {
	d, err := Spec()
	if err != nil {
		return err
	}

	ref, ok := d.Components.Schemas[schemaName]
	if !ok || ref.Value == nil {
		return fmt.Errorf("схема %s не найдена в контракте", schemaName)
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return fmt.Errorf("некорректный JSON: %w", err)
	}

	if err := ref.Value.VisitJSON(value); err != nil {
		return describe(err)
	}
	return nil
}

// describe сокращает ошибку схемы до «поле: причина».
func describe(err error) error {
	var se *openapi3.SchemaError
	if !errors.As(err, &se) {
		return err
	}
	field := strings.Join(se.JSONPointer(), ".")
	if field == "" {
		return errors.New(se.Reason)
	}
	return fmt.Errorf("%s: %s", field, se.Reason)
}
