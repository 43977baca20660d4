package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config — настройки accessctl (~/.config/accessctl/config.yaml).
type Config struct {
	// Server — адрес Access Module.
	Server string `yaml:"server"`
	// AuthServer — адрес сервиса аутентификации (/auth/login, /auth/refresh).
	AuthServer string `yaml:"auth_server"`
	// CredentialsFile — зашифрованный файл сессии.
	CredentialsFile string `yaml:"credentials_file"`
	// CredentialsKey — ключ шифрования файла сессии.
	CredentialsKey string `yaml:"credentials_key"`
	// Timeout — таймаут HTTP-запросов.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfigPath возвращает путь к файлу настроек по умолчанию.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".accessctl", "config.yaml")
	}
	return filepath.Join(dir, "accessctl", "config.yaml")
}

func defaultConfig() *Config {
	cfg := &Config{
		Server:     "http://localhost:8000",
		AuthServer: "http://localhost:8080",
		Timeout:    30 * time.Second,
	}
	if dir, err := os.UserConfigDir(); err == nil {
		cfg.CredentialsFile = filepath.Join(dir, "accessctl", "credentials")
	}
	return cfg
}

// LoadConfig читает YAML-файл поверх значений по умолчанию.
// Отсутствующий файл не является ошибкой. Переменные окружения
// ACCESSCTL_SERVER, ACCESSCTL_AUTH_SERVER, ACCESSCTL_CREDENTIALS_KEY
// имеют приоритет над файлом.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("разбор %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("чтение %s: %w", path, err)
	}

	if v := os.Getenv("ACCESSCTL_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("ACCESSCTL_AUTH_SERVER"); v != "" {
		cfg.AuthServer = v
	}
	if v := os.Getenv("ACCESSCTL_CREDENTIALS_KEY"); v != "" {
		cfg.CredentialsKey = v
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout должен быть положительным, получено %s", cfg.Timeout)
	}
	return cfg, nil
}

// Save записывает настройки в YAML-файл.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("сериализация настроек: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("создание каталога настроек: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
