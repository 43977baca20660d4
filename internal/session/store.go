package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Credentials — учётные данные сессии покупателя.
type Credentials struct {
	// AccessToken — короткоживущий JWT для авторизованных запросов.
	AccessToken string `json:"accessToken"`
	// RefreshToken — долгоживущий токен для получения нового access token.
	RefreshToken string `json:"refreshToken,omitempty"`
	// User — профиль пользователя из ответа login/register (как есть).
	User json.RawMessage `json:"user,omitempty"`
}

// TokenStore — персистентное хранилище учётных данных сессии.
type TokenStore interface {
	// Load возвращает сохранённые данные или ErrNoCredentials.
	Load() (Credentials, error)
	Save(creds Credentials) error
	Clear() error
}

// MemoryStore — хранилище в памяти процесса.
type MemoryStore struct {
	mu    sync.Mutex
	creds *Credentials
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return Credentials{}, ErrNoCredentials
	}
	return *m.creds, nil
}

func (m *MemoryStore) Save(creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &creds
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}

// FileStore — хранилище в файле, зашифрованном AES-256-GCM.
// Формат файла: base64url(nonce || ciphertext(JSON Credentials)).
type FileStore struct {
	path string
	gcm  cipher.AEAD
	mu   sync.Mutex
}

// NewFileStore создаёт файловое хранилище.
// key — base64 от 32 байт или произвольная строка (хешируется SHA-256).
func NewFileStore(path, key string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("не задан путь к файлу учётных данных")
	}
	if key == "" {
		return nil, errors.New("не задан ключ шифрования учётных данных")
	}

	keyBytes, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(keyBytes) != 32 {
		sum := sha256.Sum256([]byte(key))
		keyBytes = sum[:]
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	return &FileStore{path: path, gcm: gcm}, nil
}

// Path возвращает путь к файлу хранилища.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load() (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("чтение %s: %w", f.path, err)
	}

	return f.decrypt(data)
}

func (f *FileStore) Save(creds Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.encrypt(creds)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("создание каталога для %s: %w", f.path, err)
	}

	// Атомарная замена: временный файл + rename
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("запись %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("замена %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("удаление %s: %w", f.path, err)
	}
	return nil
}

// encrypt сериализует и шифрует учётные данные (nonce prepended к ciphertext).
func (f *FileStore) encrypt(creds Credentials) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации учётных данных: %w", err)
	}

	nonce := make([]byte, f.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	ciphertext := f.gcm.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.URLEncoding.EncodedLen(len(ciphertext)))
	base64.URLEncoding.Encode(out, ciphertext)
	return out, nil
}

func (f *FileStore) decrypt(data []byte) (Credentials, error) {
	ciphertext := make([]byte, base64.URLEncoding.DecodedLen(len(data)))
	n, err := base64.URLEncoding.Decode(ciphertext, data)
	if err != nil {
		return Credentials{}, fmt.Errorf("ошибка декодирования base64: %w", err)
	}
	ciphertext = ciphertext[:n]

	nonceSize := f.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return Credentials{}, errors.New("зашифрованные данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := f.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("ошибка дешифрования учётных данных: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("ошибка десериализации учётных данных: %w", err)
	}
	return creds, nil
}
