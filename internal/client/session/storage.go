package session

import (
	"errors"
	"os"
	"strings"
)

// TokenStorage is the single durable slot the bearer token lives in.
// Only the Session writes to it.
type TokenStorage interface {
	// Load returns the stored token, or "" when none is stored.
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// FileTokenStorage keeps the token in a single file, created with
// owner-only permissions.
type FileTokenStorage struct {
	path string
}

func NewFileTokenStorage(path string) *FileTokenStorage {
	return &FileTokenStorage{path: path}
}

func (s *FileTokenStorage) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileTokenStorage) Save(token string) error {
	return os.WriteFile(s.path, []byte(token), 0o600)
}

func (s *FileTokenStorage) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
