package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// FileStore keeps all entries in a single JSON object on disk. Suited for
// single-tenant deployments and tests; every operation rewrites the file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens (or will create on first write) the store file at path.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage: empty file path")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	if len(data) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var content map[string]json.RawMessage
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("storage: store file corrupt: %w", err)
	}
	return content, nil
}

func (s *FileStore) write(content map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal store file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("storage: write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("storage: replace store file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.read()
	if err != nil {
		return nil, false, err
	}
	value, ok := content[key]
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !json.Valid(value) {
		return fmt.Errorf("storage: value for key %q is not valid JSON", key)
	}
	content, err := s.read()
	if err != nil {
		return err
	}
	content[key] = value
	return s.write(content)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.read()
	if err != nil {
		return err
	}
	delete(content, key)
	return s.write(content)
}

func (s *FileStore) List(_ context.Context, prefix string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.read()
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte)
	for key, value := range content {
		if strings.HasPrefix(key, prefix) {
			result[key] = value
		}
	}
	return result, nil
}

func (s *FileStore) Close() error { return nil }
