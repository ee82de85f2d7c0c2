// Package memory keeps mirror files in memory. Tests and dry runs use it in
// place of the local filesystem store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FileStore maps paths to file contents.
type FileStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewFileStore creates an empty store.
func NewFileStore() *FileStore {
	return &FileStore{data: make(map[string][]byte)}
}

// WriteFile stores a copy of data at path, replacing any previous content.
func (s *FileStore) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return nil
}

// Exists reports whether path has been written.
func (s *FileStore) Exists(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[path]
	return ok
}

// ReadFile returns a copy of the content at path.
func (s *FileStore) ReadFile(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Paths lists every stored path in lexical order.
func (s *FileStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
