// Package local implements the mirror's filesystem store.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned for paths that resolve outside the base directory.
var ErrPathTraversal = errors.New("path traversal detected")

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the mirror output root.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// FileStore writes mirror files to the local filesystem.
type FileStore struct {
	baseDir string
}

// New checks that BaseDir is a writable directory, creating it when missing.
func New(cfg Config) (*FileStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	baseDir, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	info, err := os.Stat(baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &FileStore{baseDir: baseDir}, nil
}

// BaseDir returns the absolute root directory.
func (s *FileStore) BaseDir() string { return s.baseDir }

// WriteFile writes data to path, replacing any existing file. Relative paths
// are resolved against the base directory; absolute ones must live under it.
func (s *FileStore) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Exists reports whether a regular file is present at path.
func (s *FileStore) Exists(path string) bool {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

func (s *FileStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(s.baseDir, path)
	}
	clean := filepath.Clean(fullPath)
	if strings.HasSuffix(path, string(filepath.Separator)) || clean == s.baseDir {
		return "", fmt.Errorf("%s names a directory", path)
	}
	if !strings.HasPrefix(clean, s.baseDir+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return clean, nil
}
