package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalStorage persists generated financial documents on disk under a base
// directory, organized into fiscal-year folders.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./invoices"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create invoices directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Save writes the document bytes under the fiscal-year folder and returns
// the relative location recorded on the ledger rows it covers.
func (s *LocalStorage) Save(fiscalYear, filename string, data []byte) (string, error) {
	rel := filepath.Join(fiscalYear, filename)
	path := filepath.Join(s.baseDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare invoice directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write invoice file: %w", err)
	}
	return rel, nil
}

// Open returns a read-only handle for a stored document.
func (s *LocalStorage) Open(location string) (*os.File, error) {
	file, err := os.Open(filepath.Join(s.baseDir, location))
	if err != nil {
		return nil, fmt.Errorf("open invoice file: %w", err)
	}
	return file, nil
}

// Path exposes the underlying absolute path (useful for debugging).
func (s *LocalStorage) Path(location string) string {
	return filepath.Join(s.baseDir, location)
}
