package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExportDir writes rendered reports beneath a base directory.
type ExportDir struct {
	baseDir string
}

// NewExportDir ensures the base directory exists and returns a handle.
func NewExportDir(baseDir string) (*ExportDir, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create exports directory: %w", err)
	}
	return &ExportDir{baseDir: baseDir}, nil
}

// Save writes data under filename and returns the absolute path written.
// Filenames may not escape the base directory.
func (d *ExportDir) Save(filename string, data []byte) (string, error) {
	path, err := d.resolve(filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

func (d *ExportDir) resolve(filename string) (string, error) {
	clean := filepath.Clean(filename)
	if filename == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid export filename %q", filename)
	}
	base, err := filepath.Abs(d.baseDir)
	if err != nil {
		return "", fmt.Errorf("resolve export directory: %w", err)
	}
	return filepath.Join(base, clean), nil
}
