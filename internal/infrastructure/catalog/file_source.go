package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// FileSource reads the catalog from a YAML or JSON file
type FileSource struct {
	path   string
	format Format
}

// NewFileSource creates a source for path. The format follows the file
// extension; anything but .json is read as YAML.
func NewFileSource(path string) *FileSource {
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	return &FileSource{path: path, format: format}
}

// Name implements ports.CatalogSource
func (s *FileSource) Name() string {
	return "file:" + s.path
}

// Path returns the catalog file path
func (s *FileSource) Path() string {
	return s.path
}

// Load implements ports.CatalogSource
func (s *FileSource) Load(ctx context.Context) (*domain.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	catalog, err := Decode(data, s.format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return catalog, nil
}
