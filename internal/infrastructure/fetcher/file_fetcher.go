package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// FileFetcher reads module documents from a local plugins directory
type FileFetcher struct {
	root         string
	allowAngular bool
}

// NewFileFetcher creates a fetcher rooted at dir
func NewFileFetcher(dir string, allowAngular bool) (*FileFetcher, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid plugins directory %q: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("plugins directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plugins directory %s is not a directory", root)
	}
	return &FileFetcher{root: root, allowAngular: allowAngular}, nil
}

// Fetch implements ports.ModuleFetcher. The version is ignored, a directory
// holds a single build of each plugin.
func (f *FileFetcher) Fetch(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewPluginLoadError(loc, err)
	}
	if err := checkAngular(loc, f.allowAngular); err != nil {
		return nil, domain.NewPluginLoadError(loc, err)
	}

	path, err := f.resolve(loc.Path)
	if err != nil {
		return nil, domain.NewPluginLoadError(loc, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = domain.ErrModuleNotFound
		}
		return nil, domain.NewPluginLoadError(loc, err)
	}
	if len(data) > maxModuleSize {
		return nil, domain.NewPluginLoadError(loc, fmt.Errorf("%w: module exceeds %d bytes", domain.ErrInvalidModule, maxModuleSize))
	}

	if err := verifyIntegrity(data, loc.Integrity); err != nil {
		return nil, domain.NewPluginLoadError(loc, err)
	}

	module, err := decodeModule(data)
	if err != nil {
		return nil, domain.NewPluginLoadError(loc, err)
	}
	return module, nil
}

// resolve maps a module path into the root directory
func (f *FileFetcher) resolve(modulePath string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(modulePath, "/")))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("module path %q escapes the plugins directory", modulePath)
	}
	return filepath.Join(f.root, rel), nil
}
