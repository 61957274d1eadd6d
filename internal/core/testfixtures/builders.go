// Package testfixtures builds catalogs, module documents and on-disk plugin
// workspaces for tests.
package testfixtures

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// ModuleBuilder provides a builder pattern for creating module documents
type ModuleBuilder struct {
	extensions   []domain.ExtensionConfig
	transformers []domain.TransformerRegistryItem
	noPlugin     bool
}

// NewModuleBuilder creates a module with an empty plugin export
func NewModuleBuilder() *ModuleBuilder {
	return &ModuleBuilder{}
}

// WithExtension adds an extension config
func (b *ModuleBuilder) WithExtension(extensionType, title string) *ModuleBuilder {
	b.extensions = append(b.extensions, domain.ExtensionConfig{"type": extensionType, "title": title})
	return b
}

// WithTransformers adds one transformer per id, named after the id
func (b *ModuleBuilder) WithTransformers(ids ...string) *ModuleBuilder {
	for _, id := range ids {
		b.transformers = append(b.transformers, domain.TransformerRegistryItem{ID: id, Name: id})
	}
	return b
}

// WithoutPlugin drops the plugin export entirely
func (b *ModuleBuilder) WithoutPlugin() *ModuleBuilder {
	b.noPlugin = true
	return b
}

// Build creates the module
func (b *ModuleBuilder) Build() *domain.Module {
	if b.noPlugin {
		return &domain.Module{}
	}
	return &domain.Module{Plugin: &domain.PluginExports{
		ExtensionConfigs: b.extensions,
		Transformers:     b.transformers,
	}}
}

// JSON encodes the module document
func (b *ModuleBuilder) JSON() []byte {
	data, err := json.Marshal(b.Build())
	if err != nil {
		panic(fmt.Sprintf("failed to encode module: %v", err))
	}
	return data
}

// Integrity returns the sha256 digest of the encoded module
func (b *ModuleBuilder) Integrity() string {
	return fmt.Sprintf("%x", sha256.Sum256(b.JSON()))
}

// CatalogBuilder provides a builder pattern for creating test catalogs
type CatalogBuilder struct {
	catalog domain.Catalog
}

// NewCatalogBuilder creates an empty catalog
func NewCatalogBuilder() *CatalogBuilder {
	c := domain.Catalog{}
	c.Normalize()
	return &CatalogBuilder{catalog: c}
}

// WithApp adds an app plugin whose module lives at <id>/module.json
func (b *CatalogBuilder) WithApp(id, version string, preload bool) *CatalogBuilder {
	return b.WithAppConfig(domain.AppPluginConfig{
		ID:      id,
		Path:    ModulePath(id),
		Version: version,
		Preload: preload,
	})
}

// WithAppConfig adds an app plugin as given
func (b *CatalogBuilder) WithAppConfig(app domain.AppPluginConfig) *CatalogBuilder {
	b.catalog.Apps[app.ID] = app
	return b
}

// WithTransformerPlugin adds a transformer plugin whose module lives at <id>/module.json
func (b *CatalogBuilder) WithTransformerPlugin(id, version string) *CatalogBuilder {
	b.catalog.Transformers[id] = domain.TransformerPluginMeta{
		ID:     id,
		Name:   id,
		Module: ModulePath(id),
		Info:   domain.TransformerPluginInfo{Version: version},
	}
	return b
}

// Build creates a copy of the catalog
func (b *CatalogBuilder) Build() *domain.Catalog {
	c := domain.Catalog{
		Apps:         make(map[string]domain.AppPluginConfig, len(b.catalog.Apps)),
		Transformers: make(map[string]domain.TransformerPluginMeta, len(b.catalog.Transformers)),
	}
	for k, v := range b.catalog.Apps {
		c.Apps[k] = v
	}
	for k, v := range b.catalog.Transformers {
		c.Transformers[k] = v
	}
	return &c
}

// YAML encodes the catalog the way catalog files are written
func (b *CatalogBuilder) YAML() []byte {
	data, err := yaml.Marshal(b.Build())
	if err != nil {
		panic(fmt.Sprintf("failed to encode catalog: %v", err))
	}
	return data
}

// ModulePath returns the conventional module path of a plugin
func ModulePath(pluginID string) string {
	return pluginID + "/module.json"
}

// Workspace is a plugins directory and a catalog file on disk
type Workspace struct {
	t           testing.TB
	Dir         string
	PluginsDir  string
	CatalogPath string
}

// NewWorkspace creates an empty workspace in a temporary directory
func NewWorkspace(t testing.TB) *Workspace {
	t.Helper()
	dir := t.TempDir()
	return &Workspace{
		t:           t,
		Dir:         dir,
		PluginsDir:  filepath.Join(dir, "plugins"),
		CatalogPath: filepath.Join(dir, "catalog.yaml"),
	}
}

// WriteModule writes the module of a plugin to its conventional path
func (w *Workspace) WriteModule(pluginID string, module *ModuleBuilder) *Workspace {
	w.t.Helper()
	w.writeFile(filepath.Join(w.PluginsDir, filepath.FromSlash(ModulePath(pluginID))), module.JSON())
	return w
}

// WriteCatalog writes the catalog file
func (w *Workspace) WriteCatalog(catalog *CatalogBuilder) *Workspace {
	w.t.Helper()
	w.writeFile(w.CatalogPath, catalog.YAML())
	return w
}

func (w *Workspace) writeFile(path string, data []byte) {
	w.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		w.t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		w.t.Fatalf("failed to write %s: %v", path, err)
	}
}

// StartupWorkspace lays out the usual startup: app "app" loads with one
// extension, app "broken" has no module, app "lazy" is not preloaded and
// transformer plugin "tr" exports "reduce" and "merge".
func StartupWorkspace(t testing.TB) *Workspace {
	t.Helper()
	return NewWorkspace(t).
		WriteModule("app", NewModuleBuilder().WithExtension("link", "Open")).
		WriteModule("tr", NewModuleBuilder().WithTransformers("reduce", "merge")).
		WriteCatalog(NewCatalogBuilder().
			WithApp("app", "1.0.0", true).
			WithApp("broken", "1.1", true).
			WithApp("lazy", "3.0", false).
			WithTransformerPlugin("tr", "2.0.0"))
}
