package domain

import (
	"fmt"
	"strings"
)

// ModuleLocation identifies a plugin module to fetch. It contains only the
// attributes the code source needs to locate and verify a module.
type ModuleLocation struct {
	// PluginID is the id of the plugin the module belongs to
	PluginID string

	// Path is relative to the fetcher's root (URL or directory)
	Path string

	// Version is used for cache busting and may be empty for local builds
	Version string

	// IsAngular marks modules built for the legacy Angular runtime
	IsAngular bool

	// Integrity is an optional sha256 hex digest of the module document
	Integrity string
}

// CacheKey identifies a module revision together with the checks a fetcher
// applies to it, so a cached module is only reused for locations that would
// have passed the same integrity and Angular checks
func (l ModuleLocation) CacheKey() string {
	key := fmt.Sprintf("%s@%s", strings.TrimPrefix(l.Path, "/"), l.Version)
	if l.Integrity != "" {
		key += "#" + l.Integrity
	}
	if l.IsAngular {
		key += "+angular"
	}
	return key
}

// String implements the Stringer interface
func (l ModuleLocation) String() string {
	if l.Version == "" {
		return l.Path
	}
	return fmt.Sprintf("%s (version: %s)", l.Path, l.Version)
}

// Module is the evaluated module document returned by a fetcher
type Module struct {
	Plugin *PluginExports `json:"plugin"`
}

// PluginExports is the exported surface of a plugin module. App plugins
// declare extension configs, transformer plugins declare transformers.
type PluginExports struct {
	ExtensionConfigs []ExtensionConfig        `json:"extensionConfigs,omitempty"`
	Transformers     []TransformerRegistryItem `json:"transformers,omitempty"`
}

// Validate checks that the module exposes a plugin export
func (m *Module) Validate() error {
	if m == nil || m.Plugin == nil {
		return ErrMissingPluginExport
	}
	for i, t := range m.Plugin.Transformers {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("%w: transformer %d has no id", ErrInvalidModule, i)
		}
	}
	return nil
}

// TransformerPlugin returns the transformer view of the plugin export
func (m *Module) TransformerPlugin() *TransformerPlugin {
	items := make([]TransformerRegistryItem, len(m.Plugin.Transformers))
	copy(items, m.Plugin.Transformers)
	return &TransformerPlugin{Transformers: items}
}
