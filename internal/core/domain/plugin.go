package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AppPluginConfig describes an app plugin as published by the plugin catalog
type AppPluginConfig struct {
	ID              string `json:"id" yaml:"id"`
	Path            string `json:"path" yaml:"path"`
	Version         string `json:"version" yaml:"version"`
	Preload         bool   `json:"preload" yaml:"preload"`
	AngularDetected bool   `json:"angularDetected" yaml:"angularDetected"`
	Integrity       string `json:"integrity,omitempty" yaml:"integrity,omitempty"`
}

// Validate checks that the config identifies and locates a plugin
func (c AppPluginConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("plugin id cannot be empty")
	}
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("plugin %s: path cannot be empty", c.ID)
	}
	return nil
}

// Location returns the module location used to fetch this plugin
func (c AppPluginConfig) Location() ModuleLocation {
	return ModuleLocation{
		PluginID:  c.ID,
		Path:      c.Path,
		Version:   c.Version,
		IsAngular: c.AngularDetected,
		Integrity: c.Integrity,
	}
}

// ExtensionConfig is an extension declared by a plugin module. The host does
// not interpret it; it is handed to the extension registration unchanged.
type ExtensionConfig map[string]any

// Type returns the extension type if the plugin declared one
func (e ExtensionConfig) Type() string {
	return e.stringField("type")
}

// Title returns the extension title if the plugin declared one
func (e ExtensionConfig) Title() string {
	return e.stringField("title")
}

func (e ExtensionConfig) stringField(key string) string {
	if v, ok := e[key].(string); ok {
		return v
	}
	return ""
}

// PluginPreloadResult is produced once per preloaded plugin, whether or not
// the load succeeded
type PluginPreloadResult struct {
	PluginID         string            `json:"pluginId"`
	ExtensionConfigs []ExtensionConfig `json:"extensionConfigs"`
	Error            error             `json:"-"`
}

// Failed reports whether the plugin module could not be loaded
func (r PluginPreloadResult) Failed() bool {
	return r.Error != nil
}

// ErrorMessage returns the failure text, empty on success
func (r PluginPreloadResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

// MarshalJSON encodes the failure as its message
func (r PluginPreloadResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PluginID         string            `json:"pluginId"`
		ExtensionConfigs []ExtensionConfig `json:"extensionConfigs"`
		Error            string            `json:"error,omitempty"`
	}{
		PluginID:         r.PluginID,
		ExtensionConfigs: r.ExtensionConfigs,
		Error:            r.ErrorMessage(),
	})
}

// TransformerPluginInfo holds the published metadata of a transformer plugin
type TransformerPluginInfo struct {
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	Updated     string `json:"updated,omitempty" yaml:"updated,omitempty"`
}

// TransformerPluginMeta describes a plugin that contributes data transformers
type TransformerPluginMeta struct {
	ID        string                `json:"id" yaml:"id"`
	Name      string                `json:"name,omitempty" yaml:"name,omitempty"`
	Module    string                `json:"module" yaml:"module"`
	Info      TransformerPluginInfo `json:"info" yaml:"info"`
	Integrity string                `json:"integrity,omitempty" yaml:"integrity,omitempty"`
}

// Location returns the module location used to fetch this plugin
func (m TransformerPluginMeta) Location() ModuleLocation {
	return ModuleLocation{
		PluginID:  m.ID,
		Path:      m.Module,
		Version:   m.Info.Version,
		Integrity: m.Integrity,
	}
}

// TransformerPlugin is the plugin export of a transformer module. Meta is set
// by the loader once the module has been fetched.
type TransformerPlugin struct {
	Transformers []TransformerRegistryItem `json:"transformers"`
	Meta         *TransformerPluginMeta    `json:"-"`
}

// TransformerRegistryItem is a single transformer registration
type TransformerRegistryItem struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Options     map[string]any `json:"defaultOptions,omitempty"`

	// Origin points at the descriptor of the plugin that contributed the item
	Origin *TransformerPluginMeta `json:"-"`
}

// RegistryID implements RegistryItem
func (t TransformerRegistryItem) RegistryID() string {
	return t.ID
}

// Catalog is the set of plugins known to the host
type Catalog struct {
	Apps         map[string]AppPluginConfig       `json:"apps" yaml:"apps"`
	Transformers map[string]TransformerPluginMeta `json:"transformers" yaml:"transformers"`
}

// Normalize fills missing ids from the map keys and initializes nil maps
func (c *Catalog) Normalize() {
	if c.Apps == nil {
		c.Apps = make(map[string]AppPluginConfig)
	}
	if c.Transformers == nil {
		c.Transformers = make(map[string]TransformerPluginMeta)
	}
	for key, app := range c.Apps {
		if app.ID == "" {
			app.ID = key
			c.Apps[key] = app
		}
	}
	for key, meta := range c.Transformers {
		if meta.ID == "" {
			meta.ID = key
			c.Transformers[key] = meta
		}
	}
}
