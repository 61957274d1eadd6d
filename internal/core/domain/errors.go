package domain

import (
	"fmt"
)

// Module fetch errors
var (
	ErrModuleNotFound      = fmt.Errorf("plugin module not found")
	ErrInvalidModule       = fmt.Errorf("invalid plugin module")
	ErrMissingPluginExport = fmt.Errorf("plugin module has no plugin export")
	ErrIntegrityMismatch   = fmt.Errorf("plugin module integrity mismatch")
	ErrAngularUnsupported  = fmt.Errorf("angular plugins are not supported")
)

// PluginLoadError attributes a fetch failure to the plugin it belongs to
type PluginLoadError struct {
	PluginID string
	Path     string
	Version  string
	Err      error
}

// NewPluginLoadError wraps err with the identity of the module location
func NewPluginLoadError(loc ModuleLocation, err error) *PluginLoadError {
	return &PluginLoadError{
		PluginID: loc.PluginID,
		Path:     loc.Path,
		Version:  loc.Version,
		Err:      err,
	}
}

func (e *PluginLoadError) Error() string {
	return fmt.Sprintf("failed to load plugin %s from %s (version: %s): %v", e.PluginID, e.Path, e.Version, e.Err)
}

func (e *PluginLoadError) Unwrap() error {
	return e.Err
}
