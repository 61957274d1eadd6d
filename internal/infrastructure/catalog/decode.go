// Package catalog loads the plugin catalog the host preloads and registers
// plugins from.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// Format is the encoding of a catalog document
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Decode parses a catalog document, fills ids from the map keys and
// validates every entry
func Decode(data []byte, format Format) (*domain.Catalog, error) {
	var catalog domain.Catalog

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &catalog); err != nil {
			return nil, fmt.Errorf("failed to parse JSON catalog: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &catalog); err != nil {
			return nil, fmt.Errorf("failed to parse YAML catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format: %s", format)
	}

	catalog.Normalize()
	if err := validate(&catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func validate(catalog *domain.Catalog) error {
	var result *multierror.Error

	for _, key := range sortedKeys(catalog.Apps) {
		if err := catalog.Apps[key].Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("apps.%s: %w", key, err))
		}
	}
	for _, key := range sortedKeys(catalog.Transformers) {
		if catalog.Transformers[key].Module == "" {
			result = multierror.Append(result, fmt.Errorf("transformers.%s: module cannot be empty", key))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
