// Package fetcher implements the code source that plugin modules are fetched
// from. A module is a JSON document whose "plugin" field carries the plugin's
// exports.
package fetcher

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// maxModuleSize bounds the size of a module document
const maxModuleSize = 8 << 20

func decodeModule(data []byte) (*domain.Module, error) {
	var module domain.Module
	if err := json.Unmarshal(data, &module); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidModule, err)
	}
	return &module, nil
}

func verifyIntegrity(data []byte, expected string) error {
	if expected == "" {
		return nil
	}
	expected = strings.ToLower(strings.TrimPrefix(expected, "sha256-"))

	actual := fmt.Sprintf("%x", sha256.Sum256(data))
	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", domain.ErrIntegrityMismatch, expected, actual)
	}
	return nil
}

func checkAngular(loc domain.ModuleLocation, allowAngular bool) error {
	if loc.IsAngular && !allowAngular {
		return domain.ErrAngularUnsupported
	}
	return nil
}
