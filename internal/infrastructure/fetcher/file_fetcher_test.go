package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kilometers.ai/pluginhost/internal/core/domain"
)

func writeModule(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestFileFetcher_Fetch(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "plugins/t1/module.json", `{"plugin":{"transformers":[{"id":"t-a","name":"A"}]}}`)

	fetcher, err := NewFileFetcher(dir, false)
	require.NoError(t, err)

	module, err := fetcher.Fetch(context.Background(), domain.ModuleLocation{PluginID: "t1", Path: "/plugins/t1/module.json", Version: "1"})

	require.NoError(t, err)
	require.NotNil(t, module.Plugin)
	require.Len(t, module.Plugin.Transformers, 1)
	assert.Equal(t, "t-a", module.Plugin.Transformers[0].ID)
}

func TestFileFetcher_MissingModule(t *testing.T) {
	fetcher, err := NewFileFetcher(t.TempDir(), false)
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), domain.ModuleLocation{PluginID: "x", Path: "x/module.json"})

	assert.ErrorIs(t, err, domain.ErrModuleNotFound)
	var loadErr *domain.PluginLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "x", loadErr.PluginID)
}

func TestFileFetcher_RejectsEscapingPaths(t *testing.T) {
	fetcher, err := NewFileFetcher(t.TempDir(), false)
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), domain.ModuleLocation{PluginID: "x", Path: "../../etc/passwd"})
	assert.ErrorContains(t, err, "escapes the plugins directory")
}

func TestFileFetcher_RejectsAngular(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "legacy.json", appModuleDocument)

	fetcher, err := NewFileFetcher(dir, false)
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), domain.ModuleLocation{PluginID: "legacy", Path: "legacy.json", IsAngular: true})
	assert.ErrorIs(t, err, domain.ErrAngularUnsupported)
}

func TestNewFileFetcher_RequiresDirectory(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "file.json", "{}")

	_, err := NewFileFetcher(filepath.Join(dir, "file.json"), false)
	assert.ErrorContains(t, err, "is not a directory")

	_, err = NewFileFetcher(filepath.Join(dir, "missing"), false)
	assert.ErrorContains(t, err, "plugins directory not accessible")
}
