package fetcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/core/ports"
)

func countingFetcher(calls *atomic.Int32, fail bool) ports.ModuleFetcher {
	return ports.ModuleFetcherFunc(func(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error) {
		calls.Add(1)
		if fail {
			return nil, domain.NewPluginLoadError(loc, fmt.Errorf("unavailable"))
		}
		return &domain.Module{Plugin: &domain.PluginExports{}}, nil
	})
}

func TestCachingFetcher_CachesByPathAndVersion(t *testing.T) {
	var calls atomic.Int32
	fetcher, err := NewCachingFetcher(countingFetcher(&calls, false), 8)
	require.NoError(t, err)

	ctx := context.Background()
	v1 := domain.ModuleLocation{PluginID: "a", Path: "/a.json", Version: "1"}
	v2 := domain.ModuleLocation{PluginID: "a", Path: "/a.json", Version: "2"}

	first, err := fetcher.Fetch(ctx, v1)
	require.NoError(t, err)
	second, err := fetcher.Fetch(ctx, v1)
	require.NoError(t, err)
	_, err = fetcher.Fetch(ctx, v2)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, fetcher.Len())

	fetcher.Purge()
	assert.Zero(t, fetcher.Len())
}

func TestCachingFetcher_LocationChecksApplyOnCacheHit(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "a.json", `{"plugin":{}}`)
	files, err := NewFileFetcher(dir, false)
	require.NoError(t, err)
	fetcher, err := NewCachingFetcher(files, 8)
	require.NoError(t, err)

	ctx := context.Background()
	plain := domain.ModuleLocation{PluginID: "a", Path: "/a.json", Version: "1"}
	_, err = fetcher.Fetch(ctx, plain)
	require.NoError(t, err)

	tampered := plain
	tampered.Integrity = "deadbeef"
	_, err = fetcher.Fetch(ctx, tampered)
	assert.ErrorIs(t, err, domain.ErrIntegrityMismatch)

	angular := plain
	angular.IsAngular = true
	_, err = fetcher.Fetch(ctx, angular)
	assert.ErrorIs(t, err, domain.ErrAngularUnsupported)

	assert.Equal(t, 1, fetcher.Len())
}

func TestCachingFetcher_DoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	fetcher, err := NewCachingFetcher(countingFetcher(&calls, true), 8)
	require.NoError(t, err)

	loc := domain.ModuleLocation{PluginID: "a", Path: "/a.json", Version: "1"}
	for i := 0; i < 3; i++ {
		_, err := fetcher.Fetch(context.Background(), loc)
		require.Error(t, err)
		var loadErr *domain.PluginLoadError
		assert.ErrorAs(t, err, &loadErr)
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, fetcher.Len())
}

func TestCachingFetcher_ConcurrentFetches(t *testing.T) {
	var calls atomic.Int32
	fetcher, err := NewCachingFetcher(countingFetcher(&calls, false), 8)
	require.NoError(t, err)

	loc := domain.ModuleLocation{PluginID: "a", Path: "/a.json", Version: "1"}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fetcher.Fetch(context.Background(), loc)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(16))
	assert.Equal(t, 1, fetcher.Len())
}

func TestNewCachingFetcher_Validation(t *testing.T) {
	_, err := NewCachingFetcher(nil, 8)
	assert.Error(t, err)

	_, err = NewCachingFetcher(countingFetcher(new(atomic.Int32), false), 0)
	assert.Error(t, err)
}
