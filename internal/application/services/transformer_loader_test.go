package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/core/ports"
)

func newTransformerLoader(t *testing.T, fetcher ports.ModuleFetcher, measurer ports.Measurer, sink ports.DiagnosticSink, policy domain.FailurePolicy) *TransformerLoader {
	t.Helper()
	loader, err := NewTransformerLoader(LoaderDependencies{
		Fetcher:  fetcher,
		Executor: newExecutor(t),
		Measurer: measurer,
		Logger:   sink,
	}, policy)
	require.NoError(t, err)
	return loader
}

func transformerDescriptor(id, version string) domain.TransformerPluginMeta {
	return domain.TransformerPluginMeta{
		ID:     id,
		Module: "/public/plugins/" + id + "/module.js",
		Info:   domain.TransformerPluginInfo{Version: version},
	}
}

func TestNewTransformerLoader_DefaultsToAbortOnFirstError(t *testing.T) {
	loader := newTransformerLoader(t, &MockModuleFetcher{}, nil, nil, "")
	assert.Equal(t, domain.AbortOnFirstError, loader.Policy())
}

func TestLoad_RegistersTransformersWithOrigin(t *testing.T) {
	descriptor := transformerDescriptor("T1", "3.1.0")

	fetcher := &MockModuleFetcher{}
	fetcher.On("Fetch", mock.Anything, domain.ModuleLocation{
		PluginID: "T1",
		Path:     "/public/plugins/T1/module.js",
		Version:  "3.1.0",
	}).Return(transformerModule("t-a", "t-b"), nil).Once()

	registry := domain.NewRegistry[domain.TransformerRegistryItem]()
	loader := newTransformerLoader(t, fetcher, nil, nil, "")
	summary, err := loader.Load(context.Background(), map[string]domain.TransformerPluginMeta{"T1": descriptor}, registry)

	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, summary.Loaded)
	assert.Equal(t, 2, summary.Registered)
	assert.NoError(t, summary.Err())
	fetcher.AssertExpectations(t)

	assert.Equal(t, []string{"t-a", "t-b"}, registry.IDs())
	for _, id := range registry.IDs() {
		item, ok := registry.Get(id)
		require.True(t, ok)
		require.NotNil(t, item.Origin)
		assert.Equal(t, descriptor, *item.Origin)
	}
}

func TestLoad_AbortLeavesRegistryUntouched(t *testing.T) {
	rejection := fmt.Errorf("module evaluation failed")

	fetcher := &MockModuleFetcher{}
	fetcher.On("Fetch", mock.Anything, locationFor("good")).Return(transformerModule("t-good"), nil).Maybe()
	fetcher.On("Fetch", mock.Anything, locationFor("bad")).Return(nil, rejection)

	sink := &RecordingSink{}
	registry := domain.NewRegistry[domain.TransformerRegistryItem]()
	loader := newTransformerLoader(t, fetcher, nil, sink, domain.AbortOnFirstError)

	_, err := loader.Load(context.Background(), map[string]domain.TransformerPluginMeta{
		"good": transformerDescriptor("good", "1.0.0"),
		"bad":  transformerDescriptor("bad", "2.0.0"),
	}, registry)

	require.Error(t, err)
	assert.ErrorIs(t, err, rejection)
	var loadErr *domain.PluginLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "bad", loadErr.PluginID)
	assert.Zero(t, registry.Len())

	var messages []string
	for _, logged := range sink.Errors() {
		messages = append(messages, logged.message)
	}
	assert.Contains(t, messages, "[Plugins] Failed to load transformer plugin: /public/plugins/bad/module.js (version: 2.0.0)")
}

func TestLoad_IsolateRegistersSuccessfulPlugins(t *testing.T) {
	rejection := fmt.Errorf("404 not found")

	fetcher := &MockModuleFetcher{}
	fetcher.On("Fetch", mock.Anything, locationFor("a")).Return(transformerModule("t-a"), nil)
	fetcher.On("Fetch", mock.Anything, locationFor("b")).Return(nil, rejection)
	fetcher.On("Fetch", mock.Anything, locationFor("c")).Return(transformerModule("t-c1", "t-c2"), nil)

	registry := domain.NewRegistry[domain.TransformerRegistryItem]()
	loader := newTransformerLoader(t, fetcher, nil, nil, domain.IsolatePerItem)

	summary, err := loader.Load(context.Background(), map[string]domain.TransformerPluginMeta{
		"a": transformerDescriptor("a", "1"),
		"b": transformerDescriptor("b", "1"),
		"c": transformerDescriptor("c", "1"),
	}, registry)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, summary.Loaded)
	assert.Equal(t, 3, summary.Registered)
	require.Contains(t, summary.Failed, "b")
	assert.ErrorIs(t, summary.Failed["b"], rejection)
	assert.ErrorIs(t, summary.Err(), rejection)
	assert.Equal(t, []string{"t-a", "t-c1", "t-c2"}, registry.IDs())
}

func TestLoad_SecondLoadRegistersDuplicates(t *testing.T) {
	fetcher := &MockModuleFetcher{}
	fetcher.On("Fetch", mock.Anything, locationFor("T1")).Return(transformerModule("t-a", "t-b"), nil).Twice()

	registry := domain.NewRegistry[domain.TransformerRegistryItem]()
	loader := newTransformerLoader(t, fetcher, nil, nil, "")
	descriptors := map[string]domain.TransformerPluginMeta{"T1": transformerDescriptor("T1", "1.0.0")}

	_, err := loader.Load(context.Background(), descriptors, registry)
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), descriptors, registry)
	require.NoError(t, err)

	assert.Equal(t, 4, registry.Len())
	assert.Len(t, registry.GetAll("t-a"), 2)
	assert.Len(t, registry.GetAll("t-b"), 2)
	fetcher.AssertExpectations(t)
}

func TestLoad_FreshRegistriesGetIdenticalContents(t *testing.T) {
	fetcher := ports.ModuleFetcherFunc(func(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error) {
		return transformerModule(loc.PluginID+"-x", loc.PluginID+"-y"), nil
	})
	loader := newTransformerLoader(t, fetcher, nil, nil, "")
	descriptors := map[string]domain.TransformerPluginMeta{
		"T1": transformerDescriptor("T1", "1.0.0"),
		"T2": transformerDescriptor("T2", "2.0.0"),
	}

	first := domain.NewRegistry[domain.TransformerRegistryItem]()
	_, err := loader.Load(context.Background(), descriptors, first)
	require.NoError(t, err)
	second := domain.NewRegistry[domain.TransformerRegistryItem]()
	_, err = loader.Load(context.Background(), descriptors, second)
	require.NoError(t, err)

	assert.Equal(t, 4, first.Len())
	assert.Equal(t, first.IDs(), second.IDs())
	assert.Equal(t, first.List(), second.List())
}

func TestLoad_EmptyDescriptors(t *testing.T) {
	fetcher := &MockModuleFetcher{}
	measurer := NewRecordingMeasurer()
	registry := domain.NewRegistry[domain.TransformerRegistryItem]()

	loader := newTransformerLoader(t, fetcher, measurer, nil, "")
	summary, err := loader.Load(context.Background(), nil, registry)

	require.NoError(t, err)
	assert.Empty(t, summary.Loaded)
	assert.Zero(t, registry.Len())
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)

	starts, stops := measurer.Counts(TransformerBatchMeasure)
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestLoad_NilRegistry(t *testing.T) {
	loader := newTransformerLoader(t, &MockModuleFetcher{}, nil, nil, "")
	_, err := loader.Load(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "transformer registry is required")
}

func TestLoad_InvalidTransformerFailsPlugin(t *testing.T) {
	fetcher := &MockModuleFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(transformerModule(""), nil)

	registry := domain.NewRegistry[domain.TransformerRegistryItem]()
	loader := newTransformerLoader(t, fetcher, nil, nil, "")
	_, err := loader.Load(context.Background(), map[string]domain.TransformerPluginMeta{
		"T1": transformerDescriptor("T1", "1"),
	}, registry)

	assert.ErrorIs(t, err, domain.ErrInvalidModule)
	assert.Zero(t, registry.Len())
}

func TestLoad_MeasuresAreBalanced(t *testing.T) {
	fetcher := &MockModuleFetcher{}
	fetcher.On("Fetch", mock.Anything, locationFor("ok")).Return(transformerModule("t"), nil)
	fetcher.On("Fetch", mock.Anything, locationFor("broken")).Return(nil, fmt.Errorf("boom"))

	measurer := NewRecordingMeasurer()
	registry := domain.NewRegistry[domain.TransformerRegistryItem]()
	loader := newTransformerLoader(t, fetcher, measurer, nil, domain.IsolatePerItem)

	_, err := loader.Load(context.Background(), map[string]domain.TransformerPluginMeta{
		"ok":     transformerDescriptor("ok", "1"),
		"broken": transformerDescriptor("broken", "1"),
	}, registry)
	require.NoError(t, err)

	for _, name := range []string{TransformerBatchMeasure, TransformerMeasureName("ok"), TransformerMeasureName("broken")} {
		starts, stops := measurer.Counts(name)
		assert.Equal(t, 1, starts, "starts of %s", name)
		assert.Equal(t, 1, stops, "stops of %s", name)
	}
}

// The preload and transformer batches of one startup, as the host runs them
func TestStartupScenario(t *testing.T) {
	x := domain.ExtensionConfig{"type": "link", "title": "x"}
	y := domain.ExtensionConfig{"type": "link", "title": "y"}

	fetcher := ports.ModuleFetcherFunc(func(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error) {
		switch loc.PluginID {
		case "A":
			return appModule(x, y), nil
		case "B":
			return nil, domain.ErrModuleNotFound
		case "T1":
			return transformerModule("t-a", "t-b"), nil
		}
		return nil, fmt.Errorf("unexpected plugin %s", loc.PluginID)
	})

	measurer := NewRecordingMeasurer()
	deps := LoaderDependencies{Fetcher: fetcher, Executor: newExecutor(t), Measurer: measurer}
	preloader, err := NewPluginPreloader(deps, "")
	require.NoError(t, err)
	loader, err := NewTransformerLoader(deps, "")
	require.NoError(t, err)

	results, err := preloader.Preload(context.Background(), map[string]domain.AppPluginConfig{
		"A": {ID: "A", Path: "/A.js", Version: "1", Preload: true},
		"B": {ID: "B", Path: "/B.js", Version: "1", Preload: true},
		"C": {ID: "C", Path: "/C.js", Version: "1", Preload: false},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, domain.PluginPreloadResult{PluginID: "A", ExtensionConfigs: []domain.ExtensionConfig{x, y}}, results[0])
	assert.Equal(t, "B", results[1].PluginID)
	assert.Empty(t, results[1].ExtensionConfigs)
	assert.ErrorIs(t, results[1].Error, domain.ErrModuleNotFound)

	registry := domain.NewRegistry[domain.TransformerRegistryItem]()
	_, err = loader.Load(context.Background(), map[string]domain.TransformerPluginMeta{
		"T1": transformerDescriptor("T1", "1"),
	}, registry)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-a", "t-b"}, registry.IDs())

	for _, name := range []string{
		PreloadBatchMeasure,
		PreloadMeasureName("A"),
		PreloadMeasureName("B"),
		TransformerBatchMeasure,
		TransformerMeasureName("T1"),
	} {
		starts, stops := measurer.Counts(name)
		assert.Equal(t, 1, starts, "starts of %s", name)
		assert.Equal(t, 1, stops, "stops of %s", name)
	}
	starts, _ := measurer.Counts(PreloadMeasureName("C"))
	assert.Zero(t, starts)
}

// Property-based tests using rapid

// TestLoad_PropertyBased_RegistryGrowsByExportedCount checks that a clean
// batch grows the registry by exactly the number of exported transformers,
// duplicates included
func TestLoad_PropertyBased_RegistryGrowsByExportedCount(t *testing.T) {
	executor := newExecutor(t)

	rapid.Check(t, func(rt *rapid.T) {
		pluginCount := rapid.IntRange(0, 6).Draw(rt, "plugins")
		descriptors := map[string]domain.TransformerPluginMeta{}
		exports := map[string][]string{}
		total := 0
		for i := 0; i < pluginCount; i++ {
			id := fmt.Sprintf("tp-%d", i)
			descriptors[id] = transformerDescriptor(id, "1.0.0")
			ids := rapid.SliceOfN(rapid.SampledFrom([]string{"reduce", "merge", "organize", "filter"}), 0, 4).Draw(rt, "exports-"+id)
			exports[id] = ids
			total += len(ids)
		}

		fetcher := ports.ModuleFetcherFunc(func(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error) {
			return transformerModule(exports[loc.PluginID]...), nil
		})
		loader, err := NewTransformerLoader(LoaderDependencies{Fetcher: fetcher, Executor: executor}, "")
		require.NoError(rt, err)

		registry := domain.NewRegistry[domain.TransformerRegistryItem]()
		seeded := rapid.IntRange(0, 3).Draw(rt, "seeded")
		for i := 0; i < seeded; i++ {
			registry.Register(domain.TransformerRegistryItem{ID: "reduce"})
		}

		summary, err := loader.Load(context.Background(), descriptors, registry)
		require.NoError(rt, err)
		assert.Equal(rt, total, summary.Registered)
		assert.Equal(rt, seeded+total, registry.Len())
	})
}

// TestLoad_PropertyBased_FreshRegistriesMatch checks that loading the same
// descriptors into two empty registries gives the same registrations
func TestLoad_PropertyBased_FreshRegistriesMatch(t *testing.T) {
	executor := newExecutor(t)

	rapid.Check(t, func(rt *rapid.T) {
		pluginCount := rapid.IntRange(0, 6).Draw(rt, "plugins")
		descriptors := map[string]domain.TransformerPluginMeta{}
		exports := map[string][]string{}
		for i := 0; i < pluginCount; i++ {
			id := fmt.Sprintf("tp-%d", i)
			descriptors[id] = transformerDescriptor(id, rapid.SampledFrom([]string{"1.0.0", "2.0.0"}).Draw(rt, "version-"+id))
			exports[id] = rapid.SliceOfN(rapid.SampledFrom([]string{"reduce", "merge", "organize", "filter"}), 0, 4).Draw(rt, "exports-"+id)
		}

		fetcher := ports.ModuleFetcherFunc(func(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error) {
			return transformerModule(exports[loc.PluginID]...), nil
		})
		loader, err := NewTransformerLoader(LoaderDependencies{Fetcher: fetcher, Executor: executor}, "")
		require.NoError(rt, err)

		first := domain.NewRegistry[domain.TransformerRegistryItem]()
		_, err = loader.Load(context.Background(), descriptors, first)
		require.NoError(rt, err)
		second := domain.NewRegistry[domain.TransformerRegistryItem]()
		_, err = loader.Load(context.Background(), descriptors, second)
		require.NoError(rt, err)

		assert.Equal(rt, first.Len(), second.Len())
		assert.Equal(rt, first.List(), second.List())
	})
}
