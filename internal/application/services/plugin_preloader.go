package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kilometers.ai/pluginhost/internal/application/fanout"
	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/core/ports"
)

// PreloadBatchMeasure brackets a whole preload batch
const PreloadBatchMeasure = "frontend_plugins_preload"

// PreloadMeasureName returns the measure that brackets the preload of one plugin
func PreloadMeasureName(pluginID string) string {
	return "frontend_plugin_preload_" + pluginID
}

// PluginPreloader eagerly loads the app plugins flagged for preloading and
// collects the extensions they declare
type PluginPreloader struct {
	deps   LoaderDependencies
	policy domain.FailurePolicy
}

// NewPluginPreloader creates a preloader. An empty policy means IsolatePerItem.
func NewPluginPreloader(deps LoaderDependencies, policy domain.FailurePolicy) (*PluginPreloader, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("invalid preloader dependencies: %w", err)
	}
	if policy == "" {
		policy = domain.IsolatePerItem
	}
	return &PluginPreloader{deps: deps, policy: policy}, nil
}

// Policy returns the failure policy of the preloader
func (p *PluginPreloader) Policy() domain.FailurePolicy {
	return p.policy
}

// Preload fetches every app with Preload set and returns one result per such
// app, ordered by map key. Apps without Preload are neither fetched nor
// reported.
//
// Under IsolatePerItem a failing plugin yields a result with Error set and an
// empty extension list, and the returned error is always nil. Under
// AbortOnFirstError the first failure cancels the batch and is returned.
func (p *PluginPreloader) Preload(ctx context.Context, apps map[string]domain.AppPluginConfig) ([]domain.PluginPreloadResult, error) {
	defer ports.Measure(p.deps.Measurer, PreloadBatchMeasure)()

	batchID := uuid.NewString()
	eligible := eligibleApps(apps)

	ctx, span := p.deps.Tracer.Start(ctx, "plugins.preload", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("plugins.eligible", len(eligible)),
	))
	defer span.End()

	p.deps.Logger.LogDebug("[Plugins] Preloading plugins", map[string]interface{}{
		"batchId": batchID,
		"count":   len(eligible),
		"policy":  p.policy.String(),
	})

	outcomes, err := fanout.Run(ctx, p.deps.Executor, p.policy, len(eligible), func(ctx context.Context, i int) (domain.PluginPreloadResult, error) {
		result := p.preload(ctx, batchID, eligible[i])
		if p.policy == domain.AbortOnFirstError && result.Error != nil {
			return result, result.Error
		}
		return result, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "preload aborted")
		return nil, err
	}

	results := lo.Map(outcomes, func(outcome fanout.Outcome[domain.PluginPreloadResult], i int) domain.PluginPreloadResult {
		if outcome.Err != nil {
			return failedPreload(eligible[i], domain.NewPluginLoadError(eligible[i].Location(), outcome.Err))
		}
		return outcome.Value
	})

	failed := lo.CountBy(results, func(r domain.PluginPreloadResult) bool { return r.Failed() })
	span.SetAttributes(attribute.Int("plugins.failed", failed))

	return results, nil
}

func (p *PluginPreloader) preload(ctx context.Context, batchID string, config domain.AppPluginConfig) domain.PluginPreloadResult {
	defer ports.Measure(p.deps.Measurer, PreloadMeasureName(config.ID))()

	loc := config.Location()
	ctx, span := p.deps.Tracer.Start(ctx, "plugins.preload.plugin", trace.WithAttributes(
		attribute.String("plugin.id", config.ID),
		attribute.String("plugin.path", config.Path),
		attribute.String("plugin.version", config.Version),
	))
	defer span.End()

	module, err := p.deps.Fetcher.Fetch(ctx, loc)
	if err == nil {
		err = module.Validate()
	}
	if err != nil {
		loadErr := attributeError(loc, err)
		p.deps.Logger.LogError(loadErr, fmt.Sprintf("[Plugins] Failed to preload plugin: %s (version: %s)", config.Path, config.Version), map[string]interface{}{
			"pluginId": config.ID,
			"path":     config.Path,
			"version":  config.Version,
			"batchId":  batchID,
		})
		span.RecordError(loadErr)
		span.SetStatus(codes.Error, "preload failed")
		return failedPreload(config, loadErr)
	}

	// modules may be shared through the fetcher cache
	extensionConfigs := lo.Map(module.Plugin.ExtensionConfigs, func(ext domain.ExtensionConfig, _ int) domain.ExtensionConfig {
		return maps.Clone(ext)
	})
	span.SetAttributes(attribute.Int("plugin.extensions", len(extensionConfigs)))

	return domain.PluginPreloadResult{
		PluginID:         config.ID,
		ExtensionConfigs: extensionConfigs,
	}
}

func failedPreload(config domain.AppPluginConfig, err error) domain.PluginPreloadResult {
	return domain.PluginPreloadResult{
		PluginID:         config.ID,
		ExtensionConfigs: []domain.ExtensionConfig{},
		Error:            err,
	}
}

// eligibleApps returns the apps flagged for preloading sorted by map key
func eligibleApps(apps map[string]domain.AppPluginConfig) []domain.AppPluginConfig {
	keys := lo.Keys(apps)
	sort.Strings(keys)

	return lo.FilterMap(keys, func(key string, _ int) (domain.AppPluginConfig, bool) {
		app := apps[key]
		if app.ID == "" {
			app.ID = key
		}
		return app, app.Preload
	})
}

// attributeError makes sure a fetch failure names the plugin it belongs to
func attributeError(loc domain.ModuleLocation, err error) error {
	var loadErr *domain.PluginLoadError
	if errors.As(err, &loadErr) {
		return err
	}
	return domain.NewPluginLoadError(loc, err)
}
