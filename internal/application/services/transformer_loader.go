package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kilometers.ai/pluginhost/internal/application/fanout"
	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/core/ports"
)

// TransformerBatchMeasure brackets a whole transformer plugin batch
const TransformerBatchMeasure = "frontend_transformer_plugins_load"

// TransformerMeasureName returns the measure that brackets the load of one
// transformer plugin
func TransformerMeasureName(pluginID string) string {
	return "frontend_transformer_plugin_load_" + pluginID
}

// TransformerRegistry is the registry transformer plugins register into
type TransformerRegistry = domain.Registry[domain.TransformerRegistryItem]

// TransformerLoadSummary describes what a transformer batch registered
type TransformerLoadSummary struct {
	// Loaded lists the plugins whose transformers were registered, in
	// registration order
	Loaded []string

	// Registered counts the transformers added to the registry
	Registered int

	// Failed holds the plugins that could not be loaded. Only populated
	// under IsolatePerItem.
	Failed map[string]error
}

// Err returns the isolated failures as a single error, nil when there are none
func (s TransformerLoadSummary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}
	ids := lo.Keys(s.Failed)
	sort.Strings(ids)

	var merr *multierror.Error
	for _, id := range ids {
		merr = multierror.Append(merr, s.Failed[id])
	}
	return merr.ErrorOrNil()
}

// TransformerLoader fetches transformer plugins and registers the
// transformers they export
type TransformerLoader struct {
	deps   LoaderDependencies
	policy domain.FailurePolicy
}

// NewTransformerLoader creates a loader. An empty policy means
// AbortOnFirstError.
func NewTransformerLoader(deps LoaderDependencies, policy domain.FailurePolicy) (*TransformerLoader, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("invalid transformer loader dependencies: %w", err)
	}
	if policy == "" {
		policy = domain.AbortOnFirstError
	}
	return &TransformerLoader{deps: deps, policy: policy}, nil
}

// Policy returns the failure policy of the loader
func (l *TransformerLoader) Policy() domain.FailurePolicy {
	return l.policy
}

// Load fetches every descriptor and registers the exported transformers into
// registry. Each loaded plugin gets Meta pointing at its descriptor and every
// registered item carries the same pointer as Origin.
//
// Under AbortOnFirstError registration only starts once every fetch has
// succeeded, so a failure leaves the registry untouched and is returned.
// Under IsolatePerItem failed plugins are skipped and reported in the summary.
// Registration follows the sorted descriptor keys; no deduplication is done,
// loading the same descriptors twice into one registry registers everything
// twice.
func (l *TransformerLoader) Load(ctx context.Context, descriptors map[string]domain.TransformerPluginMeta, registry *TransformerRegistry) (TransformerLoadSummary, error) {
	summary := TransformerLoadSummary{Failed: map[string]error{}}
	if registry == nil {
		return summary, fmt.Errorf("transformer registry is required")
	}

	defer ports.Measure(l.deps.Measurer, TransformerBatchMeasure)()

	metas := sortedDescriptors(descriptors)

	ctx, span := l.deps.Tracer.Start(ctx, "plugins.transformers.load", trace.WithAttributes(
		attribute.Int("plugins.count", len(metas)),
		attribute.String("policy", l.policy.String()),
	))
	defer span.End()

	outcomes, err := fanout.Run(ctx, l.deps.Executor, l.policy, len(metas), func(ctx context.Context, i int) (*domain.TransformerPlugin, error) {
		return l.load(ctx, metas[i])
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transformer load aborted")
		return summary, err
	}

	for i, outcome := range outcomes {
		if outcome.Err != nil {
			summary.Failed[metas[i].ID] = attributeError(metas[i].Location(), outcome.Err)
			continue
		}
		for _, transformer := range outcome.Value.Transformers {
			registry.Register(transformer)
			summary.Registered++
		}
		summary.Loaded = append(summary.Loaded, metas[i].ID)
	}

	span.SetAttributes(
		attribute.Int("transformers.registered", summary.Registered),
		attribute.Int("plugins.failed", len(summary.Failed)),
	)
	return summary, nil
}

func (l *TransformerLoader) load(ctx context.Context, meta domain.TransformerPluginMeta) (*domain.TransformerPlugin, error) {
	defer ports.Measure(l.deps.Measurer, TransformerMeasureName(meta.ID))()

	loc := meta.Location()
	ctx, span := l.deps.Tracer.Start(ctx, "plugins.transformers.plugin", trace.WithAttributes(
		attribute.String("plugin.id", meta.ID),
		attribute.String("plugin.module", meta.Module),
		attribute.String("plugin.version", meta.Info.Version),
	))
	defer span.End()

	module, err := l.deps.Fetcher.Fetch(ctx, loc)
	if err == nil {
		err = module.Validate()
	}
	if err != nil {
		loadErr := attributeError(loc, err)
		fields := map[string]interface{}{
			"pluginId": meta.ID,
			"module":   meta.Module,
			"version":  meta.Info.Version,
		}
		if errors.Is(err, context.Canceled) {
			l.deps.Logger.LogDebug(fmt.Sprintf("[Plugins] Cancelled loading transformer plugin: %s", meta.Module), fields)
		} else {
			l.deps.Logger.LogError(loadErr, fmt.Sprintf("[Plugins] Failed to load transformer plugin: %s (version: %s)", meta.Module, meta.Info.Version), fields)
		}
		span.RecordError(loadErr)
		span.SetStatus(codes.Error, "transformer plugin load failed")
		return nil, loadErr
	}

	plugin := module.TransformerPlugin()
	origin := meta
	plugin.Meta = &origin
	for i := range plugin.Transformers {
		plugin.Transformers[i].Origin = plugin.Meta
	}

	l.deps.Logger.LogDebug("[Plugins] Loaded transformer plugin", map[string]interface{}{
		"pluginId":     meta.ID,
		"version":      meta.Info.Version,
		"transformers": len(plugin.Transformers),
	})
	return plugin, nil
}

func sortedDescriptors(descriptors map[string]domain.TransformerPluginMeta) []domain.TransformerPluginMeta {
	keys := lo.Keys(descriptors)
	sort.Strings(keys)

	return lo.Map(keys, func(key string, _ int) domain.TransformerPluginMeta {
		meta := descriptors[key]
		if meta.ID == "" {
			meta.ID = key
		}
		return meta
	})
}
