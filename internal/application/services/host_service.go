package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/core/ports"
)

// HostSnapshot is the state of the host after its latest reload
type HostSnapshot struct {
	Source       string                       `json:"source"`
	LoadedAt     time.Time                    `json:"loadedAt"`
	Preloads     []domain.PluginPreloadResult `json:"preloads"`
	Transformers []string                     `json:"transformers"`
	Registered   int                          `json:"registered"`
	Reloads      int                          `json:"reloads"`
	LastError    string                       `json:"lastError,omitempty"`
}

// FailedPreloads returns the ids of the plugins that failed to preload
func (s HostSnapshot) FailedPreloads() []string {
	return lo.FilterMap(s.Preloads, func(r domain.PluginPreloadResult, _ int) (string, bool) {
		return r.PluginID, r.Failed()
	})
}

// HostService keeps the plugin state of a running host: it reads the
// catalog, preloads app plugins and registers transformer plugins into the
// process-wide registry
type HostService struct {
	source    ports.CatalogSource
	preloader *PluginPreloader
	loader    *TransformerLoader
	registry  *TransformerRegistry
	logger    ports.DiagnosticSink

	reloadMu sync.Mutex

	mu       sync.RWMutex
	snapshot HostSnapshot
	loaded   map[string]string
	ready    bool
}

// NewHostService creates a host service
func NewHostService(source ports.CatalogSource, preloader *PluginPreloader, loader *TransformerLoader, registry *TransformerRegistry, logger ports.DiagnosticSink) (*HostService, error) {
	if source == nil {
		return nil, fmt.Errorf("catalog source is required")
	}
	if preloader == nil || loader == nil {
		return nil, fmt.Errorf("preloader and transformer loader are required")
	}
	if registry == nil {
		registry = domain.NewRegistry[domain.TransformerRegistryItem]()
	}
	if logger == nil {
		logger = ports.NopSink{}
	}

	return &HostService{
		source:    source,
		preloader: preloader,
		loader:    loader,
		registry:  registry,
		logger:    logger,
		snapshot:  HostSnapshot{Source: source.Name(), Preloads: []domain.PluginPreloadResult{}},
		loaded:    make(map[string]string),
	}, nil
}

// Registry returns the transformer registry the host registers into
func (h *HostService) Registry() *TransformerRegistry {
	return h.registry
}

// Reload reads the catalog and runs both pipelines. Preload failures never
// fail a reload. Transformer plugins already loaded at the same version are
// not loaded again, so repeated reloads do not register duplicates; a plugin
// whose version changed is loaded again and its transformers are added
// alongside the previous registrations.
func (h *HostService) Reload(ctx context.Context) (HostSnapshot, error) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	catalog, err := h.source.Load(ctx)
	if err != nil {
		h.recordFailure(fmt.Errorf("failed to load catalog from %s: %w", h.source.Name(), err))
		return h.Snapshot(), err
	}
	catalog.Normalize()

	h.logger.LogInfo("[Host] Catalog loaded", map[string]interface{}{
		"source":       h.source.Name(),
		"apps":         len(catalog.Apps),
		"transformers": len(catalog.Transformers),
	})

	preloads, err := h.preloader.Preload(ctx, catalog.Apps)
	if err != nil {
		h.recordFailure(err)
		return h.Snapshot(), fmt.Errorf("plugin preload failed: %w", err)
	}
	h.storePreloads(preloads)

	pending := h.pendingTransformers(catalog.Transformers)
	summary, err := h.loader.Load(ctx, pending, h.registry)
	if err != nil {
		h.recordFailure(err)
		return h.Snapshot(), fmt.Errorf("transformer plugin load failed: %w", err)
	}

	versions := make(map[string]string, len(pending))
	for _, meta := range pending {
		versions[meta.ID] = meta.Info.Version
	}

	h.mu.Lock()
	for _, id := range summary.Loaded {
		h.loaded[id] = versions[id]
	}
	h.snapshot.LastError = ""
	if merr := summary.Err(); merr != nil {
		h.snapshot.LastError = merr.Error()
	}
	h.snapshot.Transformers = h.registry.IDs()
	h.snapshot.Registered = h.registry.Len()
	h.snapshot.LoadedAt = time.Now()
	h.snapshot.Reloads++
	h.ready = true
	snapshot := h.copySnapshot()
	h.mu.Unlock()

	h.logger.LogInfo("[Host] Plugins loaded", map[string]interface{}{
		"preloaded":         len(preloads),
		"preloadFailures":   len(snapshot.FailedPreloads()),
		"transformerLoaded": len(summary.Loaded),
		"registered":        summary.Registered,
	})
	return snapshot, nil
}

// Snapshot returns a copy of the current state
func (h *HostService) Snapshot() HostSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.copySnapshot()
}

// Ready returns nil once a reload has completed successfully
func (h *HostService) Ready() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.ready {
		if h.snapshot.LastError != "" {
			return fmt.Errorf("plugins not loaded: %s", h.snapshot.LastError)
		}
		return fmt.Errorf("plugins not loaded yet")
	}
	return nil
}

// pendingTransformers keys loaded versions by plugin id, which may differ from
// the catalog key
func (h *HostService) pendingTransformers(descriptors map[string]domain.TransformerPluginMeta) map[string]domain.TransformerPluginMeta {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return lo.PickBy(descriptors, func(_ string, meta domain.TransformerPluginMeta) bool {
		version, ok := h.loaded[meta.ID]
		return !ok || version != meta.Info.Version
	})
}

func (h *HostService) storePreloads(preloads []domain.PluginPreloadResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot.Preloads = preloads
}

func (h *HostService) recordFailure(err error) {
	h.logger.LogError(err, "[Host] Reload failed", map[string]interface{}{
		"source": h.source.Name(),
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot.LastError = err.Error()
}

// copySnapshot must be called with mu held
func (h *HostService) copySnapshot() HostSnapshot {
	snapshot := h.snapshot
	snapshot.Preloads = append([]domain.PluginPreloadResult(nil), h.snapshot.Preloads...)
	snapshot.Transformers = append([]string(nil), h.snapshot.Transformers...)
	return snapshot
}
