package di

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"kilometers.ai/pluginhost/internal/application/fanout"
	"kilometers.ai/pluginhost/internal/application/services"
	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/core/ports"
	"kilometers.ai/pluginhost/internal/infrastructure/catalog"
	configinfra "kilometers.ai/pluginhost/internal/infrastructure/config"
	"kilometers.ai/pluginhost/internal/infrastructure/fetcher"
	"kilometers.ai/pluginhost/internal/infrastructure/logging"
	"kilometers.ai/pluginhost/internal/infrastructure/metrics"
)

const tracerName = "kilometers.ai/pluginhost"

// Options select the configuration the container is built from. Non-empty
// overrides win over the file and the environment.
type Options struct {
	ConfigPath string

	PluginsBaseURL    string
	PluginsDir        string
	CatalogPath       string
	CatalogURL        string
	LogLevel          string
	PreloadPolicy     string
	TransformerPolicy string
}

// Container holds all application dependencies
type Container struct {
	// Configuration
	Config *configinfra.Config

	// Infrastructure
	Logger   ports.DiagnosticSink
	Metrics  *prometheus.Registry
	Measurer *metrics.PrometheusMeasurer
	Fetcher  ports.ModuleFetcher
	Catalog  ports.CatalogSource
	Executor *fanout.Executor

	// Application services
	Preloader         *services.PluginPreloader
	TransformerLoader *services.TransformerLoader
	Registry          *services.TransformerRegistry
	Host              *services.HostService
}

// NewContainer creates and configures the dependency injection container
func NewContainer(opts Options) (*Container, error) {
	config, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}

	container := &Container{Config: config}
	if err := container.initializeComponents(); err != nil {
		container.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return container, nil
}

// LoadConfig loads the configuration and applies the command-line overrides
func LoadConfig(opts Options) (*configinfra.Config, error) {
	config, err := configinfra.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	override := func(target *string, value string) {
		if value != "" {
			*target = value
		}
	}
	override(&config.Plugins.BaseURL, opts.PluginsBaseURL)
	override(&config.Plugins.Dir, opts.PluginsDir)
	override(&config.Log.Level, opts.LogLevel)
	override(&config.Loader.PreloadPolicy, opts.PreloadPolicy)
	override(&config.Loader.TransformerPolicy, opts.TransformerPolicy)
	if opts.CatalogURL != "" {
		config.Catalog.URL = opts.CatalogURL
		config.Catalog.Path = ""
		config.Catalog.Watch = false
	}
	if opts.CatalogPath != "" {
		config.Catalog.Path = opts.CatalogPath
		config.Catalog.URL = ""
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// initializeComponents initializes all components with proper dependencies
func (c *Container) initializeComponents() error {
	var err error

	// 1. Logging
	c.Logger, err = logging.NewDiagnosticLogger(c.Config.Log.Level)
	if err != nil {
		return err
	}

	// 2. Metrics
	c.Metrics = prometheus.NewRegistry()
	c.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Measurer, err = metrics.NewPrometheusMeasurer(c.Metrics)
	if err != nil {
		return err
	}

	// 3. Module fetcher
	c.Fetcher, err = newModuleFetcher(c.Config.Plugins)
	if err != nil {
		return err
	}

	// 4. Catalog
	c.Catalog, err = newCatalogSource(c.Config.Catalog)
	if err != nil {
		return err
	}

	// 5. Executor shared by both pipelines
	c.Executor, err = fanout.NewExecutor(c.Config.Loader.MaxConcurrency)
	if err != nil {
		return err
	}

	// 6. Application services
	deps := services.LoaderDependencies{
		Fetcher:  c.Fetcher,
		Executor: c.Executor,
		Measurer: c.Measurer,
		Logger:   c.Logger,
		Tracer:   otel.Tracer(tracerName),
	}
	c.Preloader, err = services.NewPluginPreloader(deps, c.Config.PreloadFailurePolicy())
	if err != nil {
		return err
	}
	c.TransformerLoader, err = services.NewTransformerLoader(deps, c.Config.TransformerFailurePolicy())
	if err != nil {
		return err
	}

	c.Registry = domain.NewRegistry[domain.TransformerRegistryItem]()
	c.Host, err = services.NewHostService(c.Catalog, c.Preloader, c.TransformerLoader, c.Registry, c.Logger)
	if err != nil {
		return err
	}

	c.Logger.LogDebug("[Container] Dependency injection container initialized", map[string]interface{}{
		"catalog":        c.Catalog.Name(),
		"maxConcurrency": c.Executor.MaxConcurrency(),
	})
	return nil
}

func newModuleFetcher(cfg configinfra.PluginsConfig) (ports.ModuleFetcher, error) {
	var (
		source ports.ModuleFetcher
		err    error
	)
	if cfg.BaseURL != "" {
		source, err = fetcher.NewHTTPFetcher(fetcher.HTTPFetcherConfig{
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
			AllowAngular: cfg.AllowAngular,
		})
	} else {
		source, err = fetcher.NewFileFetcher(cfg.Dir, cfg.AllowAngular)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize == 0 {
		return source, nil
	}
	return fetcher.NewCachingFetcher(source, cfg.CacheSize)
}

func newCatalogSource(cfg configinfra.CatalogConfig) (ports.CatalogSource, error) {
	if cfg.URL != "" {
		return catalog.NewHTTPSource(catalog.HTTPSourceConfig{
			URL:             cfg.URL,
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.RetryInterval,
		})
	}
	return catalog.NewFileSource(cfg.Path), nil
}

// NewCatalogWatcher returns a watcher for the catalog file, or nil when
// watching is disabled or the catalog is not a file
func (c *Container) NewCatalogWatcher() (*catalog.Watcher, error) {
	source, ok := c.Catalog.(*catalog.FileSource)
	if !c.Config.Catalog.Watch || !ok {
		return nil, nil
	}
	return catalog.NewWatcher(catalog.WatcherConfig{
		Path:   source.Path(),
		Logger: c.Logger,
	})
}

// Shutdown gracefully shuts down all components
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Executor != nil {
		c.Executor.Close()
	}
	if c.Logger != nil {
		c.Logger.LogDebug("[Container] Application shutdown complete", nil)
	}
	return nil
}
