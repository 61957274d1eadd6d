package ports

import (
	"context"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// ModuleFetcher retrieves and decodes a plugin module. Implementations must
// return an error that can be attributed to the location's plugin id.
type ModuleFetcher interface {
	Fetch(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error)
}

// ModuleFetcherFunc adapts a function to the ModuleFetcher interface
type ModuleFetcherFunc func(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error)

// Fetch calls f(ctx, loc)
func (f ModuleFetcherFunc) Fetch(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error) {
	return f(ctx, loc)
}

// Measurer brackets a named operation with start and stop calls
type Measurer interface {
	StartMeasure(name string)
	StopMeasure(name string)
}

// Measure starts the named measure and returns the function that stops it,
// meant to be deferred:
//
//	defer ports.Measure(m, "frontend_plugins_preload")()
func Measure(m Measurer, name string) func() {
	m.StartMeasure(name)
	return func() {
		m.StopMeasure(name)
	}
}

// NoopMeasurer discards all measures
type NoopMeasurer struct{}

func (NoopMeasurer) StartMeasure(string) {}
func (NoopMeasurer) StopMeasure(string)  {}

// DiagnosticSink receives load failures and progress messages
type DiagnosticSink interface {
	LogError(err error, message string, fields map[string]interface{})
	LogWarning(message string, fields map[string]interface{})
	LogInfo(message string, fields map[string]interface{})
	LogDebug(message string, fields map[string]interface{})
}

// CatalogSource supplies the plugins known to the host
type CatalogSource interface {
	Load(ctx context.Context) (*domain.Catalog, error)
	Name() string
}

// NopSink discards all diagnostics
type NopSink struct{}

func (NopSink) LogError(error, string, map[string]interface{}) {}
func (NopSink) LogWarning(string, map[string]interface{})     {}
func (NopSink) LogInfo(string, map[string]interface{})        {}
func (NopSink) LogDebug(string, map[string]interface{})       {}
