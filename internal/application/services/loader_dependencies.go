package services

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"kilometers.ai/pluginhost/internal/application/fanout"
	"kilometers.ai/pluginhost/internal/core/ports"
)

const tracerName = "kilometers.ai/pluginhost/services"

// LoaderDependencies are the collaborators shared by the plugin loaders
type LoaderDependencies struct {
	Fetcher  ports.ModuleFetcher
	Executor *fanout.Executor
	Measurer ports.Measurer
	Logger   ports.DiagnosticSink
	Tracer   trace.Tracer
}

func (d LoaderDependencies) withDefaults() (LoaderDependencies, error) {
	if d.Fetcher == nil {
		return d, fmt.Errorf("module fetcher is required")
	}
	if d.Executor == nil {
		return d, fmt.Errorf("executor is required")
	}
	if d.Measurer == nil {
		d.Measurer = ports.NoopMeasurer{}
	}
	if d.Logger == nil {
		d.Logger = ports.NopSink{}
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	return d, nil
}
