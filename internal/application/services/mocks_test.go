package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kilometers.ai/pluginhost/internal/application/fanout"
	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/core/testfixtures"
)

// Mock implementations

type MockModuleFetcher struct {
	mock.Mock
}

func (m *MockModuleFetcher) Fetch(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error) {
	args := m.Called(ctx, loc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Module), args.Error(1)
}

type RecordingMeasurer struct {
	mu     sync.Mutex
	starts map[string]int
	stops  map[string]int
	events []string
}

func NewRecordingMeasurer() *RecordingMeasurer {
	return &RecordingMeasurer{starts: map[string]int{}, stops: map[string]int{}}
}

func (r *RecordingMeasurer) StartMeasure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts[name]++
	r.events = append(r.events, "start:"+name)
}

func (r *RecordingMeasurer) StopMeasure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops[name]++
	r.events = append(r.events, "stop:"+name)
}

func (r *RecordingMeasurer) Counts(name string) (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts[name], r.stops[name]
}

func (r *RecordingMeasurer) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.starts))
	for name := range r.starts {
		names = append(names, name)
	}
	return names
}

type loggedError struct {
	err     error
	message string
	fields  map[string]interface{}
}

type RecordingSink struct {
	mu     sync.Mutex
	errors []loggedError
}

func (s *RecordingSink) LogError(err error, message string, fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, loggedError{err: err, message: message, fields: fields})
}
func (s *RecordingSink) LogWarning(string, map[string]interface{}) {}
func (s *RecordingSink) LogInfo(string, map[string]interface{})    {}
func (s *RecordingSink) LogDebug(string, map[string]interface{})   {}

func (s *RecordingSink) Errors() []loggedError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loggedError(nil), s.errors...)
}

// Helpers

func newExecutor(t testing.TB) *fanout.Executor {
	t.Helper()
	e, err := fanout.NewExecutor(0)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func appModule(extensions ...domain.ExtensionConfig) *domain.Module {
	return &domain.Module{Plugin: &domain.PluginExports{ExtensionConfigs: extensions}}
}

func transformerModule(ids ...string) *domain.Module {
	return testfixtures.NewModuleBuilder().WithTransformers(ids...).Build()
}

func locationFor(id string) interface{} {
	return mock.MatchedBy(func(loc domain.ModuleLocation) bool { return loc.PluginID == id })
}
