package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kilometers.ai/pluginhost/internal/core/ports"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMeasurer(t *testing.T) (*PrometheusMeasurer, *prometheus.Registry, *fakeClock) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMeasurer(reg)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m.now = clock.Now
	return m, reg, clock
}

// histogramFor extracts the histogram of one measure label
func histogramFor(t *testing.T, m *PrometheusMeasurer, name string) *dto.Histogram {
	t.Helper()
	metric := &dto.Metric{}
	observer, err := m.duration.GetMetricWithLabelValues(name)
	require.NoError(t, err)
	require.NoError(t, observer.(prometheus.Histogram).Write(metric))
	return metric.GetHistogram()
}

func TestPrometheusMeasurer_ObservesDuration(t *testing.T) {
	m, _, clock := newTestMeasurer(t)

	stop := ports.Measure(m, "frontend_plugins_preload")
	clock.Advance(250 * time.Millisecond)
	stop()

	h := histogramFor(t, m, "frontend_plugins_preload")
	assert.Equal(t, uint64(1), h.GetSampleCount())
	assert.InDelta(t, 0.25, h.GetSampleSum(), 1e-9)
	assert.Zero(t, m.Pending())
	assert.Zero(t, testutil.ToFloat64(m.inFlight))
}

func TestPrometheusMeasurer_NestedStartsOfSameName(t *testing.T) {
	m, _, clock := newTestMeasurer(t)

	m.StartMeasure("batch")
	clock.Advance(time.Second)
	m.StartMeasure("batch")
	assert.Equal(t, 2, m.Pending())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.inFlight))

	clock.Advance(time.Second)
	m.StopMeasure("batch")
	m.StopMeasure("batch")

	h := histogramFor(t, m, "batch")
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 3.0, h.GetSampleSum(), 1e-9)
	assert.Zero(t, m.Pending())
}

func TestPrometheusMeasurer_UnbalancedStop(t *testing.T) {
	m, reg, _ := newTestMeasurer(t)

	m.StopMeasure("never-started")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.unbalanced.WithLabelValues("never-started")))
	expected := `
# HELP pluginhost_measure_unbalanced_total Stops received for a measure that was not started.
# TYPE pluginhost_measure_unbalanced_total counter
pluginhost_measure_unbalanced_total{measure="never-started"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pluginhost_measure_unbalanced_total"))
}

func TestNewPrometheusMeasurer_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusMeasurer(reg)
	require.NoError(t, err)

	_, err = NewPrometheusMeasurer(reg)
	assert.ErrorContains(t, err, "failed to register measure collector")
}

func TestNewPrometheusMeasurer_WithoutRegisterer(t *testing.T) {
	m, err := NewPrometheusMeasurer(nil)
	require.NoError(t, err)

	m.StartMeasure("x")
	m.StopMeasure("x")
	assert.Zero(t, m.Pending())
}
