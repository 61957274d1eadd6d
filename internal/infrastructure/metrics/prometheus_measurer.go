// Package metrics turns start/stop measures into Prometheus observations.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pluginhost"

// Histogram buckets for load durations (in seconds)
var measureBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// PrometheusMeasurer records the time between StartMeasure and StopMeasure
// of each name as an observation of pluginhost_measure_duration_seconds.
// Starts of the same name nest: a stop closes the most recent start. Two
// overlapping runs of the same batch therefore record each other's durations;
// callers that need exact per-run timings must not overlap batches of the
// same name (HostService serializes its reloads).
type PrometheusMeasurer struct {
	mu      sync.Mutex
	pending map[string][]time.Time
	now     func() time.Time

	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	unbalanced *prometheus.CounterVec
}

// NewPrometheusMeasurer creates a measurer and registers its collectors
func NewPrometheusMeasurer(reg prometheus.Registerer) (*PrometheusMeasurer, error) {
	m := &PrometheusMeasurer{
		pending: make(map[string][]time.Time),
		now:     time.Now,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "measure_duration_seconds",
			Help:      "Duration of plugin load measures in seconds.",
			Buckets:   measureBuckets,
		}, []string{"measure"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "measures_in_flight",
			Help:      "Number of measures started and not yet stopped.",
		}),
		unbalanced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measure_unbalanced_total",
			Help:      "Stops received for a measure that was not started.",
		}, []string{"measure"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.duration, m.inFlight, m.unbalanced} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("failed to register measure collector: %w", err)
			}
		}
	}
	return m, nil
}

// StartMeasure implements ports.Measurer
func (m *PrometheusMeasurer) StartMeasure(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending[name] = append(m.pending[name], m.now())
	m.inFlight.Inc()
}

// StopMeasure implements ports.Measurer
func (m *PrometheusMeasurer) StopMeasure(name string) {
	m.mu.Lock()
	starts := m.pending[name]
	if len(starts) == 0 {
		m.mu.Unlock()
		m.unbalanced.WithLabelValues(name).Inc()
		return
	}

	started := starts[len(starts)-1]
	if len(starts) == 1 {
		delete(m.pending, name)
	} else {
		m.pending[name] = starts[:len(starts)-1]
	}
	elapsed := m.now().Sub(started)
	m.mu.Unlock()

	m.inFlight.Dec()
	m.duration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// Pending returns the number of measures started and not yet stopped
func (m *PrometheusMeasurer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, starts := range m.pending {
		n += len(starts)
	}
	return n
}
