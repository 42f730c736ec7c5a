package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "plugmigrate"

// Metrics collects run statistics on a private registry. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	operations     *prometheus.CounterVec
	pluginOutcomes *prometheus.CounterVec
	runDuration    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Schema operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		pluginOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "plugin_outcomes_total",
				Help:      "Plugin migration outcomes by status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a migration run in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	m.registry.MustRegister(m.operations, m.pluginOutcomes, m.runDuration)
	return m
}

// RecordOperation counts one operation outcome (applied, skipped or failed)
func (m *Metrics) RecordOperation(kind, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(kind, outcome).Inc()
}

// RecordPlugin counts one plugin outcome
func (m *Metrics) RecordPlugin(status string) {
	if m == nil {
		return
	}
	m.pluginOutcomes.WithLabelValues(status).Inc()
}

// ObserveRun records the duration of a run
func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

// Registry exposes the registry for scraping or gathering
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteToTextfile writes the metrics in the node_exporter textfile format
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
