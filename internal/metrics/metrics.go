// Package metrics provides Prometheus metrics for segmentation runs.
//
// A run is a batch job, so metrics live on a private registry and are written
// once per run in the node-exporter textfile format instead of being scraped.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rewired-gh/polysegment/internal/models"
)

// Metrics holds the run collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	MarketsTotal *prometheus.CounterVec
	TradesTotal  *prometheus.CounterVec
	PanelsTotal  *prometheus.CounterVec
	RunDuration  prometheus.Gauge
	LastRunTime  prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MarketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polysegment_markets_total",
			Help: "Markets processed, by outcome status",
		}, []string{"status"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polysegment_trades_total",
			Help: "Trades assigned to each size bucket",
		}, []string{"bucket"}),
		PanelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polysegment_panels_total",
			Help: "Daily flow panels built, by size bucket",
		}, []string{"bucket"}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polysegment_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		LastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polysegment_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
	m.registry.MustRegister(m.MarketsTotal, m.TradesTotal, m.PanelsTotal, m.RunDuration, m.LastRunTime)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MarketProcessed counts one market by status.
func (m *Metrics) MarketProcessed(status string) {
	m.MarketsTotal.WithLabelValues(status).Inc()
}

// TradesSegmented adds n trades to a bucket.
func (m *Metrics) TradesSegmented(b models.Bucket, n int) {
	m.TradesTotal.WithLabelValues(b.FileStem()).Add(float64(n))
}

// PanelBuilt counts one flow panel for a bucket.
func (m *Metrics) PanelBuilt(b models.Bucket) {
	m.PanelsTotal.WithLabelValues(b.FileStem()).Inc()
}

// ObserveRun records the run's duration and completion time.
func (m *Metrics) ObserveRun(seconds float64, finishedUnix float64) {
	m.RunDuration.Set(seconds)
	m.LastRunTime.Set(finishedUnix)
}

// WriteTextfile writes the registry to path for the textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
