// Package metrics exposes Prometheus metrics for synchronization runs.
//
// geowall is a one-shot process, so instead of an HTTP exposition endpoint
// the metrics are written in node_exporter textfile collector format after
// each run (see WriteTextfile).
package metrics

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all geowall metrics.
type Registry struct {
	gatherer *prometheus.Registry

	// Pipeline metrics
	RunsTotal    *prometheus.CounterVec
	RunDuration  prometheus.Gauge
	LastSyncTime prometheus.Gauge

	// Database metrics
	RangesDecoded  *prometheus.GaugeVec
	CountriesTotal prometheus.Gauge
	FetchBytes     prometheus.Gauge

	// Kernel state metrics
	SetsBuilt      *prometheus.GaugeVec
	RulesInstalled *prometheus.GaugeVec
	RollbacksTotal prometheus.Counter
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	g := prometheus.NewRegistry()
	factory := promauto.With(g)

	r := &Registry{gatherer: g}

	r.RunsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "geowall_runs_total",
		Help: "Synchronization runs by result (converged, noop, failed)",
	}, []string{"result"})

	r.RunDuration = factory.NewGauge(prometheus.GaugeOpts{
		Name: "geowall_run_duration_seconds",
		Help: "Wall-clock duration of the last synchronization run",
	})

	r.LastSyncTime = factory.NewGauge(prometheus.GaugeOpts{
		Name: "geowall_last_sync_timestamp_seconds",
		Help: "Unix time of the last converged run",
	})

	r.RangesDecoded = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geowall_ranges_decoded",
		Help: "Address ranges decoded from the geo database, per family",
	}, []string{"family"})

	r.CountriesTotal = factory.NewGauge(prometheus.GaugeOpts{
		Name: "geowall_countries_total",
		Help: "Distinct countries present in the decoded database",
	})

	r.FetchBytes = factory.NewGauge(prometheus.GaugeOpts{
		Name: "geowall_database_bytes",
		Help: "Size of the decompressed geo database in bytes",
	})

	r.SetsBuilt = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geowall_sets_built",
		Help: "Membership sets built in the last run, per family",
	}, []string{"family"})

	r.RulesInstalled = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geowall_rules_installed",
		Help: "Packet filter rules installed in the last run, per family",
	}, []string{"family"})

	r.RollbacksTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "geowall_rollbacks_total",
		Help: "Rollbacks performed after a failed run",
	})

	return r
}

// WriteTextfile writes the current metrics in textfile collector format.
// The write goes through a temp file plus rename so node_exporter never
// observes a partial file.
func (r *Registry) WriteTextfile(path string) error {
	mfs, err := r.gatherer.Gather()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".geowall-metrics-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
