// Package metrics provides Prometheus metrics for resolution runs.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Ramsey-B/sage/pkg/reconcile"
)

const namespace = "sage"

// Recorder records run outcomes. It is a reconcile.Sink.
type Recorder struct {
	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	recordsIn          *prometheus.CounterVec
	recordsQuarantined *prometheus.CounterVec
	pairsScored        *prometheus.CounterVec
	scopeSize          *prometheus.HistogramVec
	entitiesTotal      *prometheus.CounterVec
	ambiguousTotal     *prometheus.CounterVec
	stateVersion       *prometheus.GaugeVec
}

// NewRecorder registers the run metrics with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolution",
				Name:      "runs_total",
				Help:      "Total number of resolution runs by status",
			},
			[]string{"dataset_key", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "resolution",
				Name:      "run_duration_seconds",
				Help:      "Duration of resolution runs in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"dataset_key"},
		),
		recordsIn: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolution",
				Name:      "input_records_total",
				Help:      "Total number of source records submitted to runs",
			},
			[]string{"dataset_key"},
		),
		recordsQuarantined: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolution",
				Name:      "quarantined_records_total",
				Help:      "Total number of records quarantined as malformed",
			},
			[]string{"dataset_key"},
		),
		pairsScored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scoring",
				Name:      "pairs_total",
				Help:      "Total number of candidate pairs scored",
			},
			[]string{"dataset_key"},
		),
		scopeSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "resolution",
				Name:      "scope_records",
				Help:      "Number of records re-resolved per run",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"dataset_key"},
		),
		entitiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entities",
				Name:      "outcomes_total",
				Help:      "Total number of entity outcomes by kind",
			},
			[]string{"dataset_key", "outcome"},
		),
		ambiguousTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entities",
				Name:      "ambiguous_clusters_total",
				Help:      "Total number of clusters held out for manual review",
			},
			[]string{"dataset_key"},
		),
		stateVersion: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "state_version",
				Help:      "Committed identity state version",
			},
			[]string{"dataset_key"},
		),
	}
}

// Name implements reconcile.Sink
func (r *Recorder) Name() string {
	return "metrics"
}

// Publish records every run, committed or not
func (r *Recorder) Publish(_ context.Context, result *reconcile.RunResult) error {
	run := result.Run
	key := run.DatasetKey

	r.runsTotal.WithLabelValues(key, string(run.Status)).Inc()
	r.runDuration.WithLabelValues(key).Observe(run.Duration().Seconds())
	r.recordsIn.WithLabelValues(key).Add(float64(run.InputRecords))
	r.recordsQuarantined.WithLabelValues(key).Add(float64(len(run.Quarantined)))
	r.ambiguousTotal.WithLabelValues(key).Add(float64(len(run.Ambiguous)))
	if !result.Committed {
		return nil
	}

	r.pairsScored.WithLabelValues(key).Add(float64(run.Comparisons))
	r.scopeSize.WithLabelValues(key).Observe(float64(run.ScopeRecords))
	r.entitiesTotal.WithLabelValues(key, "created").Add(float64(run.EntitiesCreated))
	r.entitiesTotal.WithLabelValues(key, "updated").Add(float64(run.EntitiesUpdated))
	r.entitiesTotal.WithLabelValues(key, "merged").Add(float64(run.EntitiesMerged))
	r.entitiesTotal.WithLabelValues(key, "split").Add(float64(run.EntitiesSplit))
	r.entitiesTotal.WithLabelValues(key, "unchanged").Add(float64(run.EntitiesUnchanged))
	r.stateVersion.WithLabelValues(key).Set(float64(run.StateVersion))
	return nil
}
