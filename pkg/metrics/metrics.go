// Package metrics exposes prometheus instrumentation for traces and operators.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "difflow"

// Registry holds the collectors of one engine instance.
type Registry struct {
	BatchesInserted *prometheus.CounterVec
	BatchMerges     *prometheus.CounterVec
	Compactions     *prometheus.CounterVec
	LiveBatches     *prometheus.GaugeVec
	LiveUpdates     *prometheus.GaugeVec
	OperatorSteps   *prometheus.HistogramVec
	IterateRounds   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil registerer creates unregistered
// collectors. Collectors already registered with reg, for instance by another worker, are
// shared.
func New(reg prometheus.Registerer) *Registry {
	f := promauto.With(nil)
	r := &Registry{
		BatchesInserted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "batches_inserted_total",
			Help:      "Number of batches inserted into a trace.",
		}, []string{"trace"}),
		BatchMerges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "batch_merges_total",
			Help:      "Number of pairwise batch merges performed by a trace.",
		}, []string{"trace"}),
		Compactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "compactions_total",
			Help:      "Number of batches physically compacted by a trace.",
		}, []string{"trace"}),
		LiveBatches: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "live_batches",
			Help:      "Number of batches currently held by a trace.",
		}, []string{"trace"}),
		LiveUpdates: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "live_updates",
			Help:      "Number of updates currently held by a trace.",
		}, []string{"trace"}),
		OperatorSteps: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "operator",
			Name:      "schedule_duration_seconds",
			Help:      "Time spent in one scheduling of an operator.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"operator"}),
		IterateRounds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "iterate",
			Name:      "rounds",
			Help:      "Number of rounds an iterative scope ran to converge on one outer step.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"loop"}),
	}
	if reg == nil {
		return r
	}
	r.BatchesInserted = register(reg, r.BatchesInserted)
	r.BatchMerges = register(reg, r.BatchMerges)
	r.Compactions = register(reg, r.Compactions)
	r.LiveBatches = register(reg, r.LiveBatches)
	r.LiveUpdates = register(reg, r.LiveUpdates)
	r.OperatorSteps = register(reg, r.OperatorSteps)
	r.IterateRounds = register(reg, r.IterateRounds)
	return r
}

// register registers c with reg, returning the existing collector if an identical one has
// already been registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

// Trace returns the observer of the named trace. Safe to call on a nil registry.
func (r *Registry) Trace(name string) *TraceObserver {
	if r == nil {
		return nil
	}
	return &TraceObserver{
		inserted:    r.BatchesInserted.WithLabelValues(name),
		merges:      r.BatchMerges.WithLabelValues(name),
		compactions: r.Compactions.WithLabelValues(name),
		batches:     r.LiveBatches.WithLabelValues(name),
		updates:     r.LiveUpdates.WithLabelValues(name),
	}
}

// ObserveSchedule records the duration of an operator scheduling.
func (r *Registry) ObserveSchedule(operator string, d time.Duration) {
	if r == nil {
		return
	}
	r.OperatorSteps.WithLabelValues(operator).Observe(d.Seconds())
}

// ObserveRounds records the rounds an iterative scope took.
func (r *Registry) ObserveRounds(loop string, rounds int) {
	if r == nil {
		return
	}
	r.IterateRounds.WithLabelValues(loop).Observe(float64(rounds))
}

// TraceObserver records the activity of one trace. All methods are no-ops on nil.
type TraceObserver struct {
	inserted, merges, compactions prometheus.Counter
	batches, updates              prometheus.Gauge
}

func (o *TraceObserver) Inserted() {
	if o != nil {
		o.inserted.Inc()
	}
}

func (o *TraceObserver) Merged() {
	if o != nil {
		o.merges.Inc()
	}
}

func (o *TraceObserver) Compacted() {
	if o != nil {
		o.compactions.Inc()
	}
}

// Size sets the live batch and update gauges.
func (o *TraceObserver) Size(batches, updates int) {
	if o != nil {
		o.batches.Set(float64(batches))
		o.updates.Set(float64(updates))
	}
}
