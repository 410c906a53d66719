package dataflow

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/l7mp/difflow/internal/buildinfo"
	"github.com/l7mp/difflow/internal/logging"
	"github.com/l7mp/difflow/pkg/config"
	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/metrics"
)

// Options configure a worker or a cluster.
type Options struct {
	// Config is the engine configuration, defaults to config.Default().
	Config *config.Config
	// Logger is the base logger, by default one is built from Config.Log.
	Logger logr.Logger
	// Registerer registers the metrics, may be nil.
	Registerer prometheus.Registerer
}

func (o Options) config() config.Config {
	if o.Config == nil {
		return config.Default()
	}
	return *o.Config
}

func (o Options) logger(c config.Config) logr.Logger {
	if o.Logger.GetSink() == nil {
		return logging.New(c.Log)
	}
	return o.Logger
}

// Worker owns a root scope and the input sessions feeding it.
type Worker[T lattice.Timestamp[T]] struct {
	rt     *runtime
	scope  *Scope[T]
	inputs []input[T]
	closed bool
}

// NewWorker creates a standalone worker.
func NewWorker[T lattice.Timestamp[T]](opts Options) *Worker[T] {
	c := opts.config()
	log := opts.logger(c)
	log.V(1).Info("starting worker", "build", buildinfo.Get().String())
	return newWorker[T](c, log, metrics.New(opts.Registerer), 0, 1, nil)
}

func newWorker[T lattice.Timestamp[T]](c config.Config, log logr.Logger, m *metrics.Registry, index, peers int, r *router) *Worker[T] {
	rt := &runtime{
		config:  c,
		log:     log.WithValues("worker", index),
		metrics: m,
		index:   index,
		peers:   peers,
		router:  r,
		ctx:     context.Background(),
	}
	return &Worker[T]{rt: rt, scope: newScope[T]("root", rt)}
}

// Scope returns the root scope.
func (w *Worker[T]) Scope() *Scope[T] { return w.scope }

// Index returns the index of the worker in its cluster.
func (w *Worker[T]) Index() int { return w.rt.index }

// Peers returns the number of workers in the cluster.
func (w *Worker[T]) Peers() int { return w.rt.peers }

// Frontier returns the meet of the published input frontiers.
func (w *Worker[T]) Frontier() lattice.Antichain[T] {
	fs := make([]lattice.Antichain[T], len(w.inputs))
	for i, in := range w.inputs {
		fs[i] = in.frontier()
	}
	return lattice.Meet(fs...)
}

// Step flushes the inputs and steps the root scope to the input frontier.
func (w *Worker[T]) Step() error {
	return w.StepContext(context.Background())
}

// StepContext is Step with a context bounding exchanges between workers.
func (w *Worker[T]) StepContext(ctx context.Context) error {
	w.flush()
	return w.step(ctx, w.Frontier())
}

func (w *Worker[T]) flush() {
	for _, in := range w.inputs {
		in.flush()
	}
}

func (w *Worker[T]) step(ctx context.Context, frontier lattice.Antichain[T]) error {
	if w.closed {
		return ErrClosed
	}
	w.rt.ctx = ctx
	return w.scope.Step(frontier)
}

// Close releases every reader and listener registered by the operators of the worker. The
// worker cannot be stepped afterwards.
func (w *Worker[T]) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	for i := len(w.rt.closers) - 1; i >= 0; i-- {
		w.rt.closers[i]()
	}
	w.rt.closers = nil
	w.rt.log.V(1).Info("worker closed")
	return nil
}
