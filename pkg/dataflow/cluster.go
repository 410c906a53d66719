package dataflow

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/l7mp/difflow/internal/buildinfo"
	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/metrics"
)

// Cluster runs a dataflow on several workers in one process. Every worker builds the same
// dataflow; arrangements are partitioned by key between the workers and all workers are stepped
// together to the meet of the input frontiers of the cluster.
type Cluster[T lattice.Timestamp[T]] struct {
	workers []*Worker[T]
	log     logr.Logger
}

// NewCluster creates config.Workers workers and calls build on each of them to construct the
// dataflow. The build function must construct the same operators in the same order on every
// worker.
func NewCluster[T lattice.Timestamp[T]](opts Options, build func(w *Worker[T]) error) (*Cluster[T], error) {
	c := opts.config()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log := opts.logger(c)
	log.V(1).Info("starting cluster", "workers", c.Workers, "build", buildinfo.Get().String())

	m := metrics.New(opts.Registerer)
	r := newRouter(c.Workers)
	cl := &Cluster[T]{log: log.WithName("cluster")}
	for i := range c.Workers {
		w := newWorker[T](c, log, m, i, c.Workers, r)
		if err := build(w); err != nil {
			return nil, NewBuildError(i, err)
		}
		cl.workers = append(cl.workers, w)
	}
	return cl, nil
}

// Workers returns the number of workers.
func (c *Cluster[T]) Workers() int { return len(c.workers) }

// Worker returns the i-th worker.
func (c *Cluster[T]) Worker(i int) *Worker[T] { return c.workers[i] }

// Frontier returns the meet of the published input frontiers of every worker.
func (c *Cluster[T]) Frontier() lattice.Antichain[T] {
	fs := make([]lattice.Antichain[T], len(c.workers))
	for i, w := range c.workers {
		fs[i] = w.Frontier()
	}
	return lattice.Meet(fs...)
}

// Step flushes the inputs of every worker and steps all workers concurrently to the cluster
// frontier. The first worker error cancels the others.
func (c *Cluster[T]) Step(ctx context.Context) error {
	for _, w := range c.workers {
		w.flush()
	}
	frontier := c.Frontier()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range c.workers {
		g.Go(func() error { return w.step(gctx, frontier) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.log.V(2).Info("step", "frontier", frontier.String())
	return nil
}

// Close closes every worker.
func (c *Cluster[T]) Close() error {
	var errs *multierror.Error
	for _, w := range c.workers {
		if err := w.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
