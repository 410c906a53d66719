package dataflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/l7mp/difflow/internal/dag"
	"github.com/l7mp/difflow/pkg/config"
	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/metrics"
	"github.com/l7mp/difflow/pkg/trace"
)

// Operator is a node of a scope. On every step the scope first notifies the operator of the new
// scope frontier and then schedules it. Schedule consumes whatever the operator's inputs
// delivered, pushes the results to its outputs and returns the frontier of times the operator
// still holds: times at which it may produce output in a later step.
type Operator[T lattice.Timestamp[T]] interface {
	Name() string
	Notify(frontier lattice.Antichain[T])
	Schedule() (lattice.Antichain[T], error)
}

// runtime is the per-worker state shared by a root scope and its nested scopes.
type runtime struct {
	config   config.Config
	log      logr.Logger
	metrics  *metrics.Registry
	index    int
	peers    int
	router   *router
	ctx      context.Context
	seq      int
	channels int
	closers  []func()
}

func (rt *runtime) nextName(kind string) string {
	rt.seq++
	return fmt.Sprintf("%s-%d", kind, rt.seq)
}

// nextChannel allocates an exchange channel. Workers build the same dataflow, so the channel
// numbers agree across a cluster.
func (rt *runtime) nextChannel() int {
	rt.channels++
	return rt.channels
}

func (rt *runtime) onClose(f func()) { rt.closers = append(rt.closers, f) }

func (rt *runtime) traceOptions() trace.Options {
	return trace.Options{
		MergeFactor:     rt.config.Trace.MergeFactor,
		EagerCompaction: rt.config.Trace.EagerCompaction,
		Metrics:         rt.metrics,
		Logger:          rt.log,
	}
}

// traceName qualifies a trace name with the worker index so that the metrics of the workers of
// a cluster do not collide.
func (rt *runtime) traceName(name string) string {
	if rt.peers <= 1 {
		return name
	}
	return fmt.Sprintf("%s@%d", name, rt.index)
}

// Scope is a set of operators stepped together over timestamps of type T.
type Scope[T lattice.Timestamp[T]] struct {
	name     string
	rt       *runtime
	ops      []Operator[T]
	plan     *dag.Graph
	frontier lattice.Antichain[T]
	held     lattice.Antichain[T]
	host     any
	err      error
	log      logr.Logger
}

func newScope[T lattice.Timestamp[T]](name string, rt *runtime) *Scope[T] {
	return &Scope[T]{
		name:     name,
		rt:       rt,
		plan:     dag.New(),
		frontier: lattice.Minimum[T](),
		log:      rt.log.WithName("scope").WithValues("scope", name),
	}
}

// Name returns the name of the scope.
func (s *Scope[T]) Name() string { return s.name }

// Frontier returns the frontier of the last step.
func (s *Scope[T]) Frontier() lattice.Antichain[T] { return s.frontier }

// Held returns the meet of the frontiers the operators held after the last step.
func (s *Scope[T]) Held() lattice.Antichain[T] { return s.held }

// Err returns the error that aborted the scope, if any.
func (s *Scope[T]) Err() error { return s.err }

// Plan renders the operator graph of the scope.
func (s *Scope[T]) Plan() string { return s.plan.String() }

// Operators returns the names of the operators in scheduling order.
func (s *Scope[T]) Operators() []string {
	ret := make([]string, len(s.ops))
	for i, op := range s.ops {
		ret[i] = op.Name()
	}
	return ret
}

// Sources returns the nodes of the scope that read no other node, typically the inputs.
func (s *Scope[T]) Sources() []string { return s.plan.Roots() }

// Sinks returns the nodes whose output no operator of the scope consumes.
func (s *Scope[T]) Sinks() []string { return s.plan.Leaves() }

// Consumers returns the operators reading the output of the named node.
func (s *Scope[T]) Consumers(name string) []string { return s.plan.Edges(name) }

func (s *Scope[T]) addSource(name string) {
	if !s.plan.AddNode(name) {
		trace.Fatalf("scope %s: duplicate node %s", s.name, name)
	}
}

func (s *Scope[T]) register(op Operator[T], inputs ...string) {
	for _, in := range inputs {
		if !s.plan.HasNode(in) {
			trace.Fatalf("scope %s: operator %s reads unknown node %s", s.name, op.Name(), in)
		}
	}
	if !s.plan.AddNode(op.Name()) {
		trace.Fatalf("scope %s: duplicate node %s", s.name, op.Name())
	}
	s.ops = append(s.ops, op)
	for _, in := range inputs {
		s.plan.AddEdge(in, op.Name())
	}
	s.log.V(4).Info("operator registered", "operator", op.Name(), "inputs", inputs)
}

func (s *Scope[T]) check(other *Scope[T], op string) {
	if s != other {
		trace.Fatalf("%s: inputs belong to different scopes %s and %s", op, s.name, other.name)
	}
}

// Step moves the scope to frontier and runs every operator once. An invariant violation
// raised by an operator aborts the scope: the step and every later step return the error.
func (s *Scope[T]) Step(frontier lattice.Antichain[T]) (err error) {
	if s.err != nil {
		return s.err
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ie, ok := r.(*trace.InvariantError)
		if !ok {
			panic(r)
		}
		s.abort(ie)
		err = s.err
	}()

	if !s.frontier.LessEqualFrontier(frontier) {
		trace.Fatalf("scope %s: frontier regression from %s to %s", s.name, s.frontier, frontier)
	}
	s.frontier = frontier

	held := lattice.Antichain[T]{}
	for _, op := range s.ops {
		start := time.Now()
		op.Notify(frontier)
		h, err := op.Schedule()
		s.rt.metrics.ObserveSchedule(op.Name(), time.Since(start))
		if err != nil {
			s.abort(NewOperatorError(op.Name(), err))
			return s.err
		}
		held = lattice.Meet(held, h)
	}
	s.held = held

	s.log.V(2).Info("step", "frontier", frontier.String(), "held", held.String())
	return nil
}

func (s *Scope[T]) abort(err error) {
	s.err = NewScopeError(s.name, err)
	var ie *trace.InvariantError
	if errors.As(err, &ie) {
		s.log.Error(err, "invariant violation, aborting")
		return
	}
	s.log.Error(err, "operator failed, aborting")
}
