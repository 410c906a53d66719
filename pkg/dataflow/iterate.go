package dataflow

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/trace"
)

// LoopState is the state of an iterative scope within one outer step.
type LoopState int

const (
	// LoopInitial is the state before the first round: the seed and the entered collections are
	// loaded at round zero.
	LoopInitial LoopState = iota
	// LoopIterating is the state while rounds run.
	LoopIterating
	// LoopConverged is the state once the feedback has died out for the outer step.
	LoopConverged
)

func (s LoopState) String() string {
	switch s {
	case LoopInitial:
		return "initial"
	case LoopIterating:
		return "iterating"
	case LoopConverged:
		return "converged"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

// Loop reports the progress of an iterative scope.
type Loop struct {
	name   string
	state  LoopState
	rounds int
	total  int
}

// Name returns the name of the loop.
func (l *Loop) Name() string { return l.name }

// State returns the state the loop ended the last outer step in.
func (l *Loop) State() LoopState { return l.state }

// Rounds returns the number of rounds of the last outer step.
func (l *Loop) Rounds() int { return l.rounds }

// TotalRounds returns the number of rounds over all outer steps.
func (l *Loop) TotalRounds() int { return l.total }

// feeder loads an entered collection into the inner scope.
type feeder interface {
	feed()
}

type loopHost[T lattice.Timestamp[T]] interface {
	attach(f feeder, source string)
	outer() *Scope[T]
}

type enterFeeder[D comparable, T lattice.Timestamp[T]] struct {
	input  *queue[D, T]
	output *stream[D, lattice.Nested[T]]
}

func (f *enterFeeder[D, T]) feed() {
	recs := f.input.drain()
	if len(recs) == 0 {
		return
	}
	out := make([]Record[D, lattice.Nested[T]], len(recs))
	for i, r := range recs {
		out[i] = Record[D, lattice.Nested[T]]{Data: r.Data, Time: lattice.Enter(r.Time), Diff: r.Diff}
	}
	f.output.push(out)
}

// iterateOp drives a nested scope to a fixed point on every outer step. The loop variable
// starts at the seed on round zero; the result of every round, minus the seed, is fed back
// to the variable on the next round.
type iterateOp[D comparable, T lattice.Timestamp[T]] struct {
	name      string
	scope     *Scope[T]
	inner     *Scope[lattice.Nested[T]]
	seed      *queue[D, T]
	variable  *stream[D, lattice.Nested[T]]
	result    *queue[D, lattice.Nested[T]]
	output    *stream[D, T]
	feeders   []feeder
	sources   []string
	loop      *Loop
	channel   int
	maxRounds int
	lower     lattice.Antichain[T]
	frontier  lattice.Antichain[T]
	future    lattice.Antichain[T]
	log       logr.Logger
}

func (op *iterateOp[D, T]) Name() string                        { return op.name }
func (op *iterateOp[D, T]) Notify(frontier lattice.Antichain[T]) { op.frontier = frontier }

func (op *iterateOp[D, T]) attach(f feeder, source string) {
	op.feeders = append(op.feeders, f)
	op.sources = append(op.sources, source)
}

func (op *iterateOp[D, T]) outer() *Scope[T] { return op.scope }

func (op *iterateOp[D, T]) Schedule() (lattice.Antichain[T], error) {
	lower, upper := op.lower, op.frontier
	op.loop.state, op.loop.rounds = LoopInitial, 0

	seed := op.seed.drain()
	entered := make([]Record[D, lattice.Nested[T]], len(seed))
	for i, r := range seed {
		entered[i] = Record[D, lattice.Nested[T]]{Data: r.Data, Time: lattice.Enter(r.Time), Diff: r.Diff}
	}
	op.variable.push(entered)
	for _, f := range op.feeders {
		f.feed()
	}

	var out []Record[D, T]
	for round := uint64(0); ; round++ {
		if op.maxRounds > 0 && round >= uint64(op.maxRounds) {
			return lattice.Antichain[T]{}, fmt.Errorf("loop %s: %w: no fixed point after %d rounds", op.name, ErrRoundLimit, round)
		}
		op.loop.state = LoopIterating
		if err := op.inner.Step(roundFrontier(lower, upper, round)); err != nil {
			return lattice.Antichain[T]{}, err
		}
		op.loop.rounds++

		feedback := op.collect(&out)
		if round == 0 {
			for _, r := range entered {
				feedback = append(feedback, Record[D, lattice.Nested[T]]{
					Data: r.Data,
					Time: lattice.Nested[T]{Outer: r.Time.Outer, Round: 1},
					Diff: -r.Diff,
				})
			}
		}
		feedback = consolidateRecords(feedback)
		op.variable.push(feedback)

		converged, err := agree(op.scope.rt, op.channel, op.quiescent(feedback, upper))
		if err != nil {
			return lattice.Antichain[T]{}, NewExchangeError(err)
		}
		op.log.V(4).Info("round", "round", round, "feedback", len(feedback), "converged", converged)
		if converged {
			break
		}
	}

	// all rounds below upper are done
	if err := op.inner.Step(lattice.EnterFrontier(upper)); err != nil {
		return lattice.Antichain[T]{}, err
	}
	feedback := consolidateRecords(op.collect(&out))
	op.variable.push(feedback)
	op.future = lattice.Antichain[T]{}
	for _, r := range feedback {
		op.future.Insert(r.Time.Outer)
	}

	op.output.push(consolidateRecords(out))
	op.lower = upper
	op.loop.state = LoopConverged
	op.loop.total += op.loop.rounds
	op.scope.rt.metrics.ObserveRounds(op.name, op.loop.rounds)
	op.log.V(2).Info("converged", "frontier", upper.String(), "rounds", op.loop.rounds)

	return lattice.Meet(lattice.LeaveFrontier(op.inner.Held()), op.future), nil
}

// collect drains the result of the body, projects it to the outer scope and returns it shifted
// to the next round.
func (op *iterateOp[D, T]) collect(out *[]Record[D, T]) []Record[D, lattice.Nested[T]] {
	results := op.result.drain()
	feedback := make([]Record[D, lattice.Nested[T]], 0, len(results))
	for _, r := range results {
		*out = append(*out, Record[D, T]{Data: r.Data, Time: r.Time.Outer, Diff: r.Diff})
		feedback = append(feedback, Record[D, lattice.Nested[T]]{
			Data: r.Data,
			Time: lattice.Nested[T]{Outer: r.Time.Outer, Round: r.Time.Round + 1},
			Diff: r.Diff,
		})
	}
	return feedback
}

// quiescent reports whether nothing is left to do below upper: no feedback and no inner
// operator holding a time whose outer part is not in advance of upper.
func (op *iterateOp[D, T]) quiescent(feedback []Record[D, lattice.Nested[T]], upper lattice.Antichain[T]) bool {
	for _, r := range feedback {
		if !upper.LessEqual(r.Time.Outer) {
			return false
		}
	}
	for _, t := range op.inner.Held().Elements() {
		if !upper.LessEqual(t.Outer) {
			return false
		}
	}
	return true
}

// roundFrontier is the inner frontier of round r of the outer step [lower, upper): outer times
// from upper on are incomplete at every round, the ones from lower on only from round r+1.
func roundFrontier[T lattice.Timestamp[T]](lower, upper lattice.Antichain[T], r uint64) lattice.Antichain[lattice.Nested[T]] {
	f := lattice.EnterFrontier(upper)
	for _, l := range lower.Elements() {
		f.Insert(lattice.Nested[T]{Outer: l, Round: r + 1})
	}
	return f
}

// Iterate computes the fixed point of body starting from seed. The body receives the loop
// variable in a nested scope, where times carry the iteration round, and returns the value of
// the variable for the next round. The result leaves the scope at the outer times.
func Iterate[D comparable, T lattice.Timestamp[T]](seed *Collection[D, T], body func(*Collection[D, lattice.Nested[T]]) *Collection[D, lattice.Nested[T]]) (*Collection[D, T], *Loop) {
	s := seed.scope
	name := s.rt.nextName("iterate")
	op := &iterateOp[D, T]{
		name:      name,
		scope:     s,
		inner:     newScope[lattice.Nested[T]](s.name+"/"+name, s.rt),
		seed:      seed.stream.subscribe(),
		variable:  newStream[D, lattice.Nested[T]](),
		output:    newStream[D, T](),
		loop:      &Loop{name: name},
		channel:   s.rt.nextChannel(),
		maxRounds: s.rt.config.Iterate.MaxRounds,
		lower:     lattice.Minimum[T](),
		frontier:  lattice.Minimum[T](),
		log:       s.log.WithValues("loop", name),
	}
	op.inner.host = op

	source := name + "/variable"
	op.inner.addSource(source)
	result := body(&Collection[D, lattice.Nested[T]]{scope: op.inner, stream: op.variable, source: source})
	op.inner.check(result.scope, name)
	op.result = result.stream.subscribe()

	s.register(op, append([]string{seed.source}, op.sources...)...)
	return &Collection[D, T]{scope: s, stream: op.output, source: name}, op.loop
}

// Enter brings a collection of the enclosing scope into the nested scope of an Iterate body. The
// collection enters at round zero and stays constant over the rounds.
func Enter[D comparable, T lattice.Timestamp[T]](c *Collection[D, T], inner *Scope[lattice.Nested[T]]) *Collection[D, lattice.Nested[T]] {
	host, ok := inner.host.(loopHost[T])
	if !ok {
		trace.Fatalf("enter: scope %s is not an iterative scope", inner.name)
	}
	host.outer().check(c.scope, "enter")

	source := inner.rt.nextName("enter")
	f := &enterFeeder[D, T]{input: c.stream.subscribe(), output: newStream[D, lattice.Nested[T]]()}
	host.attach(f, c.source)
	inner.addSource(source)
	return &Collection[D, lattice.Nested[T]]{scope: inner, stream: f.output, source: source}
}
