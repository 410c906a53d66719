package dataflow

import (
	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/trace"
)

type input[T lattice.Timestamp[T]] interface {
	flush()
	frontier() lattice.Antichain[T]
}

// InputSession feeds updates into a collection. Updates are buffered until the next flush;
// the frontier of the session, and hence of the worker, moves only on flush.
type InputSession[D comparable, T lattice.Timestamp[T]] struct {
	name      string
	output    *stream[D, T]
	time      T
	published lattice.Antichain[T]
	buffer    []Record[D, T]
	closed    bool
}

// NewInput creates an input session and the collection it feeds in the root scope of w.
func NewInput[D comparable, T lattice.Timestamp[T]](w *Worker[T]) (*InputSession[D, T], *Collection[D, T]) {
	in := &InputSession[D, T]{
		name:      w.rt.nextName("input"),
		output:    newStream[D, T](),
		published: lattice.Minimum[T](),
	}
	w.inputs = append(w.inputs, in)
	w.scope.addSource(in.name)
	return in, &Collection[D, T]{scope: w.scope, stream: in.output, source: in.name}
}

// Insert adds one copy of d at the current time.
func (in *InputSession[D, T]) Insert(d D) { in.Update(d, 1) }

// Remove retracts one copy of d at the current time.
func (in *InputSession[D, T]) Remove(d D) { in.Update(d, -1) }

// Update changes the multiplicity of d by diff at the current time.
func (in *InputSession[D, T]) Update(d D, diff int64) { in.UpdateAt(d, in.time, diff) }

// UpdateAt changes the multiplicity of d by diff at t, which must not be before the current time
// of the session.
func (in *InputSession[D, T]) UpdateAt(d D, t T, diff int64) {
	if in.closed {
		trace.Fatalf("input %s: update on closed session", in.name)
	}
	if !in.time.LessEqual(t) {
		trace.Fatalf("input %s: update at %s is before the session time %s", in.name, t, in.time)
	}
	if diff == 0 {
		return
	}
	in.buffer = append(in.buffer, Record[D, T]{Data: d, Time: t, Diff: diff})
}

// AdvanceTo moves the session time forward. Updates at earlier times become impossible once the
// session is flushed.
func (in *InputSession[D, T]) AdvanceTo(t T) {
	if in.closed {
		trace.Fatalf("input %s: advance on closed session", in.name)
	}
	if !in.time.LessEqual(t) {
		trace.Fatalf("input %s: time regression from %s to %s", in.name, in.time, t)
	}
	in.time = t
}

// Time returns the current time of the session.
func (in *InputSession[D, T]) Time() T { return in.time }

// Flush releases the buffered updates and publishes the session time as the input frontier.
func (in *InputSession[D, T]) Flush() {
	in.output.push(in.buffer)
	in.buffer = nil
	if !in.closed {
		in.published = lattice.NewAntichain(in.time)
	}
}

// Close flushes the session and declares that no more updates will arrive.
func (in *InputSession[D, T]) Close() {
	if in.closed {
		return
	}
	in.Flush()
	in.closed = true
	in.published = lattice.Antichain[T]{}
}

func (in *InputSession[D, T]) flush() { in.Flush() }

func (in *InputSession[D, T]) frontier() lattice.Antichain[T] { return in.published }
