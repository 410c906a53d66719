package dataflow

import (
	"slices"

	"github.com/l7mp/difflow/pkg/lattice"
)

// Collection is a multiset of records of type D changing over times of type T.
type Collection[D comparable, T lattice.Timestamp[T]] struct {
	scope  *Scope[T]
	stream *stream[D, T]
	source string
}

// Scope returns the scope the collection lives in.
func (c *Collection[D, T]) Scope() *Scope[T] { return c.scope }

// Source returns the name of the operator producing the collection.
func (c *Collection[D, T]) Source() string { return c.source }

// unaryOp applies logic to every delivery of its input.
type unaryOp[D1, D2 comparable, T lattice.Timestamp[T]] struct {
	name   string
	input  *queue[D1, T]
	output *stream[D2, T]
	logic  func([]Record[D1, T]) []Record[D2, T]
}

func (op *unaryOp[D1, D2, T]) Name() string                  { return op.name }
func (op *unaryOp[D1, D2, T]) Notify(_ lattice.Antichain[T]) {}

func (op *unaryOp[D1, D2, T]) Schedule() (lattice.Antichain[T], error) {
	if recs := op.input.drain(); len(recs) > 0 {
		op.output.push(op.logic(recs))
	}
	return lattice.Antichain[T]{}, nil
}

func unary[D1, D2 comparable, T lattice.Timestamp[T]](c *Collection[D1, T], kind string, logic func([]Record[D1, T]) []Record[D2, T]) *Collection[D2, T] {
	s := c.scope
	op := &unaryOp[D1, D2, T]{
		name:   s.rt.nextName(kind),
		input:  c.stream.subscribe(),
		output: newStream[D2, T](),
		logic:  logic,
	}
	s.register(op, c.source)
	return &Collection[D2, T]{scope: s, stream: op.output, source: op.name}
}

// Map transforms every record.
func Map[D1, D2 comparable, T lattice.Timestamp[T]](c *Collection[D1, T], fn func(D1) D2) *Collection[D2, T] {
	return unary(c, "map", func(in []Record[D1, T]) []Record[D2, T] {
		out := make([]Record[D2, T], len(in))
		for i, r := range in {
			out[i] = Record[D2, T]{Data: fn(r.Data), Time: r.Time, Diff: r.Diff}
		}
		return out
	})
}

// FlatMap replaces every record with the records fn returns for it.
func FlatMap[D1, D2 comparable, T lattice.Timestamp[T]](c *Collection[D1, T], fn func(D1) []D2) *Collection[D2, T] {
	return unary(c, "flatmap", func(in []Record[D1, T]) []Record[D2, T] {
		var out []Record[D2, T]
		for _, r := range in {
			for _, d := range fn(r.Data) {
				out = append(out, Record[D2, T]{Data: d, Time: r.Time, Diff: r.Diff})
			}
		}
		return out
	})
}

// Filter keeps the records satisfying pred.
func (c *Collection[D, T]) Filter(pred func(D) bool) *Collection[D, T] {
	return unary(c, "filter", func(in []Record[D, T]) []Record[D, T] {
		return slices.DeleteFunc(in, func(r Record[D, T]) bool { return !pred(r.Data) })
	})
}

// Negate flips the sign of every record.
func (c *Collection[D, T]) Negate() *Collection[D, T] {
	return unary(c, "negate", func(in []Record[D, T]) []Record[D, T] {
		for i := range in {
			in[i].Diff = -in[i].Diff
		}
		return in
	})
}

// Inspect calls fn on every record passing through.
func (c *Collection[D, T]) Inspect(fn func(Record[D, T])) *Collection[D, T] {
	return unary(c, "inspect", func(in []Record[D, T]) []Record[D, T] {
		for _, r := range in {
			fn(r)
		}
		return in
	})
}

type concatOp[D comparable, T lattice.Timestamp[T]] struct {
	name   string
	inputs []*queue[D, T]
	output *stream[D, T]
}

func (op *concatOp[D, T]) Name() string                  { return op.name }
func (op *concatOp[D, T]) Notify(_ lattice.Antichain[T]) {}

func (op *concatOp[D, T]) Schedule() (lattice.Antichain[T], error) {
	for _, in := range op.inputs {
		op.output.push(in.drain())
	}
	return lattice.Antichain[T]{}, nil
}

// Concat returns the multiset union of the collection and others.
func (c *Collection[D, T]) Concat(others ...*Collection[D, T]) *Collection[D, T] {
	s := c.scope
	op := &concatOp[D, T]{name: s.rt.nextName("concat"), output: newStream[D, T]()}
	sources := []string{c.source}
	op.inputs = append(op.inputs, c.stream.subscribe())
	for _, o := range others {
		s.check(o.scope, op.name)
		op.inputs = append(op.inputs, o.stream.subscribe())
		sources = append(sources, o.source)
	}
	s.register(op, sources...)
	return &Collection[D, T]{scope: s, stream: op.output, source: op.name}
}

// Probe observes the progress of a collection.
type Probe[T lattice.Timestamp[T]] struct {
	name     string
	input    interface{ drainAll() }
	frontier lattice.Antichain[T]
}

func (p *Probe[T]) Name() string                        { return p.name }
func (p *Probe[T]) Notify(frontier lattice.Antichain[T]) { p.frontier = frontier }

func (p *Probe[T]) Schedule() (lattice.Antichain[T], error) {
	p.input.drainAll()
	return lattice.Antichain[T]{}, nil
}

// Frontier returns the frontier of the probed collection as of the last step.
func (p *Probe[T]) Frontier() lattice.Antichain[T] { return p.frontier }

// Done reports whether the collection can no longer change at t.
func (p *Probe[T]) Done(t T) bool { return !p.frontier.LessEqual(t) }

type discard[D comparable, T lattice.Timestamp[T]] struct{ q *queue[D, T] }

func (d discard[D, T]) drainAll() { d.q.drain() }

// Probe attaches a progress probe to the collection.
func (c *Collection[D, T]) Probe() *Probe[T] {
	s := c.scope
	p := &Probe[T]{
		name:     s.rt.nextName("probe"),
		input:    discard[D, T]{q: c.stream.subscribe()},
		frontier: lattice.Minimum[T](),
	}
	s.register(p, c.source)
	return p
}

// Capture accumulates the records of a collection for inspection by the caller.
type Capture[D comparable, T lattice.Timestamp[T]] struct {
	name    string
	input   *queue[D, T]
	records []Record[D, T]
	fresh   []Record[D, T]
}

func (c *Capture[D, T]) Name() string                  { return c.name }
func (c *Capture[D, T]) Notify(_ lattice.Antichain[T]) {}

func (c *Capture[D, T]) Schedule() (lattice.Antichain[T], error) {
	recs := c.input.drain()
	c.records = append(c.records, recs...)
	c.fresh = append(c.fresh, recs...)
	return lattice.Antichain[T]{}, nil
}

// Records returns every record captured so far, consolidated.
func (c *Capture[D, T]) Records() []Record[D, T] {
	c.records = consolidateRecords(c.records)
	return slices.Clone(c.records)
}

// Drain returns the records captured since the last Drain, consolidated.
func (c *Capture[D, T]) Drain() []Record[D, T] {
	recs := consolidateRecords(c.fresh)
	c.fresh = nil
	return recs
}

// At returns the contents of the collection as of t: the multiplicity of every record with
// nonzero accumulated diff over the times less or equal to t.
func (c *Capture[D, T]) At(t T) map[D]int64 {
	ret := map[D]int64{}
	for _, r := range c.records {
		if r.Time.LessEqual(t) {
			ret[r.Data] += r.Diff
		}
	}
	for d, n := range ret {
		if n == 0 {
			delete(ret, d)
		}
	}
	return ret
}

// Capture attaches a capturing sink to the collection.
func (c *Collection[D, T]) Capture() *Capture[D, T] {
	s := c.scope
	cp := &Capture[D, T]{name: s.rt.nextName("capture"), input: c.stream.subscribe()}
	s.register(cp, c.source)
	return cp
}
