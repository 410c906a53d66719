package dataflow

import (
	"slices"

	"github.com/l7mp/difflow/pkg/arrange"
	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/trace"
)

// Reducer computes the output of one key from the full multiset of its input values. Reduce
// must be a pure function of its arguments. It is never called with an empty input.
type Reducer[K, V, O comparable] interface {
	Reduce(key K, input []data.Weighted[V]) []data.Weighted[O]
}

// ReducerFunc adapts a function to a Reducer.
type ReducerFunc[K, V, O comparable] func(key K, input []data.Weighted[V]) []data.Weighted[O]

func (f ReducerFunc[K, V, O]) Reduce(key K, input []data.Weighted[V]) []data.Weighted[O] {
	return f(key, input)
}

// reduceOp maintains the reduction of every key of its input arrangement. On every new input
// batch it visits the keys the batch touched, determines the times at which their input
// accumulation may have changed, recomputes the reduction at each of them and emits the
// difference to what it has produced so far. Times that are not yet complete are deferred
// and held.
type reduceOp[K, V, O comparable, T lattice.Timestamp[T]] struct {
	name      string
	input     *arrange.Listener[K, V, T]
	reader    *arrange.Reader[K, V, T]
	output    *arrange.Arrangement[K, O, T]
	outReader *arrange.Reader[K, O, T]
	logic     Reducer[K, V, O]
	pending   map[K][]T
	lower     lattice.Antichain[T]
}

func (op *reduceOp[K, V, O, T]) Name() string                  { return op.name }
func (op *reduceOp[K, V, O, T]) Notify(_ lattice.Antichain[T]) {}

func (op *reduceOp[K, V, O, T]) Schedule() (lattice.Antichain[T], error) {
	batches := op.input.Drain()
	if len(batches) == 0 {
		return op.held(), nil
	}
	upper := batches[len(batches)-1].Upper()

	seeds := map[K][]T{}
	for _, b := range batches {
		for _, u := range b.Updates() {
			seeds[u.Key] = append(seeds[u.Key], u.Time)
		}
	}
	for k, ts := range op.pending {
		seeds[k] = append(seeds[k], ts...)
	}
	op.pending = map[K][]T{}

	keys := make([]K, 0, len(seeds))
	for k := range seeds {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, data.Compare[K])

	var produced []trace.Update[K, O, T]
	inCursor, outCursor := op.reader.Cursor(), op.outReader.Cursor()
	for _, key := range keys {
		inHist := seekKey(inCursor, key)
		outHist := seekKey(outCursor, key)

		var ready []T
		for _, t := range interestingTimes(seeds[key], inHist) {
			if upper.LessEqual(t) {
				op.pending[key] = append(op.pending[key], t)
				continue
			}
			ready = append(ready, t)
		}
		slices.SortFunc(ready, func(a, b T) int { return a.Compare(b) })

		for _, t := range ready {
			var desired []data.Weighted[O]
			if input := accumulate(inHist, t); len(input) > 0 {
				desired = op.logic.Reduce(key, input)
			}
			delta := slices.Clone(desired)
			for _, w := range accumulate(outHist, t) {
				delta = append(delta, data.Weighted[O]{Value: w.Value, Diff: -w.Diff})
			}
			for _, w := range data.Consolidate(delta) {
				outHist = append(outHist, timedVal[O, T]{val: w.Value, time: t, diff: w.Diff})
				produced = append(produced, trace.Update[K, O, T]{Key: key, Val: w.Value, Time: t, Diff: w.Diff})
			}
		}
	}

	op.output.Seal(trace.NewBatch(op.lower, upper, lattice.Minimum[T](), produced))
	op.lower = upper

	advance(op.reader, upper)
	advance(op.outReader, upper)
	return op.held(), nil
}

func (op *reduceOp[K, V, O, T]) held() lattice.Antichain[T] {
	ret := lattice.Antichain[T]{}
	for _, ts := range op.pending {
		for _, t := range ts {
			ret.Insert(t)
		}
	}
	return ret
}

// seekKey moves a cursor forward to key and returns its updates.
func seekKey[K, V comparable, T lattice.Timestamp[T]](c trace.Cursor[K, V, T], key K) []timedVal[V, T] {
	c.SeekKey(key)
	if !c.KeyValid() || c.Key() != key {
		return nil
	}
	return collectKey(c)
}

// interestingTimes returns the closure of seeds under joins with each other and with the times
// of the history: the times at which the accumulation of a key may change.
func interestingTimes[V any, T lattice.Timestamp[T]](seeds []T, hist []timedVal[V, T]) []T {
	seen := map[T]bool{}
	var ret []T
	add := func(t T) {
		if !seen[t] {
			seen[t] = true
			ret = append(ret, t)
		}
	}
	for _, t := range seeds {
		add(t)
	}

	histTimes := map[T]bool{}
	for _, h := range hist {
		histTimes[h.time] = true
	}

	for i := 0; i < len(ret); i++ {
		t := ret[i]
		for h := range histTimes {
			add(t.Join(h))
		}
		for _, o := range ret[:i] {
			add(t.Join(o))
		}
	}
	return ret
}

// accumulate sums the updates at times less or equal to t per value.
func accumulate[V comparable, T lattice.Timestamp[T]](hist []timedVal[V, T], t T) []data.Weighted[V] {
	var ws []data.Weighted[V]
	for _, h := range hist {
		if h.time.LessEqual(t) {
			ws = append(ws, data.Weighted[V]{Value: h.val, Diff: h.diff})
		}
	}
	return data.Consolidate(ws)
}

// Reduce applies logic to the values of every key of an arrangement and returns the results as
// a new arrangement with the same keys.
func Reduce[K, V, O comparable, T lattice.Timestamp[T]](in *Arranged[K, V, T], logic Reducer[K, V, O]) *Arranged[K, O, T] {
	s := in.scope
	name := s.rt.nextName("reduce")
	output := newArrangement[K, O](s, name)
	op := &reduceOp[K, V, O, T]{
		name:      name,
		input:     in.arr.NewListener(),
		reader:    in.arr.NewReader(),
		output:    output,
		outReader: output.NewReader(),
		logic:     logic,
		pending:   map[K][]T{},
		lower:     lattice.Minimum[T](),
	}
	op.reader.SetThrough(lattice.Antichain[T]{})
	op.outReader.SetThrough(lattice.Antichain[T]{})
	s.rt.onClose(func() {
		op.reader.Close()
		op.outReader.Close()
		op.input.Close()
	})
	s.register(op, in.source)
	return &Arranged[K, O, T]{scope: s, arr: output, source: name}
}

// Count counts the copies of every distinct record.
func Count[D comparable, T lattice.Timestamp[T]](c *Collection[D, T]) *Collection[data.KV[D, int64], T] {
	counts := Reduce[D, data.Unit, int64](ArrangeBySelf(c), ReducerFunc[D, data.Unit, int64](
		func(_ D, in []data.Weighted[data.Unit]) []data.Weighted[int64] {
			return []data.Weighted[int64]{{Value: data.Total(in), Diff: 1}}
		}))
	return AsCollection(counts, data.NewKV[D, int64])
}

// CountByKey counts the values of every key.
func CountByKey[K, V comparable, T lattice.Timestamp[T]](c *Collection[data.KV[K, V], T]) *Collection[data.KV[K, int64], T] {
	counts := Reduce[K, V, int64](ArrangeByKey(c), ReducerFunc[K, V, int64](
		func(_ K, in []data.Weighted[V]) []data.Weighted[int64] {
			return []data.Weighted[int64]{{Value: data.Total(in), Diff: 1}}
		}))
	return AsCollection(counts, data.NewKV[K, int64])
}

// Threshold sets the multiplicity of every record to fn of its accumulated multiplicity.
func Threshold[D comparable, T lattice.Timestamp[T]](c *Collection[D, T], fn func(D, int64) int64) *Collection[D, T] {
	out := Reduce[D, data.Unit, data.Unit](ArrangeBySelf(c), ReducerFunc[D, data.Unit, data.Unit](
		func(d D, in []data.Weighted[data.Unit]) []data.Weighted[data.Unit] {
			if n := fn(d, data.Total(in)); n != 0 {
				return []data.Weighted[data.Unit]{{Value: data.Unit{}, Diff: n}}
			}
			return nil
		}))
	return AsCollection(out, func(d D, _ data.Unit) D { return d })
}

// Distinct reduces the multiplicity of every record with positive multiplicity to one.
func Distinct[D comparable, T lattice.Timestamp[T]](c *Collection[D, T]) *Collection[D, T] {
	return Threshold(c, func(_ D, n int64) int64 {
		if n > 0 {
			return 1
		}
		return 0
	})
}

// Consolidate sums the diffs of equal records of the same time.
func Consolidate[D comparable, T lattice.Timestamp[T]](c *Collection[D, T]) *Collection[D, T] {
	return AsCollection(ArrangeBySelf(c), func(d D, _ data.Unit) D { return d })
}
