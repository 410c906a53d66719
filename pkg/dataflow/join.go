package dataflow

import (
	"github.com/l7mp/difflow/pkg/arrange"
	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/trace"
)

// joinOp joins two arrangements. For each side it remembers the frontier up to which the
// batches of that side have been processed. New batches of one side are matched against the
// other side's trace up to its acknowledged frontier, so every pair of updates is matched
// exactly once.
type joinOp[K, V1, V2, D comparable, T lattice.Timestamp[T]] struct {
	name        string
	left        *arrange.Listener[K, V1, T]
	right       *arrange.Listener[K, V2, T]
	leftReader  *arrange.Reader[K, V1, T]
	rightReader *arrange.Reader[K, V2, T]
	ackLeft     lattice.Antichain[T]
	ackRight    lattice.Antichain[T]
	combine     func(K, V1, V2) D
	output      *stream[D, T]
	frontier    lattice.Antichain[T]
}

func (op *joinOp[K, V1, V2, D, T]) Name() string                        { return op.name }
func (op *joinOp[K, V1, V2, D, T]) Notify(frontier lattice.Antichain[T]) { op.frontier = frontier }

func (op *joinOp[K, V1, V2, D, T]) Schedule() (lattice.Antichain[T], error) {
	var out []Record[D, T]
	emit := func(k K, v1 V1, v2 V2, t T, diff int64) {
		out = append(out, Record[D, T]{Data: op.combine(k, v1, v2), Time: t, Diff: diff})
	}

	if batches := op.left.Drain(); len(batches) > 0 {
		for _, b := range batches {
			c, ok := op.rightReader.CursorThrough(op.ackRight)
			if !ok {
				trace.Fatalf("join %s: right trace lost the boundary %s", op.name, op.ackRight)
			}
			joinCursors(b.Cursor(), c, emit)
		}
		op.ackLeft = batches[len(batches)-1].Upper()
	}

	if batches := op.right.Drain(); len(batches) > 0 {
		for _, b := range batches {
			c, ok := op.leftReader.CursorThrough(op.ackLeft)
			if !ok {
				trace.Fatalf("join %s: left trace lost the boundary %s", op.name, op.ackLeft)
			}
			joinCursors(c, b.Cursor(), emit)
		}
		op.ackRight = batches[len(batches)-1].Upper()
	}

	op.output.push(consolidateRecords(out))

	advance(op.leftReader, op.frontier)
	advance(op.rightReader, op.frontier)
	distinguish(op.leftReader, op.ackLeft)
	distinguish(op.rightReader, op.ackRight)
	return lattice.Antichain[T]{}, nil
}

type timedVal[V any, T any] struct {
	val  V
	time T
	diff int64
}

// collectKey returns the updates of the current key of a cursor.
func collectKey[K, V comparable, T lattice.Timestamp[T]](c trace.Cursor[K, V, T]) []timedVal[V, T] {
	var ret []timedVal[V, T]
	for c.RewindVals(); c.ValValid(); c.StepVal() {
		v := c.Val()
		c.MapTimes(func(t T, diff int64) {
			ret = append(ret, timedVal[V, T]{val: v, time: t, diff: diff})
		})
	}
	return ret
}

// joinCursors merges two cursors by key and calls emit for every pair of updates sharing a key,
// at the join of their times with the product of their diffs.
func joinCursors[K, V1, V2 comparable, T lattice.Timestamp[T]](c1 trace.Cursor[K, V1, T], c2 trace.Cursor[K, V2, T], emit func(K, V1, V2, T, int64)) {
	for c1.KeyValid() && c2.KeyValid() {
		switch cmp := data.Compare(c1.Key(), c2.Key()); {
		case cmp < 0:
			c1.SeekKey(c2.Key())
		case cmp > 0:
			c2.SeekKey(c1.Key())
		default:
			key := c1.Key()
			left, right := collectKey(c1), collectKey(c2)
			for _, l := range left {
				for _, r := range right {
					emit(key, l.val, r.val, l.time.Join(r.time), l.diff*r.diff)
				}
			}
			c1.StepKey()
			c2.StepKey()
		}
	}
}

// JoinArranged joins two arrangements on their keys.
func JoinArranged[K, V1, V2, D comparable, T lattice.Timestamp[T]](left *Arranged[K, V1, T], right *Arranged[K, V2, T], combine func(K, V1, V2) D) *Collection[D, T] {
	s := left.scope
	s.check(right.scope, "join")
	op := &joinOp[K, V1, V2, D, T]{
		name:        s.rt.nextName("join"),
		left:        left.arr.NewListener(),
		right:       right.arr.NewListener(),
		leftReader:  left.arr.NewReader(),
		rightReader: right.arr.NewReader(),
		ackLeft:     lattice.Minimum[T](),
		ackRight:    lattice.Minimum[T](),
		combine:     combine,
		output:      newStream[D, T](),
		frontier:    lattice.Minimum[T](),
	}
	s.rt.onClose(func() {
		op.leftReader.Close()
		op.rightReader.Close()
		op.left.Close()
		op.right.Close()
	})
	s.register(op, left.source, right.source)
	return &Collection[D, T]{scope: s, stream: op.output, source: op.name}
}

// Join arranges two collections of key-value pairs by key and joins them.
func Join[K, V1, V2, D comparable, T lattice.Timestamp[T]](left *Collection[data.KV[K, V1], T], right *Collection[data.KV[K, V2], T], combine func(K, V1, V2) D) *Collection[D, T] {
	return JoinArranged(ArrangeByKey(left), ArrangeByKey(right), combine)
}

// Semijoin keeps the pairs whose key is present in keys, once per copy of the key.
func Semijoin[K, V comparable, T lattice.Timestamp[T]](kv *Collection[data.KV[K, V], T], keys *Collection[K, T]) *Collection[data.KV[K, V], T] {
	return JoinArranged(ArrangeByKey(kv), ArrangeBySelf(keys), func(k K, v V, _ data.Unit) data.KV[K, V] {
		return data.NewKV(k, v)
	})
}

// Antijoin keeps the pairs whose key is absent from keys. The keys should be a set, otherwise
// a key present twice removes its pairs twice.
func Antijoin[K, V comparable, T lattice.Timestamp[T]](kv *Collection[data.KV[K, V], T], keys *Collection[K, T]) *Collection[data.KV[K, V], T] {
	return kv.Concat(Semijoin(kv, keys).Negate())
}
