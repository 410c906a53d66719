package dataflow

import (
	"github.com/l7mp/difflow/pkg/arrange"
	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/trace"
)

// Arranged is a collection of key-value pairs indexed in a shared arrangement.
type Arranged[K, V comparable, T lattice.Timestamp[T]] struct {
	scope  *Scope[T]
	arr    *arrange.Arrangement[K, V, T]
	source string
}

// Scope returns the scope of the arrangement.
func (a *Arranged[K, V, T]) Scope() *Scope[T] { return a.scope }

// Arrangement returns the underlying arrangement.
func (a *Arranged[K, V, T]) Arrangement() *arrange.Arrangement[K, V, T] { return a.arr }

// NewReader registers an external reader. The reader holds back compaction until it is closed
// or advanced, and it is closed with the worker.
func (a *Arranged[K, V, T]) NewReader() *arrange.Reader[K, V, T] {
	r := a.arr.NewReader()
	a.scope.rt.onClose(r.Close)
	return r
}

func newArrangement[K, V comparable, T lattice.Timestamp[T]](s *Scope[T], name string) *arrange.Arrangement[K, V, T] {
	tname := s.rt.traceName(name)
	return arrange.New(tname, trace.NewSpine[K, V, T](tname, s.rt.traceOptions()), s.rt.log)
}

// arrangeOp indexes its input into an arrangement. Records are batched until the scope frontier
// passes their time; in a cluster they are first routed to the worker owning their key.
type arrangeOp[D, K, V comparable, T lattice.Timestamp[T]] struct {
	name     string
	rt       *runtime
	input    *queue[D, T]
	key      func(D) (K, V)
	batcher  *trace.Batcher[K, V, T]
	arr      *arrange.Arrangement[K, V, T]
	frontier lattice.Antichain[T]
	channel  int
}

func (op *arrangeOp[D, K, V, T]) Name() string                        { return op.name }
func (op *arrangeOp[D, K, V, T]) Notify(frontier lattice.Antichain[T]) { op.frontier = frontier }

func (op *arrangeOp[D, K, V, T]) Schedule() (lattice.Antichain[T], error) {
	recs := op.input.drain()
	updates := make([]trace.Update[K, V, T], 0, len(recs))
	for _, r := range recs {
		k, v := op.key(r.Data)
		updates = append(updates, trace.Update[K, V, T]{Key: k, Val: v, Time: r.Time, Diff: r.Diff})
	}

	if op.rt.peers > 1 {
		var err error
		if updates, err = exchange(op.rt, op.channel, updates); err != nil {
			return lattice.Antichain[T]{}, NewExchangeError(err)
		}
	}

	op.batcher.Push(updates...)
	if !op.batcher.Lower().Equal(op.frontier) {
		op.arr.Seal(op.batcher.Seal(op.frontier))
	}
	return op.batcher.Frontier(), nil
}

// Arrange indexes a collection by the key and value key extracts from each record.
func Arrange[D, K, V comparable, T lattice.Timestamp[T]](c *Collection[D, T], key func(D) (K, V)) *Arranged[K, V, T] {
	s := c.scope
	name := s.rt.nextName("arrange")
	op := &arrangeOp[D, K, V, T]{
		name:     name,
		rt:       s.rt,
		input:    c.stream.subscribe(),
		key:      key,
		batcher:  trace.NewBatcher[K, V, T](),
		arr:      newArrangement[K, V](s, name),
		frontier: lattice.Minimum[T](),
		channel:  s.rt.nextChannel(),
	}
	s.register(op, c.source)
	return &Arranged[K, V, T]{scope: s, arr: op.arr, source: name}
}

// ArrangeByKey indexes a collection of key-value pairs by key.
func ArrangeByKey[K, V comparable, T lattice.Timestamp[T]](c *Collection[data.KV[K, V], T]) *Arranged[K, V, T] {
	return Arrange(c, func(kv data.KV[K, V]) (K, V) { return kv.Key, kv.Val })
}

// ArrangeBySelf indexes a collection by the records themselves.
func ArrangeBySelf[D comparable, T lattice.Timestamp[T]](c *Collection[D, T]) *Arranged[D, data.Unit, T] {
	return Arrange(c, func(d D) (D, data.Unit) { return d, data.Unit{} })
}

// flattenOp turns the batches of an arrangement back into records.
type flattenOp[K, V, D comparable, T lattice.Timestamp[T]] struct {
	name     string
	listener *arrange.Listener[K, V, T]
	reader   *arrange.Reader[K, V, T]
	fn       func(K, V) D
	output   *stream[D, T]
	frontier lattice.Antichain[T]
}

func (op *flattenOp[K, V, D, T]) Name() string                        { return op.name }
func (op *flattenOp[K, V, D, T]) Notify(frontier lattice.Antichain[T]) { op.frontier = frontier }

func (op *flattenOp[K, V, D, T]) Schedule() (lattice.Antichain[T], error) {
	var out []Record[D, T]
	for _, b := range op.listener.Drain() {
		for _, u := range b.Updates() {
			out = append(out, Record[D, T]{Data: op.fn(u.Key, u.Val), Time: u.Time, Diff: u.Diff})
		}
	}
	op.output.push(out)
	advance(op.reader, op.frontier)
	return lattice.Antichain[T]{}, nil
}

// AsCollection flattens an arrangement into a collection of fn(key, value) records.
func AsCollection[K, V, D comparable, T lattice.Timestamp[T]](a *Arranged[K, V, T], fn func(K, V) D) *Collection[D, T] {
	s := a.scope
	op := &flattenOp[K, V, D, T]{
		name:     s.rt.nextName("flatten"),
		listener: a.arr.NewListener(),
		reader:   a.arr.NewReader(),
		fn:       fn,
		output:   newStream[D, T](),
		frontier: lattice.Minimum[T](),
	}
	op.reader.SetThrough(lattice.Antichain[T]{})
	s.rt.onClose(func() { op.reader.Close(); op.listener.Close() })
	s.register(op, a.source)
	return &Collection[D, T]{scope: s, stream: op.output, source: op.name}
}

// advance moves the compaction frontier of a reader forward to f, ignoring frontiers that are
// not ahead of it.
func advance[K, V comparable, T lattice.Timestamp[T]](r *arrange.Reader[K, V, T], f lattice.Antichain[T]) {
	if cur := r.Advance(); cur.LessEqualFrontier(f) && !cur.Equal(f) {
		r.SetAdvance(f)
	}
}

// distinguish moves the boundary frontier of a reader forward to f, ignoring frontiers that are
// not ahead of it.
func distinguish[K, V comparable, T lattice.Timestamp[T]](r *arrange.Reader[K, V, T], f lattice.Antichain[T]) {
	if cur := r.Through(); cur.LessEqualFrontier(f) && !cur.Equal(f) {
		r.SetThrough(f)
	}
}
