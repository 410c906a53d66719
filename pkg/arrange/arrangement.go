// Package arrange shares one indexed trace among many operators.
//
// An Arrangement is written by exactly one producer, which seals batches into it, and is read by
// any number of operators through Readers. Each reader reports the frontier of times it still
// needs to distinguish; the arrangement compacts its trace to the meet of those frontiers, so
// compaction is only as aggressive as the slowest reader allows. Listeners receive every sealed
// batch, including the ones sealed before the listener was created.
package arrange

import (
	"fmt"
	"iter"

	"github.com/go-logr/logr"

	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/trace"
)

// ReaderID identifies a reader of an arrangement.
type ReaderID uint64

// Arrangement is a trace shared by many readers.
type Arrangement[K, V comparable, T lattice.Timestamp[T]] struct {
	name      string
	trace     *trace.Spine[K, V, T]
	readers   map[ReaderID]*Reader[K, V, T]
	nextID    ReaderID
	listeners []*Listener[K, V, T]
	upper     lattice.Antichain[T]
	dropped   bool
	log       logr.Logger
}

// New wraps a spine into an arrangement.
func New[K, V comparable, T lattice.Timestamp[T]](name string, spine *trace.Spine[K, V, T], log logr.Logger) *Arrangement[K, V, T] {
	return &Arrangement[K, V, T]{
		name:    name,
		trace:   spine,
		upper:   spine.Upper(),
		readers: map[ReaderID]*Reader[K, V, T]{},
		log:     log.WithName("arrangement").WithValues("name", name),
	}
}

// Name returns the name of the arrangement.
func (a *Arrangement[K, V, T]) Name() string { return a.name }

// Trace returns the underlying trace, nil once the arrangement has been dropped.
func (a *Arrangement[K, V, T]) Trace() *trace.Spine[K, V, T] {
	if a.dropped {
		return nil
	}
	return a.trace
}

// IsDropped reports whether the last reader has deregistered.
func (a *Arrangement[K, V, T]) IsDropped() bool { return a.dropped }

// Readers returns the number of registered readers.
func (a *Arrangement[K, V, T]) Readers() int { return len(a.readers) }

// Seal records a new batch and hands it to the listeners. Only the producer of the arrangement
// may call Seal.
func (a *Arrangement[K, V, T]) Seal(b *trace.Batch[K, V, T]) {
	if !a.dropped {
		a.trace.Insert(b)
		a.update()
	}
	a.upper = b.Upper()
	for _, l := range a.listeners {
		if !l.closed {
			l.queue = append(l.queue, b)
		}
	}
	a.log.V(4).Info("batch sealed", "batch", b.String())
}

// Upper returns the frontier the arrangement is complete up to.
func (a *Arrangement[K, V, T]) Upper() lattice.Antichain[T] { return a.upper }

// NewReader registers a reader. The reader starts with the current compaction frontier of the
// trace and asks for batch boundaries from the current upper frontier on.
func (a *Arrangement[K, V, T]) NewReader() *Reader[K, V, T] {
	if a.dropped {
		trace.Fatalf("arrangement %s: new reader on a dropped arrangement", a.name)
	}
	a.nextID++
	r := &Reader[K, V, T]{
		id:      a.nextID,
		arr:     a,
		advance: a.trace.Since(),
		through: a.trace.Upper(),
	}
	a.readers[r.id] = r
	a.log.V(2).Info("reader registered", "reader", r.id, "readers", len(a.readers))
	return r
}

// NewListener attaches a queue that receives the batches currently in the trace and every
// batch sealed afterwards.
func (a *Arrangement[K, V, T]) NewListener() *Listener[K, V, T] {
	l := &Listener[K, V, T]{arr: a}
	if !a.dropped {
		l.queue = a.trace.Batches()
	}
	a.listeners = append(a.listeners, l)
	return l
}

// update forwards the meet of the reader frontiers to the trace. The arrangement itself holds
// the boundary at its upper frontier so that new readers can start there.
func (a *Arrangement[K, V, T]) update() {
	if a.dropped {
		return
	}
	through := []lattice.Antichain[T]{a.trace.Upper()}
	advance := make([]lattice.Antichain[T], 0, len(a.readers))
	for _, r := range a.readers {
		advance = append(advance, r.advance)
		through = append(through, r.through)
	}
	if len(advance) > 0 {
		a.trace.AdvanceBy(lattice.Meet(advance...))
	}
	a.trace.DistinguishSince(lattice.Meet(through...))
}

func (a *Arrangement[K, V, T]) deregister(id ReaderID) {
	delete(a.readers, id)
	a.log.V(2).Info("reader deregistered", "reader", id, "readers", len(a.readers))
	if len(a.readers) > 0 {
		a.update()
		return
	}
	a.dropped = true
	a.trace = nil
	a.log.V(2).Info("arrangement dropped")
}

// Reader is a registered handle to the trace of an arrangement. The reader promises to ask
// only for times in advance of its advance frontier and for boundaries in advance of its through
// frontier.
type Reader[K, V comparable, T lattice.Timestamp[T]] struct {
	id      ReaderID
	arr     *Arrangement[K, V, T]
	advance lattice.Antichain[T]
	through lattice.Antichain[T]
	closed  bool
}

// ID returns the identifier of the reader.
func (r *Reader[K, V, T]) ID() ReaderID { return r.id }

// Advance returns the compaction frontier reported by the reader.
func (r *Reader[K, V, T]) Advance() lattice.Antichain[T] { return r.advance }

// Through returns the boundary frontier reported by the reader.
func (r *Reader[K, V, T]) Through() lattice.Antichain[T] { return r.through }

// SetAdvance reports that the reader no longer needs to distinguish times not in advance of the
// frontier. Frontiers must move forward.
func (r *Reader[K, V, T]) SetAdvance(f lattice.Antichain[T]) {
	r.check()
	if !r.advance.LessEqualFrontier(f) {
		trace.Fatalf("arrangement %s: reader %d advance frontier regression from %s to %s",
			r.arr.name, r.id, r.advance, f)
	}
	r.advance = f
	r.arr.update()
}

// SetThrough reports that the reader will only ask for cursors through frontiers in advance of
// f. The empty frontier declares that the reader never calls CursorThrough.
func (r *Reader[K, V, T]) SetThrough(f lattice.Antichain[T]) {
	r.check()
	if !r.through.LessEqualFrontier(f) {
		trace.Fatalf("arrangement %s: reader %d through frontier regression from %s to %s",
			r.arr.name, r.id, r.through, f)
	}
	r.through = f
	r.arr.update()
}

// Cursor returns a cursor over the whole trace.
func (r *Reader[K, V, T]) Cursor() trace.Cursor[K, V, T] {
	r.check()
	return r.arr.trace.Cursor()
}

// CursorThrough returns a cursor over the trace up to the boundary upper.
func (r *Reader[K, V, T]) CursorThrough(upper lattice.Antichain[T]) (trace.Cursor[K, V, T], bool) {
	r.check()
	return r.arr.trace.CursorThrough(upper)
}

// Scan scans a window of the trace.
func (r *Reader[K, V, T]) Scan(w trace.Window[K, T]) iter.Seq[trace.Update[K, V, T]] {
	r.check()
	return r.arr.trace.Scan(w)
}

// ValuesAt returns the values of key accumulated as of t.
func (r *Reader[K, V, T]) ValuesAt(key K, t T) []data.Weighted[V] {
	r.check()
	return r.arr.trace.ValuesAt(key, t)
}

// Close deregisters the reader. Closing the last reader drops the trace.
func (r *Reader[K, V, T]) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.arr.deregister(r.id)
}

func (r *Reader[K, V, T]) check() {
	if r.closed {
		trace.Fatalf("arrangement %s: use of closed reader %d", r.arr.name, r.id)
	}
}

func (r *Reader[K, V, T]) String() string {
	return fmt.Sprintf("reader %d of %s (advance %s, through %s)", r.id, r.arr.name, r.advance, r.through)
}

// Listener queues the batches sealed into an arrangement.
type Listener[K, V comparable, T lattice.Timestamp[T]] struct {
	arr    *Arrangement[K, V, T]
	queue  []*trace.Batch[K, V, T]
	closed bool
}

// Drain returns and clears the queued batches.
func (l *Listener[K, V, T]) Drain() []*trace.Batch[K, V, T] {
	q := l.queue
	l.queue = nil
	return q
}

// Pending returns the number of queued batches.
func (l *Listener[K, V, T]) Pending() int { return len(l.queue) }

// Close detaches the listener.
func (l *Listener[K, V, T]) Close() {
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	for i, o := range l.arr.listeners {
		if o == l {
			l.arr.listeners = append(l.arr.listeners[:i], l.arr.listeners[i+1:]...)
			break
		}
	}
}
