package trace

import (
	"iter"
	"slices"

	"github.com/go-logr/logr"

	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/metrics"
)

// DefaultMergeFactor is the size ratio below which adjacent batches are merged.
const DefaultMergeFactor = 2

// Options configure a spine.
type Options struct {
	// MergeFactor bounds the size ratio of adjacent batches: a batch is merged into its
	// predecessor unless the predecessor is more than MergeFactor times larger.
	MergeFactor int
	// EagerCompaction physically compacts every batch each time the compaction frontier
	// advances instead of waiting for merges.
	EagerCompaction bool
	// Metrics is the registry to report to, may be nil.
	Metrics *metrics.Registry
	// Logger is the base logger.
	Logger logr.Logger
}

// Spine is a trace: the append-only sequence of batches recording the history of one
// collection. Batches tile the time axis, each starting where the previous one ended. Adjacent
// batches are merged geometrically so the number of live batches stays logarithmic in the
// number of updates.
//
// Two frontiers govern what history must be retained. The since frontier is the logical
// compaction frontier: queries are only accurate at times in advance of it, so historical times
// may be advanced to it. The through frontier bounds the batch boundaries readers may ask for
// in CursorThrough; boundaries strictly below it may be erased by merging.
//
// A spine is not safe for concurrent use: it has a single writer and its readers run on the
// same goroutine.
type Spine[K, V comparable, T lattice.Timestamp[T]] struct {
	name        string
	batches     []*Batch[K, V, T]
	upper       lattice.Antichain[T]
	since       lattice.Antichain[T]
	through     lattice.Antichain[T]
	mergeFactor int
	eager       bool
	closed      bool
	observer    *metrics.TraceObserver
	log         logr.Logger
}

// NewSpine creates an empty trace.
func NewSpine[K, V comparable, T lattice.Timestamp[T]](name string, opts Options) *Spine[K, V, T] {
	mf := opts.MergeFactor
	if mf < 1 {
		mf = DefaultMergeFactor
	}
	return &Spine[K, V, T]{
		name:        name,
		upper:       lattice.Minimum[T](),
		since:       lattice.Minimum[T](),
		through:     lattice.Minimum[T](),
		mergeFactor: mf,
		eager:       opts.EagerCompaction,
		observer:    opts.Metrics.Trace(name),
		log:         opts.Logger.WithName("trace").WithValues("name", name),
	}
}

// Name returns the name of the trace.
func (s *Spine[K, V, T]) Name() string { return s.name }

// Upper returns the frontier up to which the trace is complete.
func (s *Spine[K, V, T]) Upper() lattice.Antichain[T] { return s.upper }

// Since returns the logical compaction frontier.
func (s *Spine[K, V, T]) Since() lattice.Antichain[T] { return s.since }

// Through returns the frontier of batch boundaries that must be preserved.
func (s *Spine[K, V, T]) Through() lattice.Antichain[T] { return s.through }

// IsClosed reports whether the trace has been sealed with the empty frontier.
func (s *Spine[K, V, T]) IsClosed() bool { return s.closed }

// BatchCount returns the number of live batches.
func (s *Spine[K, V, T]) BatchCount() int { return len(s.batches) }

// Len returns the number of updates held.
func (s *Spine[K, V, T]) Len() int {
	n := 0
	for _, b := range s.batches {
		n += b.Len()
	}
	return n
}

// Batches returns the live batches in time order.
func (s *Spine[K, V, T]) Batches() []*Batch[K, V, T] { return slices.Clone(s.batches) }

// Insert appends a batch. The lower frontier of the batch must equal the upper frontier of the
// trace, otherwise Insert panics with an InvariantError.
func (s *Spine[K, V, T]) Insert(b *Batch[K, V, T]) {
	if s.closed {
		Fatalf("trace %s: insert into closed trace", s.name)
	}
	if !b.Lower().Equal(s.upper) {
		Fatalf("trace %s: non-contiguous batch insertion: trace upper %s, batch lower %s",
			s.name, s.upper, b.Lower())
	}

	s.batches = append(s.batches, b)
	s.upper = b.Upper()
	if s.upper.IsEmpty() {
		s.closed = true
	}
	s.observer.Inserted()
	s.log.V(4).Info("batch inserted", "batch", b.String(), "upper", s.upper.String())

	s.maintain()
}

// Close seals the trace: no more updates can be inserted.
func (s *Spine[K, V, T]) Close() {
	if s.closed {
		return
	}
	s.Insert(EmptyBatch[K, V, T](s.upper, lattice.Antichain[T]{}))
}

// AdvanceBy moves the logical compaction frontier forward. Queries at times in advance of the
// frontier are unaffected by compaction. A frontier below the current one is fatal.
func (s *Spine[K, V, T]) AdvanceBy(frontier lattice.Antichain[T]) {
	if !s.since.LessEqualFrontier(frontier) {
		Fatalf("trace %s: compaction frontier regression from %s to %s", s.name, s.since, frontier)
	}
	if s.since.Equal(frontier) {
		return
	}
	s.since = frontier
	s.log.V(4).Info("compaction frontier advanced", "since", frontier.String())
	if s.eager {
		s.Compact()
	}
	s.maintain()
}

// DistinguishSince moves the through frontier forward: readers will only ask for batch
// boundaries in advance of it. A frontier below the current one is fatal.
func (s *Spine[K, V, T]) DistinguishSince(frontier lattice.Antichain[T]) {
	if !s.through.LessEqualFrontier(frontier) {
		Fatalf("trace %s: distinguish frontier regression from %s to %s", s.name, s.through, frontier)
	}
	if s.through.Equal(frontier) {
		return
	}
	s.through = frontier
	s.maintain()
}

// Compact physically advances every batch whose times lag the compaction frontier, dropping
// the updates that cancel out.
func (s *Spine[K, V, T]) Compact() {
	for i, b := range s.batches {
		if b.Since().Equal(s.since) || b.IsEmpty() {
			continue
		}
		s.batches[i] = AdvanceBy(b, s.since)
		s.observer.Compacted()
	}
	s.observer.Size(len(s.batches), s.Len())
}

// Cursor returns a cursor over the whole trace.
func (s *Spine[K, V, T]) Cursor() Cursor[K, V, T] {
	return s.cursor(s.batches)
}

// CursorThrough returns a cursor over the prefix of the trace ending exactly at upper. Returns
// false if that boundary has been merged away or does not exist.
func (s *Spine[K, V, T]) CursorThrough(upper lattice.Antichain[T]) (Cursor[K, V, T], bool) {
	if len(s.batches) == 0 {
		if upper.Equal(s.upper) {
			return s.cursor(nil), true
		}
		return nil, false
	}
	if s.batches[0].Lower().Equal(upper) {
		return s.cursor(nil), true
	}
	for i, b := range s.batches {
		if b.Upper().Equal(upper) {
			return s.cursor(s.batches[:i+1]), true
		}
	}
	return nil, false
}

func (s *Spine[K, V, T]) cursor(batches []*Batch[K, V, T]) Cursor[K, V, T] {
	cursors := make([]Cursor[K, V, T], 0, len(batches))
	for _, b := range batches {
		if !b.IsEmpty() {
			cursors = append(cursors, b.Cursor())
		}
	}
	return newCursorList(cursors)
}

// Window restricts a scan. Nil fields are unbounded.
type Window[K comparable, T lattice.Timestamp[T]] struct {
	// From is the smallest key returned.
	From *K
	// To is the first key not returned.
	To *K
	// Since restricts the scan to times in advance of the frontier.
	Since *lattice.Antichain[T]
	// Until restricts the scan to times not in advance of the frontier.
	Until *lattice.Antichain[T]
}

// Scan returns the updates in the window ordered by key, then time, then value. Updates equal
// in key, value and time are consolidated across batches. The sequence may be iterated many
// times, each iteration reads the current state of the trace.
func (s *Spine[K, V, T]) Scan(w Window[K, T]) iter.Seq[Update[K, V, T]] {
	return func(yield func(Update[K, V, T]) bool) {
		c := s.Cursor()
		if w.From != nil {
			c.SeekKey(*w.From)
		}
		for ; c.KeyValid(); c.StepKey() {
			key := c.Key()
			if w.To != nil && data.Compare(key, *w.To) >= 0 {
				return
			}
			var us []Update[K, V, T]
			for ; c.ValValid(); c.StepVal() {
				val := c.Val()
				c.MapTimes(func(t T, diff int64) {
					if w.Since != nil && !w.Since.LessEqual(t) {
						return
					}
					if w.Until != nil && w.Until.LessEqual(t) {
						return
					}
					us = append(us, Update[K, V, T]{Key: key, Val: val, Time: t, Diff: diff})
				})
			}
			us = Consolidate(us)
			slices.SortStableFunc(us, func(a, b Update[K, V, T]) int { return a.Time.Compare(b.Time) })
			for _, u := range us {
				if !yield(u) {
					return
				}
			}
		}
	}
}

// ValuesAt returns the values of key with their multiplicities accumulated as of time t. The
// result is accurate for times in advance of the compaction frontier.
func (s *Spine[K, V, T]) ValuesAt(key K, t T) []data.Weighted[V] {
	return ValuesAt(s.Cursor(), key, t)
}

// ValuesAt accumulates the values of key as of time t from a cursor, moving the cursor forward.
func ValuesAt[K, V comparable, T lattice.Timestamp[T]](c Cursor[K, V, T], key K, t T) []data.Weighted[V] {
	c.SeekKey(key)
	if !c.KeyValid() || c.Key() != key {
		return nil
	}
	var ret []data.Weighted[V]
	for ; c.ValValid(); c.StepVal() {
		var sum int64
		c.MapTimes(func(ut T, diff int64) {
			if ut.LessEqual(t) {
				sum += diff
			}
		})
		if sum != 0 {
			ret = append(ret, data.Weighted[V]{Value: c.Val(), Diff: sum})
		}
	}
	return ret
}

// maintain merges adjacent batches while the merge policy allows.
func (s *Spine[K, V, T]) maintain() {
	i := len(s.batches) - 2
	for i >= 0 {
		older, newer := s.batches[i], s.batches[i+1]
		if !s.mergeable(older, newer) {
			i--
			continue
		}
		s.batches[i] = s.merge(older, newer)
		s.batches = slices.Delete(s.batches, i+1, i+2)
		if i > len(s.batches)-2 {
			i = len(s.batches) - 2
		}
	}
	s.observer.Size(len(s.batches), s.Len())
}

func (s *Spine[K, V, T]) mergeable(older, newer *Batch[K, V, T]) bool {
	if !s.erasable(older.Upper()) {
		return false
	}
	return older.IsEmpty() || newer.IsEmpty() || older.Len() <= s.mergeFactor*newer.Len()
}

// erasable reports whether no reader may ask for a cursor through cut.
func (s *Spine[K, V, T]) erasable(cut lattice.Antichain[T]) bool {
	return cut.LessEqualFrontier(s.through) && !cut.Equal(s.through)
}

func (s *Spine[K, V, T]) merge(older, newer *Batch[K, V, T]) *Batch[K, V, T] {
	switch {
	case newer.IsEmpty():
		return older.withBounds(older.Lower(), newer.Upper())
	case older.IsEmpty():
		return newer.withBounds(older.Lower(), newer.Upper())
	}
	s.observer.Merged()
	merged := Merge(older, newer, s.since)
	s.log.V(4).Info("batches merged", "older", older.Len(), "newer", newer.Len(), "merged", merged.Len())
	return merged
}
