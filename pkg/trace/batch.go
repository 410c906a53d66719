package trace

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/l7mp/difflow/pkg/lattice"
)

// Description bounds the times of a batch. Every update time lies in [Lower, Upper), unless the
// times were advanced by Since, in which case they are accurate only for times in advance of
// Since.
type Description[T lattice.Timestamp[T]] struct {
	Lower, Upper, Since lattice.Antichain[T]
}

func (d Description[T]) String() string {
	return fmt.Sprintf("[%s, %s) since %s", d.Lower, d.Upper, d.Since)
}

// Batch is an immutable, sorted and consolidated set of updates.
type Batch[K, V comparable, T lattice.Timestamp[T]] struct {
	id      uuid.UUID
	desc    Description[T]
	updates []Update[K, V, T]
}

// NewBatch creates a batch from a list of updates. The updates are copied, sorted and
// consolidated. Panics with an InvariantError if an update lies outside [lower, upper).
func NewBatch[K, V comparable, T lattice.Timestamp[T]](lower, upper, since lattice.Antichain[T], updates []Update[K, V, T]) *Batch[K, V, T] {
	us := Consolidate(slices.Clone(updates))
	b := newBatch(Description[T]{Lower: lower, Upper: upper, Since: since}, us)
	b.validate()
	return b
}

// EmptyBatch returns a batch with no updates.
func EmptyBatch[K, V comparable, T lattice.Timestamp[T]](lower, upper lattice.Antichain[T]) *Batch[K, V, T] {
	return newBatch[K, V, T](Description[T]{Lower: lower, Upper: upper, Since: lattice.Minimum[T]()}, nil)
}

func newBatch[K, V comparable, T lattice.Timestamp[T]](desc Description[T], sorted []Update[K, V, T]) *Batch[K, V, T] {
	return &Batch[K, V, T]{id: uuid.New(), desc: desc, updates: sorted}
}

func (b *Batch[K, V, T]) validate() {
	if !b.desc.Lower.LessEqualFrontier(b.desc.Upper) {
		Fatalf("batch lower %s is not below upper %s", b.desc.Lower, b.desc.Upper)
	}
	if !b.desc.Since.LessEqualFrontier(b.desc.Lower) {
		return
	}
	for _, u := range b.updates {
		if !b.desc.Lower.LessEqual(u.Time) || b.desc.Upper.LessEqual(u.Time) {
			Fatalf("update %s outside of batch interval %s", u, b.desc)
		}
	}
}

// ID returns the unique identifier of the batch.
func (b *Batch[K, V, T]) ID() uuid.UUID { return b.id }

func (b *Batch[K, V, T]) Description() Description[T] { return b.desc }
func (b *Batch[K, V, T]) Lower() lattice.Antichain[T]  { return b.desc.Lower }
func (b *Batch[K, V, T]) Upper() lattice.Antichain[T]  { return b.desc.Upper }
func (b *Batch[K, V, T]) Since() lattice.Antichain[T]  { return b.desc.Since }

// Len returns the number of updates in the batch.
func (b *Batch[K, V, T]) Len() int { return len(b.updates) }

// IsEmpty reports whether the batch holds no updates.
func (b *Batch[K, V, T]) IsEmpty() bool { return len(b.updates) == 0 }

// Updates returns the updates of the batch in key, value, time order. The slice must not be
// modified.
func (b *Batch[K, V, T]) Updates() []Update[K, V, T] { return b.updates }

// Cursor returns a cursor over the updates of the batch.
func (b *Batch[K, V, T]) Cursor() Cursor[K, V, T] { return newBatchCursor(b.updates) }

func (b *Batch[K, V, T]) String() string {
	return fmt.Sprintf("batch %s %s: %d updates", b.id.String()[:8], b.desc, len(b.updates))
}

// withBounds returns a batch sharing the updates of b with a new interval.
func (b *Batch[K, V, T]) withBounds(lower, upper lattice.Antichain[T]) *Batch[K, V, T] {
	return newBatch(Description[T]{Lower: lower, Upper: upper, Since: b.desc.Since}, b.updates)
}

// Merge combines two adjacent batches into one covering both intervals, advancing the times by
// since. The upper frontier of a must equal the lower frontier of b.
func Merge[K, V comparable, T lattice.Timestamp[T]](a, b *Batch[K, V, T], since lattice.Antichain[T]) *Batch[K, V, T] {
	if !a.desc.Upper.Equal(b.desc.Lower) {
		Fatalf("merging non-adjacent batches: upper %s, lower %s", a.desc.Upper, b.desc.Lower)
	}
	us := make([]Update[K, V, T], 0, len(a.updates)+len(b.updates))
	us = append(us, a.updates...)
	us = append(us, b.updates...)
	advanceUpdates(us, since)
	return newBatch(Description[T]{Lower: a.desc.Lower, Upper: b.desc.Upper, Since: since}, Consolidate(us))
}

// AdvanceBy returns a copy of the batch with the times advanced by since. Updates that become
// indistinguishable are consolidated.
func AdvanceBy[K, V comparable, T lattice.Timestamp[T]](b *Batch[K, V, T], since lattice.Antichain[T]) *Batch[K, V, T] {
	us := slices.Clone(b.updates)
	advanceUpdates(us, since)
	return newBatch(Description[T]{Lower: b.desc.Lower, Upper: b.desc.Upper, Since: since}, Consolidate(us))
}
