package trace

import (
	"github.com/google/btree"

	"github.com/l7mp/difflow/pkg/lattice"
)

const batcherDegree = 32

// Batcher collects updates in arbitrary order and cuts them into batches at frontiers. Updates
// are kept consolidated in a B-tree ordered by key, value and time.
type Batcher[K, V comparable, T lattice.Timestamp[T]] struct {
	tree  *btree.BTreeG[Update[K, V, T]]
	lower lattice.Antichain[T]
}

// NewBatcher creates an empty batcher whose first batch starts at the minimal frontier.
func NewBatcher[K, V comparable, T lattice.Timestamp[T]]() *Batcher[K, V, T] {
	less := func(a, b Update[K, V, T]) bool { return compareUpdates(a, b) < 0 }
	return &Batcher[K, V, T]{
		tree:  btree.NewG(batcherDegree, less),
		lower: lattice.Minimum[T](),
	}
}

// Push adds updates. Pushing an update at a time that has already been sealed is fatal.
func (b *Batcher[K, V, T]) Push(updates ...Update[K, V, T]) {
	for _, u := range updates {
		if u.Diff == 0 {
			continue
		}
		if !b.lower.LessEqual(u.Time) {
			Fatalf("update %s is behind the sealed frontier %s", u, b.lower)
		}
		if old, ok := b.tree.Get(u); ok {
			u.Diff += old.Diff
			if u.Diff == 0 {
				b.tree.Delete(old)
				continue
			}
		}
		b.tree.ReplaceOrInsert(u)
	}
}

// Seal extracts the updates whose times are not in advance of upper into a batch spanning
// [lower, upper) and moves the lower frontier to upper.
func (b *Batcher[K, V, T]) Seal(upper lattice.Antichain[T]) *Batch[K, V, T] {
	if !b.lower.LessEqualFrontier(upper) {
		Fatalf("batcher frontier regression from %s to %s", b.lower, upper)
	}
	var ready []Update[K, V, T]
	b.tree.Ascend(func(u Update[K, V, T]) bool {
		if !upper.LessEqual(u.Time) {
			ready = append(ready, u)
		}
		return true
	})
	for _, u := range ready {
		b.tree.Delete(u)
	}
	batch := newBatch(Description[T]{Lower: b.lower, Upper: upper, Since: lattice.Minimum[T]()}, ready)
	b.lower = upper
	return batch
}

// Lower returns the frontier the next batch starts at.
func (b *Batcher[K, V, T]) Lower() lattice.Antichain[T] { return b.lower }

// Len returns the number of pending updates.
func (b *Batcher[K, V, T]) Len() int { return b.tree.Len() }

// Frontier returns the lower envelope of the times of pending updates. The batcher holds these
// times: it may still emit updates at them.
func (b *Batcher[K, V, T]) Frontier() lattice.Antichain[T] {
	f := lattice.Antichain[T]{}
	b.tree.Ascend(func(u Update[K, V, T]) bool {
		f.Insert(u.Time)
		return true
	})
	return f
}
