package trace

import (
	"fmt"
	"slices"

	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
)

// Update is a change in the multiplicity of a key-value pair at a logical time.
type Update[K, V comparable, T lattice.Timestamp[T]] struct {
	Key  K
	Val  V
	Time T
	Diff int64
}

func (u Update[K, V, T]) String() string {
	return fmt.Sprintf("(%v, %v, %s, %+d)", u.Key, u.Val, u.Time.String(), u.Diff)
}

// compareUpdates orders updates by key, value and time. Diffs are ignored.
func compareUpdates[K, V comparable, T lattice.Timestamp[T]](a, b Update[K, V, T]) int {
	if c := data.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	if c := data.Compare(a.Val, b.Val); c != 0 {
		return c
	}
	return a.Time.Compare(b.Time)
}

// Consolidate sorts updates by key, value and time, sums the diffs of identical entries and
// drops the ones that cancel out. The input slice is reused.
func Consolidate[K, V comparable, T lattice.Timestamp[T]](updates []Update[K, V, T]) []Update[K, V, T] {
	slices.SortFunc(updates, compareUpdates[K, V, T])
	ret := updates[:0]
	for _, u := range updates {
		if n := len(ret); n > 0 && ret[n-1].Key == u.Key && ret[n-1].Val == u.Val && ret[n-1].Time == u.Time {
			ret[n-1].Diff += u.Diff
			continue
		}
		ret = append(ret, u)
	}
	out := ret[:0]
	for _, u := range ret {
		if u.Diff != 0 {
			out = append(out, u)
		}
	}
	return out
}

// advanceUpdates advances the time of every update by frontier f.
func advanceUpdates[K, V comparable, T lattice.Timestamp[T]](updates []Update[K, V, T], f lattice.Antichain[T]) {
	for i := range updates {
		updates[i].Time = lattice.AdvanceBy(updates[i].Time, f)
	}
}
