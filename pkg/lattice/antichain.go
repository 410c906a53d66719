package lattice

import (
	"slices"
	"strings"
)

// Antichain is a set of mutually incomparable times. Used as a frontier it describes the times
// that may still appear: a time is "in advance of" the frontier if some element is less or
// equal to it. The empty antichain is the frontier of a collection that is complete.
//
// Antichains are values; every mutation allocates so copies never alias.
type Antichain[T Timestamp[T]] struct {
	elements []T
}

// NewAntichain returns the antichain of the minimal elements of the given times.
func NewAntichain[T Timestamp[T]](times ...T) Antichain[T] {
	a := Antichain[T]{}
	for _, t := range times {
		a.Insert(t)
	}
	return a
}

// Minimum returns the frontier holding only the minimal time.
func Minimum[T Timestamp[T]]() Antichain[T] {
	var zero T
	return Antichain[T]{elements: []T{zero}}
}

// Insert adds a time unless it is dominated by an existing element, removing every element the
// new time dominates. Returns whether the antichain changed.
func (a *Antichain[T]) Insert(t T) bool {
	for _, e := range a.elements {
		if e.LessEqual(t) {
			return false
		}
	}
	kept := make([]T, 0, len(a.elements)+1)
	for _, e := range a.elements {
		if !t.LessEqual(e) {
			kept = append(kept, e)
		}
	}
	kept = append(kept, t)
	slices.SortFunc(kept, func(x, y T) int { return x.Compare(y) })
	a.elements = kept
	return true
}

// Elements returns the elements of the antichain in Compare order.
func (a Antichain[T]) Elements() []T { return slices.Clone(a.elements) }

// Len returns the number of elements.
func (a Antichain[T]) Len() int { return len(a.elements) }

// IsEmpty reports whether the antichain is empty.
func (a Antichain[T]) IsEmpty() bool { return len(a.elements) == 0 }

// LessEqual reports whether t is in advance of the frontier.
func (a Antichain[T]) LessEqual(t T) bool {
	for _, e := range a.elements {
		if e.LessEqual(t) {
			return true
		}
	}
	return false
}

// LessThan reports whether some element is strictly less than t.
func (a Antichain[T]) LessThan(t T) bool {
	for _, e := range a.elements {
		if LessThan(e, t) {
			return true
		}
	}
	return false
}

// LessEqualFrontier is the order of frontiers: every element of other is in advance of a. The
// empty frontier is the top.
func (a Antichain[T]) LessEqualFrontier(other Antichain[T]) bool {
	for _, t := range other.elements {
		if !a.LessEqual(t) {
			return false
		}
	}
	return true
}

// Equal reports whether two antichains hold the same times.
func (a Antichain[T]) Equal(other Antichain[T]) bool {
	return slices.Equal(a.elements, other.elements)
}

func (a Antichain[T]) String() string {
	parts := make([]string, len(a.elements))
	for i, e := range a.elements {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Meet returns the greatest lower bound of frontiers: the minimal elements of their union.
func Meet[T Timestamp[T]](frontiers ...Antichain[T]) Antichain[T] {
	ret := Antichain[T]{}
	for _, f := range frontiers {
		for _, t := range f.elements {
			ret.Insert(t)
		}
	}
	return ret
}

// AdvanceBy returns the compaction image of t under frontier f: the meet of the joins of t with
// every element of f. For every time u in advance of f, t <= u iff AdvanceBy(t, f) <= u, so
// times may be advanced without changing any accumulation at or beyond the frontier. An empty
// frontier leaves t unchanged.
func AdvanceBy[T Timestamp[T]](t T, f Antichain[T]) T {
	if len(f.elements) == 0 {
		return t
	}
	ret := t.Join(f.elements[0])
	for _, e := range f.elements[1:] {
		ret = ret.Meet(t.Join(e))
	}
	return ret
}
