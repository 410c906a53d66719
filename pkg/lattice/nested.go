package lattice

import (
	"cmp"
	"fmt"
)

// Nested is the time of an iterative scope: the time of the enclosing scope extended with the
// iteration round. Nested times are ordered by the product order, so round 3 of outer time 1 is
// unrelated to round 2 of outer time 2.
type Nested[T Timestamp[T]] struct {
	Outer T
	Round uint64
}

// Enter injects an outer time into the nested scope at round zero.
func Enter[T Timestamp[T]](t T) Nested[T] {
	return Nested[T]{Outer: t}
}

func (n Nested[T]) LessEqual(other Nested[T]) bool {
	return n.Outer.LessEqual(other.Outer) && n.Round <= other.Round
}

func (n Nested[T]) Join(other Nested[T]) Nested[T] {
	return Nested[T]{Outer: n.Outer.Join(other.Outer), Round: max(n.Round, other.Round)}
}

func (n Nested[T]) Meet(other Nested[T]) Nested[T] {
	return Nested[T]{Outer: n.Outer.Meet(other.Outer), Round: min(n.Round, other.Round)}
}

// Compare orders nested times lexicographically, outer time first.
func (n Nested[T]) Compare(other Nested[T]) int {
	if c := n.Outer.Compare(other.Outer); c != 0 {
		return c
	}
	return cmp.Compare(n.Round, other.Round)
}

func (n Nested[T]) String() string {
	return fmt.Sprintf("(%s, %d)", n.Outer.String(), n.Round)
}

// EnterFrontier injects an outer frontier at round zero.
func EnterFrontier[T Timestamp[T]](f Antichain[T]) Antichain[Nested[T]] {
	ret := Antichain[Nested[T]]{}
	for _, t := range f.elements {
		ret.Insert(Enter(t))
	}
	return ret
}

// LeaveFrontier projects a nested frontier to the outer times.
func LeaveFrontier[T Timestamp[T]](f Antichain[Nested[T]]) Antichain[T] {
	ret := Antichain[T]{}
	for _, t := range f.elements {
		ret.Insert(t.Outer)
	}
	return ret
}
