package lattice

import (
	"cmp"
	"fmt"
	"strconv"
)

// Timestamp is the constraint on logical times. The zero value of a time type must be its
// minimum element.
type Timestamp[T any] interface {
	comparable
	fmt.Stringer

	// LessEqual is the partial order of the lattice.
	LessEqual(other T) bool
	// Join returns the least upper bound of two times.
	Join(other T) T
	// Meet returns the greatest lower bound of two times.
	Meet(other T) T
	// Compare is a total order consistent with LessEqual: if a <= b then a.Compare(b) <= 0.
	Compare(other T) int
}

// LessThan reports whether a is strictly below b in the partial order.
func LessThan[T Timestamp[T]](a, b T) bool {
	return a != b && a.LessEqual(b)
}

// Epoch is a totally ordered time.
type Epoch uint64

func (e Epoch) LessEqual(other Epoch) bool { return e <= other }
func (e Epoch) Join(other Epoch) Epoch     { return max(e, other) }
func (e Epoch) Meet(other Epoch) Epoch     { return min(e, other) }
func (e Epoch) Compare(other Epoch) int    { return cmp.Compare(e, other) }
func (e Epoch) String() string             { return strconv.FormatUint(uint64(e), 10) }

// Pair is a time of two coordinates ordered by the product order: (a1, b1) <= (a2, b2) iff a1 <=
// a2 and b1 <= b2. Times like (1, 0) and (0, 1) are incomparable.
type Pair struct {
	First, Second uint64
}

func (p Pair) LessEqual(other Pair) bool {
	return p.First <= other.First && p.Second <= other.Second
}

func (p Pair) Join(other Pair) Pair {
	return Pair{First: max(p.First, other.First), Second: max(p.Second, other.Second)}
}

func (p Pair) Meet(other Pair) Pair {
	return Pair{First: min(p.First, other.First), Second: min(p.Second, other.Second)}
}

func (p Pair) Compare(other Pair) int {
	if c := cmp.Compare(p.First, other.First); c != 0 {
		return c
	}
	return cmp.Compare(p.Second, other.Second)
}

func (p Pair) String() string {
	return fmt.Sprintf("(%d, %d)", p.First, p.Second)
}
