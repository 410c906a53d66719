// Package data provides the ordering and weighting of the values that flow through a dataflow.
//
// Collections hold arbitrary comparable Go values. Indexes need a total order on them, which
// Compare provides: types with a Compare method order themselves, builtin scalars use their
// natural order, pointers order by address and anything else is ordered by its Go-syntax
// rendering. Types whose rendering does not decide ==, e.g. structs holding float fields that may
// be negative zero, must implement Comparable.
package data

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
)

// Comparable is implemented by values that define their own total order.
type Comparable[T any] interface {
	Compare(other T) int
}

// Compare is the total order used to sort data. It must be consistent with ==.
func Compare[D any](a, b D) int {
	if x, ok := any(a).(Comparable[D]); ok {
		return x.Compare(b)
	}
	return compareAny(any(a), any(b))
}

func compareAny(a, b any) int {
	switch x := a.(type) {
	case int:
		return cmp.Compare(x, b.(int))
	case int8:
		return cmp.Compare(x, b.(int8))
	case int16:
		return cmp.Compare(x, b.(int16))
	case int32:
		return cmp.Compare(x, b.(int32))
	case int64:
		return cmp.Compare(x, b.(int64))
	case uint:
		return cmp.Compare(x, b.(uint))
	case uint8:
		return cmp.Compare(x, b.(uint8))
	case uint16:
		return cmp.Compare(x, b.(uint16))
	case uint32:
		return cmp.Compare(x, b.(uint32))
	case uint64:
		return cmp.Compare(x, b.(uint64))
	case float32:
		return cmp.Compare(x, b.(float32))
	case float64:
		return cmp.Compare(x, b.(float64))
	case string:
		return cmp.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	}

	// Named scalar types and references.
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.IsValid() && vb.IsValid() && va.Type() == vb.Type() {
		switch va.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return cmp.Compare(va.Int(), vb.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return cmp.Compare(va.Uint(), vb.Uint())
		case reflect.Float32, reflect.Float64:
			return cmp.Compare(va.Float(), vb.Float())
		case reflect.String:
			return cmp.Compare(va.String(), vb.String())
		case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
			// identity, like ==
			return cmp.Compare(va.Pointer(), vb.Pointer())
		}
	}

	// Fall back to the Go-syntax representation, prefixed with the type so that distinct
	// dynamic types never collide.
	return cmp.Compare(fmt.Sprintf("%T:%#v", a, a), fmt.Sprintf("%T:%#v", b, b))
}

// Unit is the empty value, used as the value of collections arranged by themselves.
type Unit struct{}

func (Unit) Compare(Unit) int { return 0 }
func (Unit) String() string   { return "()" }

// KV is a key-value record.
type KV[K, V comparable] struct {
	Key K
	Val V
}

// NewKV is a shorthand to create a KV.
func NewKV[K, V comparable](k K, v V) KV[K, V] { return KV[K, V]{Key: k, Val: v} }

func (kv KV[K, V]) Compare(other KV[K, V]) int {
	if c := Compare(kv.Key, other.Key); c != 0 {
		return c
	}
	return Compare(kv.Val, other.Val)
}

func (kv KV[K, V]) String() string { return fmt.Sprintf("%v:%v", kv.Key, kv.Val) }

// Pair is an ordered pair of values, e.g., the result of a join.
type Pair[A, B comparable] struct {
	First  A
	Second B
}

func (p Pair[A, B]) Compare(other Pair[A, B]) int {
	if c := Compare(p.First, other.First); c != 0 {
		return c
	}
	return Compare(p.Second, other.Second)
}

func (p Pair[A, B]) String() string { return fmt.Sprintf("(%v, %v)", p.First, p.Second) }

// Weighted is a value with a multiplicity.
type Weighted[D any] struct {
	Value D
	Diff  int64
}

func (w Weighted[D]) String() string { return fmt.Sprintf("%v:%+d", w.Value, w.Diff) }

// Consolidate sorts a weighted list, sums the weights of equal values and drops values with
// zero weight. The input slice is reused.
func Consolidate[D comparable](ws []Weighted[D]) []Weighted[D] {
	slices.SortStableFunc(ws, func(a, b Weighted[D]) int { return Compare(a.Value, b.Value) })
	ret := ws[:0]
	for _, w := range ws {
		if n := len(ret); n > 0 && ret[n-1].Value == w.Value {
			ret[n-1].Diff += w.Diff
			continue
		}
		ret = append(ret, w)
	}
	out := ret[:0]
	for _, w := range ret {
		if w.Diff != 0 {
			out = append(out, w)
		}
	}
	return out
}

// Total returns the sum of the weights.
func Total[D any](ws []Weighted[D]) int64 {
	var n int64
	for _, w := range ws {
		n += w.Diff
	}
	return n
}
