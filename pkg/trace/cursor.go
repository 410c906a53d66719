package trace

import (
	"sort"

	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
)

// Cursor navigates the updates of a batch or a trace: first keys, then the values of the
// current key, then the (time, diff) pairs of the current value. Keys and values are visited in
// data.Compare order.
type Cursor[K, V comparable, T lattice.Timestamp[T]] interface {
	// KeyValid reports whether the cursor points at a key.
	KeyValid() bool
	// Key returns the current key.
	Key() K
	// StepKey moves to the next key.
	StepKey()
	// SeekKey moves forward to the first key greater or equal to key.
	SeekKey(key K)
	// RewindKeys moves back to the first key.
	RewindKeys()

	// ValValid reports whether the cursor points at a value of the current key.
	ValValid() bool
	// Val returns the current value.
	Val() V
	// StepVal moves to the next value of the current key.
	StepVal()
	// RewindVals moves back to the first value of the current key.
	RewindVals()

	// MapTimes calls logic with every (time, diff) pair of the current value.
	MapTimes(logic func(t T, diff int64))
}

// batchCursor walks the sorted update slice of one batch.
type batchCursor[K, V comparable, T lattice.Timestamp[T]] struct {
	updates        []Update[K, V, T]
	keyPos, keyEnd int
	valPos, valEnd int
}

func newBatchCursor[K, V comparable, T lattice.Timestamp[T]](updates []Update[K, V, T]) *batchCursor[K, V, T] {
	c := &batchCursor[K, V, T]{updates: updates}
	c.RewindKeys()
	return c
}

func (c *batchCursor[K, V, T]) KeyValid() bool { return c.keyPos < len(c.updates) }
func (c *batchCursor[K, V, T]) Key() K         { return c.updates[c.keyPos].Key }
func (c *batchCursor[K, V, T]) ValValid() bool { return c.valPos < c.keyEnd }
func (c *batchCursor[K, V, T]) Val() V         { return c.updates[c.valPos].Val }

func (c *batchCursor[K, V, T]) StepKey() {
	c.keyPos = c.keyEnd
	c.findKey()
}

func (c *batchCursor[K, V, T]) SeekKey(key K) {
	if !c.KeyValid() {
		return
	}
	rest := c.updates[c.keyPos:]
	c.keyPos += sort.Search(len(rest), func(i int) bool { return data.Compare(rest[i].Key, key) >= 0 })
	c.findKey()
}

func (c *batchCursor[K, V, T]) RewindKeys() {
	c.keyPos = 0
	c.findKey()
}

func (c *batchCursor[K, V, T]) StepVal() {
	c.valPos = c.valEnd
	c.findVal()
}

func (c *batchCursor[K, V, T]) RewindVals() {
	c.valPos = c.keyPos
	c.findVal()
}

func (c *batchCursor[K, V, T]) MapTimes(logic func(T, int64)) {
	for i := c.valPos; i < c.valEnd; i++ {
		logic(c.updates[i].Time, c.updates[i].Diff)
	}
}

func (c *batchCursor[K, V, T]) findKey() {
	c.keyEnd = c.keyPos
	if c.keyPos < len(c.updates) {
		key := c.updates[c.keyPos].Key
		for c.keyEnd < len(c.updates) && c.updates[c.keyEnd].Key == key {
			c.keyEnd++
		}
	}
	c.RewindVals()
}

func (c *batchCursor[K, V, T]) findVal() {
	c.valEnd = c.valPos
	if c.valPos < c.keyEnd {
		val := c.updates[c.valPos].Val
		for c.valEnd < c.keyEnd && c.updates[c.valEnd].Val == val {
			c.valEnd++
		}
	}
}

// cursorList merges several cursors, e.g., one per batch of a trace, into one.
type cursorList[K, V comparable, T lattice.Timestamp[T]] struct {
	cursors []Cursor[K, V, T]
	minKey  []int // cursors positioned at the smallest key
	minVal  []int // of those, cursors positioned at the smallest value
}

func newCursorList[K, V comparable, T lattice.Timestamp[T]](cursors []Cursor[K, V, T]) *cursorList[K, V, T] {
	c := &cursorList[K, V, T]{cursors: cursors}
	c.minimizeKeys()
	return c
}

func (c *cursorList[K, V, T]) KeyValid() bool { return len(c.minKey) > 0 }
func (c *cursorList[K, V, T]) Key() K         { return c.cursors[c.minKey[0]].Key() }
func (c *cursorList[K, V, T]) ValValid() bool { return len(c.minVal) > 0 }
func (c *cursorList[K, V, T]) Val() V         { return c.cursors[c.minVal[0]].Val() }

func (c *cursorList[K, V, T]) StepKey() {
	for _, i := range c.minKey {
		c.cursors[i].StepKey()
	}
	c.minimizeKeys()
}

func (c *cursorList[K, V, T]) SeekKey(key K) {
	for _, cur := range c.cursors {
		cur.SeekKey(key)
	}
	c.minimizeKeys()
}

func (c *cursorList[K, V, T]) RewindKeys() {
	for _, cur := range c.cursors {
		cur.RewindKeys()
	}
	c.minimizeKeys()
}

func (c *cursorList[K, V, T]) StepVal() {
	for _, i := range c.minVal {
		c.cursors[i].StepVal()
	}
	c.minimizeVals()
}

func (c *cursorList[K, V, T]) RewindVals() {
	for _, i := range c.minKey {
		c.cursors[i].RewindVals()
	}
	c.minimizeVals()
}

func (c *cursorList[K, V, T]) MapTimes(logic func(T, int64)) {
	for _, i := range c.minVal {
		c.cursors[i].MapTimes(logic)
	}
}

func (c *cursorList[K, V, T]) minimizeKeys() {
	c.minKey = c.minKey[:0]
	for i, cur := range c.cursors {
		if !cur.KeyValid() {
			continue
		}
		if len(c.minKey) == 0 {
			c.minKey = append(c.minKey, i)
			continue
		}
		switch cmp := data.Compare(cur.Key(), c.cursors[c.minKey[0]].Key()); {
		case cmp < 0:
			c.minKey = append(c.minKey[:0], i)
		case cmp == 0:
			c.minKey = append(c.minKey, i)
		}
	}
	c.minimizeVals()
}

func (c *cursorList[K, V, T]) minimizeVals() {
	c.minVal = c.minVal[:0]
	for _, i := range c.minKey {
		cur := c.cursors[i]
		if !cur.ValValid() {
			continue
		}
		if len(c.minVal) == 0 {
			c.minVal = append(c.minVal, i)
			continue
		}
		switch cmp := data.Compare(cur.Val(), c.cursors[c.minVal[0]].Val()); {
		case cmp < 0:
			c.minVal = append(c.minVal[:0], i)
		case cmp == 0:
			c.minVal = append(c.minVal, i)
		}
	}
}
