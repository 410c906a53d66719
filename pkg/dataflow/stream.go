package dataflow

import (
	"fmt"
	"slices"

	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
)

// Record is one change to a collection: Data changes its multiplicity by Diff at Time.
type Record[D comparable, T lattice.Timestamp[T]] struct {
	Data D
	Time T
	Diff int64
}

func (r Record[D, T]) String() string {
	return fmt.Sprintf("(%v, %s, %+d)", r.Data, r.Time, r.Diff)
}

func compareRecords[D comparable, T lattice.Timestamp[T]](a, b Record[D, T]) int {
	if c := a.Time.Compare(b.Time); c != 0 {
		return c
	}
	return data.Compare(a.Data, b.Data)
}

// consolidateRecords sorts records by time and data and sums the diffs of equal records,
// dropping the ones that cancel.
func consolidateRecords[D comparable, T lattice.Timestamp[T]](recs []Record[D, T]) []Record[D, T] {
	if len(recs) == 0 {
		return nil
	}
	slices.SortFunc(recs, compareRecords[D, T])
	ret := recs[:0]
	for _, r := range recs {
		if n := len(ret); n > 0 && ret[n-1].Data == r.Data && ret[n-1].Time == r.Time {
			ret[n-1].Diff += r.Diff
			if ret[n-1].Diff == 0 {
				ret = ret[:n-1]
			}
			continue
		}
		if r.Diff != 0 {
			ret = append(ret, r)
		}
	}
	return ret
}

// stream fans the records of one collection out to its consumers. Every consumer subscribes its
// own queue.
type stream[D comparable, T lattice.Timestamp[T]] struct {
	queues []*queue[D, T]
}

func newStream[D comparable, T lattice.Timestamp[T]]() *stream[D, T] {
	return &stream[D, T]{}
}

func (s *stream[D, T]) subscribe() *queue[D, T] {
	q := &queue[D, T]{}
	s.queues = append(s.queues, q)
	return q
}

func (s *stream[D, T]) push(recs []Record[D, T]) {
	if len(recs) == 0 {
		return
	}
	for _, q := range s.queues {
		q.records = append(q.records, recs...)
	}
}

type queue[D comparable, T lattice.Timestamp[T]] struct {
	records []Record[D, T]
}

func (q *queue[D, T]) drain() []Record[D, T] {
	recs := q.records
	q.records = nil
	return recs
}
