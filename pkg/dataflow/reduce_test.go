package dataflow

import (
	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
)

var _ = Describe("Reduce", func() {
	var (
		w  *Worker[epoch]
		in *InputSession[int64, epoch]
		c  *Collection[int64, epoch]
	)

	BeforeEach(func() {
		w = NewWorker[epoch](testOptions())
		in, c = NewInput[int64](w)
	})

	AfterEach(func() {
		Expect(w.Close()).To(Succeed())
	})

	It("should count by value", func() {
		out := Count(c).Capture()
		in.Insert(3)
		in.Insert(5)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(out.Drain()).To(Equal([]Record[data.KV[int64, int64], epoch]{
			{Data: kv[int64, int64](3, 1), Time: 0, Diff: 1},
			{Data: kv[int64, int64](5, 1), Time: 0, Diff: 1},
		}))

		in.Insert(3)
		in.AdvanceTo(2)
		Expect(w.Step()).To(Succeed())
		Expect(out.Drain()).To(Equal([]Record[data.KV[int64, int64], epoch]{
			{Data: kv[int64, int64](3, 1), Time: 1, Diff: -1},
			{Data: kv[int64, int64](3, 2), Time: 1, Diff: 1},
		}))
	})

	It("should count the counts of values", func() {
		counts := Map(Count(c), func(kv data.KV[int64, int64]) int64 { return kv.Val })
		out := Count(counts).Capture()
		in.Update(1, 3)
		in.Update(2, 5)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(out.At(0)).To(Equal(map[data.KV[int64, int64]]int64{kv[int64, int64](3, 1): 1, kv[int64, int64](5, 1): 1}))
	})

	It("should produce nothing for empty batches", func() {
		out := Count(c).Capture()
		in.Insert(1)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(out.Drain()).To(HaveLen(1))

		for t := epoch(2); t < 5; t++ {
			in.AdvanceTo(t)
			Expect(w.Step()).To(Succeed())
			Expect(out.Drain()).To(BeEmpty())
		}

		in.Insert(1)
		in.Remove(1)
		in.AdvanceTo(6)
		Expect(w.Step()).To(Succeed())
		Expect(out.Drain()).To(BeEmpty())
	})

	It("should retract the output of keys that disappear", func() {
		out := Distinct(c).Capture()
		in.Update(4, 2)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(out.Drain()).To(Equal([]Record[int64, epoch]{{Data: 4, Time: 0, Diff: 1}}))

		in.Update(4, -2)
		in.AdvanceTo(2)
		Expect(w.Step()).To(Succeed())
		Expect(out.Drain()).To(Equal([]Record[int64, epoch]{{Data: 4, Time: 1, Diff: -1}}))
	})

	It("should apply thresholds", func() {
		out := Threshold(c, func(_ int64, n int64) int64 { return n * n }).Capture()
		in.Update(2, 3)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(out.At(0)).To(Equal(map[int64]int64{2: 9}))
	})

	It("should consolidate", func() {
		out := Consolidate(c.Concat(c.Negate(), c)).Capture()
		in.Insert(1)
		in.Insert(2)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(out.Drain()).To(Equal([]Record[int64, epoch]{{Data: 1, Time: 0, Diff: 1}, {Data: 2, Time: 0, Diff: 1}}))
	})

	It("should hold future times until they are complete", func() {
		out := Count(c).Capture()
		in.UpdateAt(7, 3, 1)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(out.Drain()).To(BeEmpty())
		Expect(w.Scope().Held()).To(Equal(frontier[epoch](3)))

		in.AdvanceTo(4)
		Expect(w.Step()).To(Succeed())
		Expect(out.Drain()).To(Equal([]Record[data.KV[int64, int64], epoch]{{Data: kv[int64, int64](7, 1), Time: 3, Diff: 1}}))
		Expect(w.Scope().Held().IsEmpty()).To(BeTrue())
	})
})

var _ = Describe("Reduce over partially ordered time", func() {
	It("should emit corrections at the join of incomparable times", func() {
		w := NewWorker[lattice.Pair](testOptions())
		in, c := NewInput[string](w)
		out := Count(c).Capture()

		a := lattice.Pair{First: 1, Second: 0}
		b := lattice.Pair{First: 0, Second: 1}
		in.UpdateAt("x", a, 1)
		in.UpdateAt("x", b, 1)
		in.AdvanceTo(lattice.Pair{First: 2, Second: 2})
		Expect(w.Step()).To(Succeed())

		Expect(out.At(a)).To(Equal(map[data.KV[string, int64]]int64{kv[string, int64]("x", 1): 1}))
		Expect(out.At(b)).To(Equal(map[data.KV[string, int64]]int64{kv[string, int64]("x", 1): 1}))
		Expect(out.At(lattice.Pair{First: 1, Second: 1})).To(Equal(map[data.KV[string, int64]]int64{kv[string, int64]("x", 2): 1}))
	})
})

var _ = Describe("Degree distribution", func() {
	type edge = data.Pair[int, int]

	recompute := func(edges map[edge]int64) map[data.KV[int64, int64]]int64 {
		degrees := map[int]int64{}
		for e, n := range edges {
			degrees[e.First] += n
		}
		dist := map[int64]int64{}
		for _, d := range degrees {
			if d != 0 {
				dist[d]++
			}
		}
		ret := map[data.KV[int64, int64]]int64{}
		for d, n := range dist {
			ret[data.NewKV(d, n)] = 1
		}
		return ret
	}

	build := func(edges *Collection[edge, epoch]) *Collection[data.KV[int64, int64], epoch] {
		degrees := Count(Map(edges, func(e edge) int { return e.First }))
		return Count(Map(degrees, func(kv data.KV[int, int64]) int64 { return kv.Val }))
	}

	It("should match recomputation from scratch without churn", func() {
		ctx := newIncrementalContext(build, recompute)

		out := ctx.Process(map[edge]int64{{First: 1, Second: 2}: 1, {First: 1, Second: 3}: 1, {First: 2, Second: 3}: 1})
		Expect(cmp.Diff(map[data.KV[int64, int64]]int64{kv[int64, int64](2, 1): 1, kv[int64, int64](1, 1): 1}, out)).To(BeEmpty())

		// the degree of node 1 does not change
		out = ctx.Process(map[edge]int64{{First: 1, Second: 3}: -1, {First: 1, Second: 4}: 1})
		Expect(out).To(BeEmpty())

		out = ctx.Process(map[edge]int64{{First: 3, Second: 1}: 1})
		Expect(cmp.Diff(map[data.KV[int64, int64]]int64{kv[int64, int64](1, 1): -1, kv[int64, int64](1, 2): 1}, out)).To(BeEmpty())

		out = ctx.Process(map[edge]int64{{First: 1, Second: 2}: -1, {First: 1, Second: 4}: -1, {First: 2, Second: 3}: -1, {First: 3, Second: 1}: -1})
		Expect(cmp.Diff(map[data.KV[int64, int64]]int64{kv[int64, int64](1, 2): -1, kv[int64, int64](2, 1): -1}, out)).To(BeEmpty())
	})

	It("should stay consistent over a long random-looking history", func() {
		ctx := newIncrementalContext(build, recompute)
		live := map[edge]bool{}
		for i := range 30 {
			d := map[edge]int64{}
			e := edge{First: (i * 7) % 5, Second: (i * 3) % 11}
			if live[e] {
				d[e] = -1
				delete(live, e)
			} else {
				d[e] = 1
				live[e] = true
			}
			ctx.Process(d)
		}
	})
})
