package dataflow

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
)

var _ = Describe("Join", func() {
	var (
		w     *Worker[epoch]
		left  *InputSession[data.KV[int, string], epoch]
		right *InputSession[data.KV[int, string], epoch]
		out   *Capture[string, epoch]
	)

	combine := func(k int, a, b string) string { return fmt.Sprintf("%d:%s%s", k, a, b) }

	step := func(t epoch) {
		left.AdvanceTo(t)
		right.AdvanceTo(t)
		ExpectWithOffset(1, w.Step()).To(Succeed())
	}

	BeforeEach(func() {
		w = NewWorker[epoch](testOptions())
		var l, r *Collection[data.KV[int, string], epoch]
		left, l = NewInput[data.KV[int, string]](w)
		right, r = NewInput[data.KV[int, string]](w)
		out = Join(l, r, combine).Capture()
	})

	AfterEach(func() {
		Expect(w.Close()).To(Succeed())
	})

	It("should emit one match at the join of the times and retract it", func() {
		left.Insert(kv(1, "a1"))
		step(1)
		Expect(out.Drain()).To(BeEmpty())

		right.Insert(kv(1, "b1"))
		step(2)
		Expect(out.Drain()).To(Equal([]Record[string, epoch]{{Data: "1:a1b1", Time: 1, Diff: 1}}))

		left.Remove(kv(1, "a1"))
		step(3)
		Expect(out.Drain()).To(Equal([]Record[string, epoch]{{Data: "1:a1b1", Time: 2, Diff: -1}}))
		Expect(out.At(3)).To(BeEmpty())
	})

	It("should match updates arriving in the same step exactly once", func() {
		left.Insert(kv(1, "a"))
		left.Insert(kv(2, "a"))
		right.Insert(kv(1, "b"))
		right.Insert(kv(1, "c"))
		right.Insert(kv(3, "b"))
		step(1)
		Expect(out.Drain()).To(Equal([]Record[string, epoch]{
			{Data: "1:ab", Time: 0, Diff: 1},
			{Data: "1:ac", Time: 0, Diff: 1},
		}))
	})

	It("should multiply the multiplicities", func() {
		left.Update(kv(1, "a"), 2)
		right.Update(kv(1, "b"), 3)
		step(1)
		Expect(out.At(0)).To(Equal(map[string]int64{"1:ab": 6}))

		right.Update(kv(1, "b"), -1)
		step(2)
		Expect(out.At(1)).To(Equal(map[string]int64{"1:ab": 4}))
	})

	It("should stay correct across many steps with compaction", func() {
		expected := map[string]int64{}
		for i := range 20 {
			t := epoch(i)
			left.Insert(kv(i%3, fmt.Sprint(i)))
			right.Insert(kv(i%3, fmt.Sprint(i)))
			for j := 0; j <= i; j++ {
				if j%3 == i%3 {
					expected[fmt.Sprintf("%d:%d%d", i%3, i, j)]++
					if j != i {
						expected[fmt.Sprintf("%d:%d%d", i%3, j, i)]++
					}
				}
			}
			step(t + 1)
			Expect(out.At(t)).To(Equal(expected))
		}
	})
})

var _ = Describe("Join over partially ordered time", func() {
	It("should emit at the lattice join of the input times", func() {
		w := NewWorker[lattice.Pair](testOptions())
		left, l := NewInput[data.KV[int, string]](w)
		right, r := NewInput[data.KV[int, string]](w)
		out := Join(l, r, func(_ int, a, b string) string { return a + b }).Capture()

		left.UpdateAt(kv(1, "a"), lattice.Pair{First: 1, Second: 0}, 1)
		right.UpdateAt(kv(1, "b"), lattice.Pair{First: 0, Second: 1}, 1)
		left.AdvanceTo(lattice.Pair{First: 2, Second: 2})
		right.AdvanceTo(lattice.Pair{First: 2, Second: 2})
		Expect(w.Step()).To(Succeed())

		Expect(out.Drain()).To(Equal([]Record[string, lattice.Pair]{
			{Data: "ab", Time: lattice.Pair{First: 1, Second: 1}, Diff: 1},
		}))
		Expect(out.At(lattice.Pair{First: 1, Second: 0})).To(BeEmpty())
		Expect(out.At(lattice.Pair{First: 1, Second: 1})).To(Equal(map[string]int64{"ab": 1}))
	})
})

var _ = Describe("Semijoin and Antijoin", func() {
	It("should filter pairs by key presence", func() {
		w := NewWorker[epoch](testOptions())
		pairs, p := NewInput[data.KV[int, string]](w)
		keys, k := NewInput[int](w)
		semi := Semijoin(p, k).Capture()
		anti := Antijoin(p, k).Capture()

		pairs.Insert(kv(1, "a"))
		pairs.Insert(kv(2, "b"))
		keys.Insert(1)
		pairs.AdvanceTo(1)
		keys.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(semi.At(0)).To(Equal(map[data.KV[int, string]]int64{kv(1, "a"): 1}))
		Expect(anti.At(0)).To(Equal(map[data.KV[int, string]]int64{kv(2, "b"): 1}))

		keys.Remove(1)
		keys.Insert(2)
		pairs.AdvanceTo(2)
		keys.AdvanceTo(2)
		Expect(w.Step()).To(Succeed())
		Expect(semi.At(1)).To(Equal(map[data.KV[int, string]]int64{kv(2, "b"): 1}))
		Expect(anti.At(1)).To(Equal(map[data.KV[int, string]]int64{kv(1, "a"): 1}))
	})
})
