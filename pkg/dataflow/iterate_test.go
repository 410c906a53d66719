package dataflow

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/difflow/pkg/config"
	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/lattice"
)

type nested = lattice.Nested[epoch]

// reachability returns the nodes reachable from roots along edges.
func reachability(roots *Collection[int, epoch], edges *Collection[data.KV[int, int], epoch]) (*Collection[int, epoch], *Loop) {
	return Iterate(roots, func(x *Collection[int, nested]) *Collection[int, nested] {
		e := Enter(edges, x.Scope())
		from := Map(x, func(n int) data.KV[int, data.Unit] { return data.NewKV(n, data.Unit{}) })
		next := Join(from, e, func(_ int, _ data.Unit, dst int) int { return dst })
		return Distinct(x.Concat(next))
	})
}

var _ = Describe("Iterate", func() {
	It("should converge immediately on a fixed point", func() {
		w := NewWorker[epoch](testOptions())
		in, c := NewInput[int](w)
		result, loop := Iterate(c, func(x *Collection[int, nested]) *Collection[int, nested] {
			return Distinct(x)
		})
		out := result.Capture()
		Expect(loop.State()).To(Equal(LoopInitial))

		in.Insert(1)
		in.Insert(2)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(loop.State()).To(Equal(LoopConverged))
		Expect(out.At(0)).To(Equal(map[int]int64{1: 1, 2: 1}))

		// nothing changes: a single round with empty feedback
		in.AdvanceTo(2)
		Expect(w.Step()).To(Succeed())
		Expect(loop.State()).To(Equal(LoopConverged))
		Expect(loop.Rounds()).To(Equal(1))
		Expect(out.Drain()).To(HaveLen(2))
		Expect(out.Drain()).To(BeEmpty())
		Expect(loop.TotalRounds()).To(BeNumerically(">=", 2))
		Expect(w.Close()).To(Succeed())
	})

	It("should compute transitive reachability and maintain it", func() {
		w := NewWorker[epoch](testOptions())
		roots, r := NewInput[int](w)
		edges, e := NewInput[data.KV[int, int]](w)
		result, loop := reachability(r, e)
		out := result.Capture()

		step := func(t epoch) {
			roots.AdvanceTo(t)
			edges.AdvanceTo(t)
			ExpectWithOffset(1, w.Step()).To(Succeed())
		}

		roots.Insert(1)
		for _, p := range [][2]int{{1, 2}, {2, 3}, {3, 4}, {5, 6}} {
			edges.Insert(data.NewKV(p[0], p[1]))
		}
		step(1)
		Expect(out.At(0)).To(Equal(map[int]int64{1: 1, 2: 1, 3: 1, 4: 1}))
		Expect(loop.State()).To(Equal(LoopConverged))
		Expect(loop.Rounds()).To(BeNumerically(">=", 4))

		edges.Remove(data.NewKV(2, 3))
		step(2)
		Expect(out.At(1)).To(Equal(map[int]int64{1: 1, 2: 1}))

		edges.Insert(data.NewKV(2, 5))
		step(3)
		Expect(out.At(2)).To(Equal(map[int]int64{1: 1, 2: 1, 5: 1, 6: 1}))

		roots.Insert(3)
		step(4)
		Expect(out.At(3)).To(Equal(map[int]int64{1: 1, 2: 1, 3: 1, 4: 1, 5: 1, 6: 1}))

		// cycles converge as well
		edges.Insert(data.NewKV(6, 1))
		step(5)
		Expect(out.At(4)).To(Equal(map[int]int64{1: 1, 2: 1, 3: 1, 4: 1, 5: 1, 6: 1}))
		Expect(w.Close()).To(Succeed())
	})

	It("should fail when the round limit is hit", func() {
		w := NewWorker[epoch](testOptions(func(c *config.Config) { c.Iterate.MaxRounds = 2 }))
		roots, r := NewInput[int](w)
		edges, e := NewInput[data.KV[int, int]](w)
		result, _ := reachability(r, e)
		result.Capture()

		roots.Insert(1)
		for i := 1; i < 10; i++ {
			edges.Insert(data.NewKV(i, i+1))
		}
		roots.AdvanceTo(1)
		edges.AdvanceTo(1)
		err := w.Step()
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, ErrRoundLimit)).To(BeTrue())

		// the scope stays aborted
		Expect(w.Step()).To(MatchError(err))
	})
})
