package dataflow

import (
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/trace"
)

var _ = Describe("Collection", func() {
	var (
		w  *Worker[epoch]
		in *InputSession[int, epoch]
		c  *Collection[int, epoch]
	)

	BeforeEach(func() {
		w = NewWorker[epoch](testOptions())
		in, c = NewInput[int](w)
	})

	AfterEach(func() {
		Expect(w.Close()).To(Succeed())
	})

	It("should map, filter and negate", func() {
		out := Map(c.Filter(func(i int) bool { return i%2 == 0 }), strconv.Itoa).Negate().Capture()
		for i := range 5 {
			in.Insert(i)
		}
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(out.Drain()).To(Equal([]Record[string, epoch]{
			{Data: "0", Time: 0, Diff: -1},
			{Data: "2", Time: 0, Diff: -1},
			{Data: "4", Time: 0, Diff: -1},
		}))
	})

	It("should flatmap and concat", func() {
		twice := FlatMap(c, func(i int) []int { return []int{i, i} })
		out := c.Concat(twice).Capture()
		in.Insert(7)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(out.At(0)).To(Equal(map[int]int64{7: 3}))
	})

	It("should inspect records in passing", func() {
		var seen []Record[int, epoch]
		out := c.Inspect(func(r Record[int, epoch]) { seen = append(seen, r) }).Capture()
		in.Insert(1)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())
		Expect(seen).To(HaveLen(1))
		Expect(out.Records()).To(Equal(seen))
	})

	It("should accumulate captured records by time", func() {
		out := c.Capture()
		in.Insert(1)
		in.Insert(2)
		in.AdvanceTo(1)
		in.Remove(1)
		in.UpdateAt(3, 5, 2)
		in.AdvanceTo(2)
		Expect(w.Step()).To(Succeed())

		Expect(out.At(0)).To(Equal(map[int]int64{1: 1, 2: 1}))
		Expect(out.At(1)).To(Equal(map[int]int64{2: 1}))
		Expect(out.At(5)).To(Equal(map[int]int64{2: 1, 3: 2}))
		Expect(out.Drain()).To(HaveLen(4))
		Expect(out.Drain()).To(BeEmpty())
	})

	It("should only publish the input frontier on flush", func() {
		in.AdvanceTo(3)
		Expect(w.Frontier()).To(Equal(lattice.Minimum[epoch]()))
		in.Flush()
		Expect(w.Frontier()).To(Equal(frontier[epoch](3)))
		in.Close()
		Expect(w.Frontier().IsEmpty()).To(BeTrue())
	})

	It("should report progress through probes", func() {
		p := c.Probe()
		in.AdvanceTo(2)
		Expect(w.Step()).To(Succeed())
		Expect(p.Frontier()).To(Equal(frontier[epoch](2)))
		Expect(p.Done(1)).To(BeTrue())
		Expect(p.Done(2)).To(BeFalse())
	})

	It("should reject updates behind the session time", func() {
		in.AdvanceTo(2)
		Expect(func() { in.UpdateAt(1, 1, 1) }).To(PanicWith(BeAssignableToTypeOf(&trace.InvariantError{})))
		Expect(func() { in.AdvanceTo(1) }).To(PanicWith(BeAssignableToTypeOf(&trace.InvariantError{})))
	})

	It("should render the operator plan", func() {
		Count(c).Capture()
		Expect(w.Scope().Plan()).To(Equal("input-1\n" +
			"arrange-2 <- input-1\n" +
			"reduce-3 <- arrange-2\n" +
			"flatten-4 <- reduce-3\n" +
			"capture-5 <- flatten-4\n"))
		Expect(w.Scope().Operators()).To(Equal([]string{"arrange-2", "reduce-3", "flatten-4", "capture-5"}))
		Expect(w.Scope().Sources()).To(Equal([]string{"input-1"}))
		Expect(w.Scope().Sinks()).To(Equal([]string{"capture-5"}))
		Expect(w.Scope().Consumers("input-1")).To(Equal([]string{"arrange-2"}))
	})

	It("should list every consumer of a shared node", func() {
		c.Filter(func(int) bool { return true }).Capture()
		c.Negate().Capture()
		Expect(w.Scope().Consumers("input-1")).To(Equal([]string{"filter-2", "negate-4"}))
		Expect(w.Scope().Sinks()).To(Equal([]string{"capture-3", "capture-5"}))
	})
})
