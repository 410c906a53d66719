package dataflow

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/l7mp/difflow/pkg/config"
	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/trace"
)

var _ = Describe("Scope", func() {
	It("should abort on an invariant violation inside an operator", func() {
		w := NewWorker[epoch](testOptions())
		in, c := NewInput[int](w)
		c.Inspect(func(r Record[int, epoch]) {
			if r.Data < 0 {
				trace.Fatalf("negative record %d", r.Data)
			}
		}).Capture()

		in.Insert(1)
		in.AdvanceTo(1)
		Expect(w.Step()).To(Succeed())

		in.Insert(-1)
		in.AdvanceTo(2)
		err := w.Step()
		Expect(err).To(HaveOccurred())
		var ie *trace.InvariantError
		Expect(errors.As(err, &ie)).To(BeTrue())
		Expect(ie.Message).To(Equal("negative record -1"))
		Expect(w.Scope().Err()).To(MatchError(err))

		in.AdvanceTo(3)
		Expect(w.Step()).To(MatchError(err))
	})

	It("should abort on a frontier regression", func() {
		w := NewWorker[epoch](testOptions())
		in, c := NewInput[int](w)
		c.Capture()
		in.AdvanceTo(2)
		Expect(w.Step()).To(Succeed())

		err := w.Scope().Step(frontier[epoch](1))
		Expect(err).To(HaveOccurred())
		Expect(trace.IsInvariantError(err)).To(BeTrue())
	})

	It("should reject inputs from different scopes", func() {
		w1 := NewWorker[epoch](testOptions())
		w2 := NewWorker[epoch](testOptions())
		_, c1 := NewInput[int](w1)
		_, c2 := NewInput[int](w2)
		Expect(func() { c1.Concat(c2) }).To(PanicWith(BeAssignableToTypeOf(&trace.InvariantError{})))
	})

	It("should refuse to step a closed worker", func() {
		w := NewWorker[epoch](testOptions())
		_, c := NewInput[int](w)
		Count(c).Capture()
		Expect(w.Close()).To(Succeed())
		Expect(w.Step()).To(MatchError(ErrClosed))
		Expect(w.Close()).To(MatchError(ErrClosed))
	})

	It("should drop arrangements once the worker is closed", func() {
		w := NewWorker[epoch](testOptions())
		_, c := NewInput[int](w)
		a := ArrangeBySelf(c)
		JoinArranged(a, a, func(k int, _, _ data.Unit) int { return k })
		Expect(a.Arrangement().Readers()).To(Equal(2))
		r := a.NewReader()
		Expect(a.Arrangement().Readers()).To(Equal(3))
		r.Close()
		Expect(w.Close()).To(Succeed())
		Expect(a.Arrangement().IsDropped()).To(BeTrue())
	})

	It("should report metrics", func() {
		reg := prometheus.NewRegistry()
		c := config.Default()
		w := NewWorker[epoch](Options{Config: &c, Logger: GinkgoLogr, Registerer: reg})
		in, coll := NewInput[int](w)
		Count(coll).Capture()
		for t := range epoch(4) {
			in.Insert(int(t))
			in.AdvanceTo(t + 1)
			Expect(w.Step()).To(Succeed())
		}

		n, err := testutil.GatherAndCount(reg, "difflow_operator_schedule_duration_seconds")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(len(w.Scope().Operators())))

		n, err = testutil.GatherAndCount(reg, "difflow_trace_batches_inserted_total")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
	})
})
