package dataflow

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/difflow/pkg/config"
	"github.com/l7mp/difflow/pkg/data"
	"github.com/l7mp/difflow/pkg/trace"
)

// merged accumulates the captures of every worker at t.
func merged[D comparable](captures []*Capture[D, epoch], t epoch) map[D]int64 {
	ret := map[D]int64{}
	for _, c := range captures {
		for d, n := range c.At(t) {
			ret[d] += n
		}
	}
	return ret
}

var _ = Describe("Cluster", func() {
	var ctx context.Context
	var cancel context.CancelFunc

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	})

	AfterEach(func() {
		cancel()
	})

	workers := func(n int) func(*config.Config) {
		return func(c *config.Config) { c.Workers = n }
	}

	It("should partition counts between workers", func() {
		var (
			inputs   []*InputSession[string, epoch]
			captures []*Capture[data.KV[string, int64], epoch]
		)
		cl, err := NewCluster(testOptions(workers(3)), func(w *Worker[epoch]) error {
			in, c := NewInput[string](w)
			inputs = append(inputs, in)
			captures = append(captures, Count(c).Capture())
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(cl.Workers()).To(Equal(3))

		step := func(t epoch) {
			for _, in := range inputs {
				in.AdvanceTo(t)
			}
			ExpectWithOffset(1, cl.Step(ctx)).To(Succeed())
		}

		words := []string{"a", "b", "a", "c", "a", "b"}
		for i, word := range words {
			inputs[i%3].Insert(word)
		}
		step(1)
		Expect(merged(captures, 0)).To(Equal(map[data.KV[string, int64]]int64{
			kv[string, int64]("a", 3): 1,
			kv[string, int64]("b", 2): 1,
			kv[string, int64]("c", 1): 1,
		}))

		// every key is counted on exactly one worker
		owners := map[string]int{}
		for i, c := range captures {
			for d := range c.At(0) {
				_, dup := owners[d.Key]
				Expect(dup).To(BeFalse())
				owners[d.Key] = i
			}
		}

		inputs[2].Remove("a")
		inputs[0].Insert("d")
		step(2)
		Expect(merged(captures, 1)).To(Equal(map[data.KV[string, int64]]int64{
			kv[string, int64]("a", 2): 1,
			kv[string, int64]("b", 2): 1,
			kv[string, int64]("c", 1): 1,
			kv[string, int64]("d", 1): 1,
		}))
		Expect(cl.Close()).To(Succeed())
	})

	It("should agree on convergence of iterative scopes", func() {
		var (
			roots    []*InputSession[int, epoch]
			edges    []*InputSession[data.KV[int, int], epoch]
			captures []*Capture[int, epoch]
		)
		cl, err := NewCluster(testOptions(workers(2)), func(w *Worker[epoch]) error {
			r, rc := NewInput[int](w)
			e, ec := NewInput[data.KV[int, int]](w)
			result, _ := reachability(rc, ec)
			roots = append(roots, r)
			edges = append(edges, e)
			captures = append(captures, result.Capture())
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		roots[0].Insert(1)
		for i, p := range [][2]int{{1, 2}, {2, 3}, {3, 4}, {4, 5}, {7, 8}} {
			edges[i%2].Insert(data.NewKV(p[0], p[1]))
		}
		for i := range 2 {
			roots[i].AdvanceTo(1)
			edges[i].AdvanceTo(1)
		}
		Expect(cl.Step(ctx)).To(Succeed())
		Expect(merged(captures, 0)).To(Equal(map[int]int64{1: 1, 2: 1, 3: 1, 4: 1, 5: 1}))

		edges[1].Remove(data.NewKV(3, 4))
		for i := range 2 {
			roots[i].AdvanceTo(2)
			edges[i].AdvanceTo(2)
		}
		Expect(cl.Step(ctx)).To(Succeed())
		Expect(merged(captures, 1)).To(Equal(map[int]int64{1: 1, 2: 1, 3: 1}))
		Expect(cl.Close()).To(Succeed())
	})

	It("should fail the exchange when the step context is cancelled", func() {
		var inputs []*InputSession[int, epoch]
		cl, err := NewCluster(testOptions(workers(2)), func(w *Worker[epoch]) error {
			in, c := NewInput[int](w)
			inputs = append(inputs, in)
			Distinct(c).Capture()
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		inputs[0].Insert(1)
		inputs[1].Insert(2)
		for _, in := range inputs {
			in.AdvanceTo(1)
		}
		cancel()
		err = cl.Step(ctx)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("failed to exchange records"))

		// both scopes are aborted
		for i := range cl.Workers() {
			Expect(cl.Worker(i).Scope().Err()).To(HaveOccurred())
		}
	})

	It("should reject an invalid configuration", func() {
		_, err := NewCluster(testOptions(workers(0)), func(*Worker[epoch]) error { return nil })
		Expect(err).To(HaveOccurred())
	})

	It("should cancel the other workers when one fails", func() {
		var inputs []*InputSession[int, epoch]
		cl, err := NewCluster(testOptions(workers(2)), func(w *Worker[epoch]) error {
			in, c := NewInput[int](w)
			inputs = append(inputs, in)
			if w.Index() == 0 {
				c = c.Inspect(func(r Record[int, epoch]) {
					if r.Data < 0 {
						trace.Fatalf("negative record %d", r.Data)
					}
				})
			}
			Count(c).Capture()
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		// worker 0 aborts before the exchange, worker 1 waits at the barrier until cancelled
		inputs[0].Insert(-1)
		for _, in := range inputs {
			in.AdvanceTo(1)
		}
		err = cl.Step(ctx)
		Expect(err).To(HaveOccurred())
		Expect(trace.IsInvariantError(err)).To(BeTrue())
		Expect(ctx.Err()).NotTo(HaveOccurred())
	})
})
