package dataflow

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Barrier", func() {
	arrived := func(b *barrier) int {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.count
	}

	rendezvous := func(b *barrier, n int) {
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- b.wait(context.Background())
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}
	}

	It("should release all parties together", func() {
		b := newBarrier(3)
		rendezvous(b, 3)
		rendezvous(b, 3)
		Expect(arrived(b)).To(BeZero())
	})

	It("should not count a waiter with a cancelled context", func() {
		b := newBarrier(2)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(b.wait(ctx)).To(MatchError(context.Canceled))
		Expect(arrived(b)).To(BeZero())
		rendezvous(b, 2)
	})

	It("should withdraw a waiter cancelled while blocked", func() {
		b := newBarrier(2)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- b.wait(ctx) }()
		Eventually(func() int { return arrived(b) }).Should(Equal(1))

		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
		Expect(arrived(b)).To(BeZero())

		// the next round needs both parties again
		rendezvous(b, 2)
		Expect(arrived(b)).To(BeZero())
	})
})

var _ = Describe("Key hashing", func() {
	It("should hash equal keys equally", func() {
		Expect(hashKey(42)).To(Equal(hashKey(42)))
		Expect(hashKey("a")).To(Equal(hashKey("a")))
		Expect(hashKey(1)).NotTo(Equal(hashKey(2)))
	})
})
