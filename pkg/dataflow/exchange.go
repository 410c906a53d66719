package dataflow

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/l7mp/difflow/pkg/lattice"
	"github.com/l7mp/difflow/pkg/trace"
)

// router moves messages between the workers of a cluster. Every exchange is a superstep: each
// worker deposits one message per destination, waits until all workers have deposited, collects
// its own messages and waits again so that the mailbox can be reused.
type router struct {
	mu      sync.Mutex
	peers   int
	mailbox map[int][][]any
	barrier *barrier
}

func newRouter(peers int) *router {
	return &router{peers: peers, mailbox: map[int][][]any{}, barrier: newBarrier(peers)}
}

// exchange sends out[i] to worker i and returns the messages sent to worker from, ordered by
// sender.
func (r *router) exchange(ctx context.Context, channel, from int, out []any) ([]any, error) {
	r.mu.Lock()
	box, ok := r.mailbox[channel]
	if !ok {
		box = make([][]any, r.peers)
		for i := range box {
			box[i] = make([]any, r.peers)
		}
		r.mailbox[channel] = box
	}
	for to, m := range out {
		box[to][from] = m
	}
	r.mu.Unlock()

	if err := r.barrier.wait(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	in := box[from]
	box[from] = make([]any, r.peers)
	r.mu.Unlock()

	if err := r.barrier.wait(ctx); err != nil {
		return nil, err
	}
	return in, nil
}

// barrier is a reusable rendezvous of a fixed number of goroutines.
type barrier struct {
	mu      sync.Mutex
	n       int
	count   int
	release chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, release: make(chan struct{})}
}

// wait blocks until n goroutines are waiting or the context is cancelled. A cancelled waiter
// withdraws its arrival so the barrier stays aligned for later rounds.
func (b *barrier) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	ch := b.release
	b.count++
	if b.count == b.n {
		b.count = 0
		b.release = make(chan struct{})
		b.mu.Unlock()
		close(ch)
		return nil
	}
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.release != ch {
		// released concurrently
		return nil
	}
	b.count--
	return ctx.Err()
}

// exchange routes every update to the worker owning its key.
func exchange[K, V comparable, T lattice.Timestamp[T]](rt *runtime, channel int, updates []trace.Update[K, V, T]) ([]trace.Update[K, V, T], error) {
	parts := make([][]trace.Update[K, V, T], rt.peers)
	for _, u := range updates {
		p := hashKey(u.Key) % uint64(rt.peers)
		parts[p] = append(parts[p], u)
	}
	out := make([]any, rt.peers)
	for i, p := range parts {
		out[i] = p
	}

	in, err := rt.router.exchange(rt.ctx, channel, rt.index, out)
	if err != nil {
		return nil, err
	}

	var ret []trace.Update[K, V, T]
	for _, m := range in {
		if us, ok := m.([]trace.Update[K, V, T]); ok {
			ret = append(ret, us...)
		}
	}
	return ret, nil
}

// agree reports whether every worker of the cluster voted true.
func agree(rt *runtime, channel int, vote bool) (bool, error) {
	if rt.peers <= 1 {
		return vote, nil
	}
	out := make([]any, rt.peers)
	for i := range out {
		out[i] = vote
	}
	in, err := rt.router.exchange(rt.ctx, channel, rt.index, out)
	if err != nil {
		return false, err
	}
	for _, m := range in {
		if v, ok := m.(bool); !ok || !v {
			return false, nil
		}
	}
	return true, nil
}

// hashKey hashes a key for partitioning. Equal keys hash equally on every worker.
func hashKey[K comparable](k K) uint64 {
	var buf [8]byte
	switch v := any(k).(type) {
	case string:
		return xxhash.Sum64String(v)
	case int:
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
	case int64:
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
	case int32:
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
	case uint:
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
	case uint64:
		binary.LittleEndian.PutUint64(buf[:], v)
	case uint32:
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
	default:
		return xxhash.Sum64String(fmt.Sprintf("%#v", k))
	}
	return xxhash.Sum64(buf[:])
}
