// Package comm provides an in-process reduction group for a fixed set of
// cooperating workers. Every member owns a rank and can take part in a
// blocking elementwise-sum all-reduce: all members call Sum with their local
// slice and, once the last member has arrived, every slice holds the total.
// The interface mirrors an MPI communicator so the estimator code reads the
// same whether one or many workers run a step.
package comm

import (
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/kpotier/pairentropy/pkg/vec"
)

// Group is a set of size cooperating workers. It must be created once and a
// Comm handle obtained per worker with Comm. All members must call the same
// sequence of reductions; a reduction returns only after every member has
// joined it (it is a barrier).
type Group struct {
	size int

	mu       sync.Mutex
	cond     *sync.Cond
	count    int
	draining bool
	scratch  interface{}
}

// NewGroup returns a group of the given size. Size must be at least one.
func NewGroup(size int) *Group {
	if size < 1 {
		size = 1
	}
	g := &Group{size: size}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Size returns the number of workers in the group.
func (g *Group) Size() int { return g.size }

// Comm returns the handle for the worker of the given rank.
func (g *Group) Comm(rank int) *Comm {
	return &Comm{g: g, rank: rank}
}

// Comm is the per-worker handle on a Group.
type Comm struct {
	g    *Group
	rank int
}

// Rank returns the rank of this worker.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of workers in the group.
func (c *Comm) Size() int { return c.g.size }

// SumFloats performs a blocking elementwise-sum all-reduce on x. All members
// must call it with slices of identical length.
func (c *Comm) SumFloats(x []float64) {
	allReduce(c.g, x, func(dst, src []float64) {
		floats.Add(dst, src)
	})
}

// SumVecs performs a blocking elementwise-sum all-reduce on x.
func (c *Comm) SumVecs(x []vec.Vec) {
	allReduce(c.g, x, func(dst, src []vec.Vec) {
		for i := range dst {
			dst[i] = dst[i].Add(src[i])
		}
	})
}

// SumTensors performs a blocking elementwise-sum all-reduce on x.
func (c *Comm) SumTensors(x []vec.Tensor) {
	allReduce(c.g, x, func(dst, src []vec.Tensor) {
		for i := range dst {
			dst[i] = dst[i].Add(src[i])
		}
	})
}

// allReduce accumulates every member's slice into a shared scratch buffer
// and copies the total back into each. count climbs to size while members
// deposit their contribution, then falls back to zero while they read the
// result out; the draining flag keeps a fast member of the next round from
// entering before the current one fully drained.
func allReduce[T any](g *Group, x []T, add func(dst, src []T)) {
	if g.size == 1 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for g.draining {
		g.cond.Wait()
	}

	if g.count == 0 {
		buf := make([]T, len(x))
		copy(buf, x)
		g.scratch = buf
	} else {
		add(g.scratch.([]T), x)
	}
	g.count++

	if g.count == g.size {
		g.draining = true
		g.cond.Broadcast()
	} else {
		for !g.draining {
			g.cond.Wait()
		}
	}

	copy(x, g.scratch.([]T))
	g.count--
	if g.count == 0 {
		g.draining = false
		g.scratch = nil
		g.cond.Broadcast()
	}
}
