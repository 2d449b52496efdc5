// Package neighbor maintains the list of atom pairs closer than a cutoff
// under the minimum-image convention. The list is rebuilt only when the
// caller asks for it (typically every stride steps); between rebuilds the
// stale pairs are the expected steady state.
//
// The list owns its parallelism: pairs are partitioned over a fixed number
// of workers at build time, by round-robin assignment of the outer atom
// index, and each worker of a calculation iterates its own bucket.
package neighbor

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kpotier/pairentropy/pkg/box"
	"github.com/kpotier/pairentropy/pkg/vec"
)

// Pair is a pair of atom indices within the cutoff.
type Pair struct {
	I, J int
}

// List is a cutoff-bounded pair list. It must be created with New and filled
// with Update before the first use.
type List struct {
	cutoff  float64
	cutoff2 float64
	stride  int
	workers int

	buckets [][]Pair
}

// New returns an empty list. The cutoff and the stride must be strictly
// positive; workers is clamped to at least one.
func New(cutoff float64, stride, workers int) (*List, error) {
	if cutoff <= 0 {
		return nil, fmt.Errorf("neighbor list cutoff must be positive (got %v)", cutoff)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("neighbor list stride must be positive (got %d)", stride)
	}
	if workers < 1 {
		workers = 1
	}
	return &List{
		cutoff:  cutoff,
		cutoff2: cutoff * cutoff,
		stride:  stride,
		workers: workers,
		buckets: make([][]Pair, workers),
	}, nil
}

// Cutoff returns the configured cutoff.
func (l *List) Cutoff() float64 { return l.cutoff }

// Stride returns the configured rebuild stride.
func (l *List) Stride() int { return l.stride }

// Workers returns the number of partitions the list is built for.
func (l *List) Workers() int { return l.workers }

// Update rebuilds the list from the given positions. Each worker scans the
// outer atom indices congruent to its rank and keeps the pairs strictly
// within the cutoff.
func (l *List) Update(pos []vec.Vec, bx box.Box) error {
	g := new(errgroup.Group)
	for r := 0; r < l.workers; r++ {
		r := r
		g.Go(func() error {
			bucket := l.buckets[r][:0]
			for i := r; i < len(pos)-1; i += l.workers {
				for j := i + 1; j < len(pos); j++ {
					d := bx.Distance(pos[i], pos[j])
					if d.Norm2() < l.cutoff2 {
						bucket = append(bucket, Pair{I: i, J: j})
					}
				}
			}
			l.buckets[r] = bucket
			return nil
		})
	}
	return g.Wait()
}

// Size returns the total number of pairs in the list.
func (l *List) Size() int {
	var n int
	for _, b := range l.buckets {
		n += len(b)
	}
	return n
}

// ClosePair returns the i-th pair of the list, counting across all buckets.
func (l *List) ClosePair(i int) Pair {
	for _, b := range l.buckets {
		if i < len(b) {
			return b[i]
		}
		i -= len(b)
	}
	panic("neighbor: pair index out of range")
}

// Pairs returns the bucket owned by the given rank.
func (l *List) Pairs(rank int) []Pair {
	return l.buckets[rank]
}
