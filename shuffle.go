package streaming

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// permutation returns the deterministic shuffle order for n records. The
// generator is seeded from (seed, epoch) only, so every reader that agrees on
// those two values derives the identical permutation.
func permutation(n int, seed, epoch int64) []int {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(epoch)))
	return rng.Perm(n)
}

// Partition describes one worker's slice of the dataset: positions
// start, start+stride, start+2*stride, ... below the dataset length.
// Across workers 0..numWorkers-1 the partitions are disjoint and cover
// every position exactly once, shuffled or not, because they index the
// presentation order rather than the stored order.
type Partition struct {
	ds     *Dataset
	start  int
	stride int
}

// Partition splits the dataset across numWorkers readers and returns the view
// for the given worker.
func (d *Dataset) Partition(numWorkers, worker int) *Partition {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if worker < 0 || worker >= numWorkers {
		worker = 0
	}
	return &Partition{ds: d, start: worker, stride: numWorkers}
}

// Len returns the number of records in this partition.
func (p *Partition) Len() int {
	total := p.ds.Len()
	if total <= p.start {
		return 0
	}
	return (total-p.start-1)/p.stride + 1
}

// Get returns the i-th record of this partition.
func (p *Partition) Get(ctx context.Context, i int) (Record, error) {
	if i < 0 || i >= p.Len() {
		return nil, fmt.Errorf("streaming: partition position %d out of range [0, %d)", i, p.Len())
	}
	return p.ds.Get(ctx, p.start+i*p.stride)
}

// Positions returns the global positions this partition covers, in order.
func (p *Partition) Positions() []int {
	out := make([]int, 0, p.Len())
	for pos := p.start; pos < p.ds.Len(); pos += p.stride {
		out = append(out, pos)
	}
	return out
}
