package ivf

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/ivory-labs/vectord/internal/distkernel"
	"github.com/ivory-labs/vectord/internal/kmeans"
	"github.com/ivory-labs/vectord/internal/vecstore"
	"github.com/ivory-labs/vectord/internal/workerpool"
)

// coarsePartition is the build product shared by IvfNaive and IvfPQ (spec
// §4.6 "Build", steps 1-3): trained centroids, per-vector assignment, and
// the placement permutation grouping ids by list.
type coarsePartition struct {
	centroids [][]float32 // [list][dims]

	// ptr is the prefix sum of list sizes: list i occupies placements
	// [ptr[i], ptr[i+1]). len(ptr) == nlist+1.
	ptr []uint32

	// placements[p] is the index into the original vectors slice stored at
	// placement p (i.e. placements -> original ids, per spec §3).
	placements []uint32

	// assignment[i] is the list index original vector i was assigned to.
	assignment []int
}

// buildCoarsePartition implements spec §4.6's three build steps: train a
// coarse quantizer on an (optionally L2-normalized) sample, assign every
// vector to its nearest centroid in parallel, then group ids by list.
//
// Grounded on the teacher's trainCoarseQuantizer/initializeCentroids/
// updateCentroids (ivfpq.go), replaced here by internal/kmeans.Train per
// spec.md §4.2 ("Elkan k-means used by IVF coarse quantizer... "), and on
// the teacher's assignToCluster, generalized to run across workerpool.Pool
// workers instead of a single-threaded loop.
func buildCoarsePartition(ctx context.Context, cfg *Config, vectors []vecstore.Vecf32) (*coarsePartition, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("ivf: build requires at least one vector")
	}

	rng := rand.New(rand.NewSource(cfg.RandomSeed))
	normalize := cfg.Metric == vecstore.MetricCos || cfg.Metric == vecstore.MetricDot

	sample := sampleVectors(vectors, cfg.NSample, rng)
	rows := make([][]float32, len(sample))
	for i, v := range sample {
		row := []float32(v)
		if normalize {
			row = l2Normalize(row)
		}
		rows[i] = row
	}

	k := cfg.NList
	if k > len(rows) {
		k = len(rows)
	}
	result, err := kmeans.Train(rows, k, rng)
	if err != nil {
		return nil, fmt.Errorf("ivf: coarse training: %w", err)
	}

	distFn, err := distkernel.Get(vecstore.KindF32, cfg.Metric)
	if err != nil {
		return nil, fmt.Errorf("ivf: %w", err)
	}

	n := len(vectors)
	assignment := make([]int, n)
	pool := workerpool.New(cfg.Workers)
	var mu sync.Mutex
	var firstErr error

	for _, rng2 := range workerpool.Chunks(n, cfg.Workers) {
		lo, hi := rng2[0], rng2[1]
		pool.Go(ctx, func() error {
			for i := lo; i < hi; i++ {
				if pool.Cancelled() {
					return nil
				}
				best, err := nearestCentroid(distFn, result.Centroids, vectors[i])
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return err
				}
				assignment[i] = best
			}
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return nil, fmt.Errorf("ivf: parallel assignment: %w", err)
	}
	if firstErr != nil {
		return nil, firstErr
	}

	nlist := len(result.Centroids)
	counts := make([]uint32, nlist)
	for _, list := range assignment {
		counts[list]++
	}
	ptr := make([]uint32, nlist+1)
	for i := 0; i < nlist; i++ {
		ptr[i+1] = ptr[i] + counts[i]
	}

	cursor := append([]uint32(nil), ptr...)
	placements := make([]uint32, n)
	for i, list := range assignment {
		placements[cursor[list]] = uint32(i)
		cursor[list]++
	}

	return &coarsePartition{
		centroids:  result.Centroids,
		ptr:        ptr,
		placements: placements,
		assignment: assignment,
	}, nil
}

func nearestCentroid(distFn distkernel.Func, centroids [][]float32, v vecstore.Vecf32) (int, error) {
	best := -1
	var bestDist float32
	for i, c := range centroids {
		d, err := distFn(vecstore.Vecf32(c), v)
		if err != nil {
			return 0, err
		}
		if best < 0 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, nil
}

func sampleVectors(vectors []vecstore.Vecf32, nsample int, rng *rand.Rand) []vecstore.Vecf32 {
	if nsample <= 0 || len(vectors) <= nsample {
		return vectors
	}
	perm := rng.Perm(len(vectors))[:nsample]
	out := make([]vecstore.Vecf32, nsample)
	for i, idx := range perm {
		out[i] = vectors[idx]
	}
	return out
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, c := range v {
		sumSq += float64(c) * float64(c)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return append([]float32(nil), v...)
	}
	out := make([]float32, len(v))
	for i, c := range v {
		out[i] = float32(float64(c) / norm)
	}
	return out
}

// listRange returns the placement range [lo, hi) for list i.
func (p *coarsePartition) listRange(i int) (int, int) {
	return int(p.ptr[i]), int(p.ptr[i+1])
}

func (p *coarsePartition) nlist() int { return len(p.centroids) }

// distFnFor resolves the distance kernel for a persisted config (Load paths
// reconstruct the kernel rather than persisting a function value).
func distFnFor(cfg *Config) (distkernel.Func, error) {
	return distkernel.Get(cfg.Kind, cfg.Metric)
}
