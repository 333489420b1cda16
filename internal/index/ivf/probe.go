package ivf

import (
	"sort"

	"github.com/ivory-labs/vectord/internal/distkernel"
	"github.com/ivory-labs/vectord/internal/util"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// listHit is one coarse list selected for a probe, paired with its
// centroid distance to the query.
type listHit struct {
	list     int
	distance float32
}

// selectProbeLists implements spec §4.6's "Top-k structure": a bounded
// max-heap of size nprobe admits a list iff the heap isn't full or the
// candidate beats the current worst, then the admitted set is returned
// sorted ascending by centroid distance ("top-nprobe lists by centroid
// distance"). Grounded on the same bounded-heap shape as
// internal/index/hnsw's beamSearchLayer (internal/util.MaxHeap).
func selectProbeLists(distFn distkernel.Func, centroids [][]float32, query vecstore.Vector, nprobe int) ([]listHit, error) {
	if nprobe > len(centroids) {
		nprobe = len(centroids)
	}
	heap := util.NewMaxHeap(nprobe)
	for i, c := range centroids {
		d, err := distFn(vecstore.Vecf32(c), query)
		if err != nil {
			return nil, err
		}
		cand := &util.Candidate{ID: uint32(i), Distance: d}
		if heap.Len() < nprobe || d < heap.Top().Distance {
			heap.PushCandidate(cand)
			if heap.Len() > nprobe {
				heap.PopCandidate()
			}
		}
	}

	out := make([]listHit, heap.Len())
	for i := len(out) - 1; i >= 0; i-- {
		c := heap.PopCandidate()
		out[i] = listHit{list: int(c.ID), distance: c.Distance}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].distance < out[j].distance })
	return out, nil
}

// topKHeap bounds a result set to k admissions, the second half of spec
// §4.6's "Top-k structure" ("k for results)").
type topKHeap struct {
	heap *util.MaxHeap
	k    int
}

func newTopKHeap(k int) *topKHeap {
	return &topKHeap{heap: util.NewMaxHeap(k), k: k}
}

func (t *topKHeap) offer(id uint32, distance float32) {
	if t.heap.Len() < t.k || distance < t.heap.Top().Distance {
		t.heap.PushCandidate(&util.Candidate{ID: id, Distance: distance})
		if t.heap.Len() > t.k {
			t.heap.PopCandidate()
		}
	}
}

func (t *topKHeap) drain() []util.Candidate {
	out := make([]util.Candidate, t.heap.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = *t.heap.PopCandidate()
	}
	return out
}
