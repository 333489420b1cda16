package hnsw

import (
	"context"
	"fmt"

	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/util"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// beamSearchLayer runs the dual-heap beam search spec §4.5 describes for
// both construction ("beam search of width ef_construction") and query-time
// search ("beam search of width ef_search"), returning the ef nearest
// candidates sorted ascending by distance.
//
// Grounded on the teacher's searchLevel (search.go): a MaxHeap bounding the
// working result set to ef, a MinHeap driving frontier exploration, and a
// visited set sized to the node count. Generalized to read adjacency
// through each node's per-layer lock (node.go) instead of the teacher's
// single Index.mu, and to compute distance via the quantized query-table
// path when a quantizer is configured.
func (h *Index) beamSearchLayer(entryID uint32, query vecstore.Vector, table quant.QueryTable, ef int, layer int) ([]util.Candidate, error) {
	h.nodesMu.RLock()
	n := len(h.nodes)
	h.nodesMu.RUnlock()

	visited := make([]bool, n)
	candidates := util.NewMaxHeap(ef * 2)
	frontier := util.NewMinHeap(ef)

	entryDist, err := h.candidateDistance(entryID, query, table)
	if err != nil {
		return nil, fmt.Errorf("hnsw: entry distance: %w", err)
	}
	start := &util.Candidate{ID: entryID, Distance: entryDist}
	candidates.PushCandidate(start)
	frontier.PushCandidate(start)
	visited[entryID] = true

	for frontier.Len() > 0 {
		current := frontier.PopCandidate()

		if candidates.Len() >= ef && current.Distance > candidates.Top().Distance {
			break
		}

		currentNode := h.nodeAt(current.ID)
		if layer >= len(currentNode.Layers) {
			continue
		}
		for _, e := range currentNode.Layers[layer].snapshot() {
			if int(e.neighbor) >= len(visited) || visited[e.neighbor] {
				continue
			}
			visited[e.neighbor] = true

			d, err := h.candidateDistance(e.neighbor, query, table)
			if err != nil {
				continue
			}
			cand := &util.Candidate{ID: e.neighbor, Distance: d}

			if candidates.Len() < ef || d < candidates.Top().Distance {
				candidates.PushCandidate(cand)
				frontier.PushCandidate(cand)
				if candidates.Len() > ef {
					candidates.PopCandidate()
				}
			}
		}
	}

	out := make([]util.Candidate, candidates.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = *candidates.PopCandidate()
	}
	return out, nil
}

// greedyDescend walks from entryID down through the given layer range,
// repeatedly moving to the neighbor strictly closer to query than the
// current best, until a local minimum (spec §4.5 step 3 / search algorithm).
func (h *Index) greedyDescend(entryID uint32, query vecstore.Vector, table quant.QueryTable, fromLayer, toLayer int) (uint32, error) {
	best := entryID
	bestDist, err := h.candidateDistance(best, query, table)
	if err != nil {
		return 0, err
	}

	for layer := fromLayer; layer >= toLayer; layer-- {
		improved := true
		for improved {
			improved = false
			node := h.nodeAt(best)
			if layer >= len(node.Layers) {
				continue
			}
			for _, e := range node.Layers[layer].snapshot() {
				d, err := h.candidateDistance(e.neighbor, query, table)
				if err != nil {
					continue
				}
				if d < bestDist {
					best, bestDist = e.neighbor, d
					improved = true
				}
			}
		}
	}
	return best, nil
}

// Search implements spec §4.5's query-time search: greedy descent from
// entry down to layer 1, a layer-0 beam search of width ef (k + safety),
// then (if a quantizer is configured) reranking against the true vectors.
func (h *Index) Search(ctx context.Context, query vecstore.Vector, k, ef int) ([]Result, error) {
	h.entry.mu.RLock()
	entryID, entryLevel := h.entry.id, h.entry.level
	h.entry.mu.RUnlock()
	if entryID < 0 {
		return nil, nil
	}
	if ef < k {
		ef = k
	}

	var table quant.QueryTable
	if h.cfg.Quantizer != nil {
		qf32, ok := query.(vecstore.Vecf32)
		if !ok {
			return nil, fmt.Errorf("hnsw: quantized index requires a dense f32 query vector")
		}
		t, err := h.cfg.Quantizer.BuildQueryTable(qf32)
		if err != nil {
			return nil, fmt.Errorf("hnsw: build query table: %w", err)
		}
		table = t
	}

	seed := uint32(entryID)
	if entryLevel > 0 {
		var err error
		seed, err = h.greedyDescend(seed, query, table, entryLevel, 1)
		if err != nil {
			return nil, err
		}
	}

	candidates, err := h.beamSearchLayer(seed, query, table, ef, 0)
	if err != nil {
		return nil, err
	}

	results, err := h.rerank(query, candidates)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
