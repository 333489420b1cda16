package hnsw

import (
	"context"
	"fmt"

	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// Insert implements spec §4.5's six-step insertion algorithm: draw a level,
// greedily descend from the current entry down to one layer above the new
// node's top layer, beam-search and RRNG-select neighbors at every layer
// from there down to 0, link the node in (including re-pruned back-edges),
// then publish it as the new entry if its level exceeds the previous one.
//
// Grounded on the teacher's insertNode/connectBidirectionalOptimized
// (insert.go), generalized from a single Index.mu held for the whole
// operation to the spec's per-node-per-layer locking (node.go) and an
// entry-cell state machine (hnsw.go) with double-checked upgrade, and from
// the teacher's string IDs to slab indices plus an opaque vecstore.Payload.
func (h *Index) Insert(ctx context.Context, v vecstore.Vector, payload vecstore.Payload, row uint32) error {
	level := h.generateLevel()

	var code []byte
	storedVector := v
	var table quant.QueryTable
	if h.cfg.Quantizer != nil {
		vf32, ok := v.(vecstore.Vecf32)
		if !ok {
			return fmt.Errorf("hnsw: quantized index requires a dense f32 vector")
		}
		if !h.cfg.Quantizer.IsTrained() {
			return fmt.Errorf("hnsw: quantizer must be trained before insert")
		}
		c, err := h.cfg.Quantizer.Encode(vf32)
		if err != nil {
			return fmt.Errorf("hnsw: encode: %w", err)
		}
		code = c
		storedVector = nil // reranking falls back to the raw store, not a kept copy
		t, err := h.cfg.Quantizer.BuildQueryTable(vf32)
		if err != nil {
			return fmt.Errorf("hnsw: build query table: %w", err)
		}
		table = t
	}

	h.entry.mu.RLock()
	oldID, oldLevel := h.entry.id, h.entry.level
	h.entry.mu.RUnlock()

	node := newNode(payload, row, level, storedVector, code)

	// Step 2 (empty-graph case): the first node has nothing to search
	// against; it becomes the entry directly.
	if oldID < 0 {
		newID := h.appendNode(node)
		h.entry.mu.Lock()
		if h.entry.id < 0 {
			h.entry.id = int64(newID)
			h.entry.level = level
		}
		h.entry.mu.Unlock()
		return nil
	}

	// Step 3: greedy descent from the old entry down to one layer above ours.
	seed := uint32(oldID)
	if oldLevel > level {
		var err error
		seed, err = h.greedyDescend(seed, v, table, oldLevel, level+1)
		if err != nil {
			return fmt.Errorf("hnsw: greedy descent: %w", err)
		}
	}

	top := level
	if oldLevel < top {
		top = oldLevel
	}

	// Step 4: beam search + RRNG selection at every layer from top down to 0.
	selected := make([][]edge, top+1)
	for i := top; i >= 0; i-- {
		candidates, err := h.beamSearchLayer(seed, v, table, h.cfg.EfConstruction, i)
		if err != nil {
			return fmt.Errorf("hnsw: beam search layer %d: %w", i, err)
		}
		raw := make([]edge, len(candidates))
		for j, c := range candidates {
			raw[j] = edge{neighbor: c.ID, distance: c.Distance}
		}
		chosen := pruneRRNG(raw, h.cfg.layerCapacity(i), h.nodeToNodeDistance)
		selected[i] = chosen
		if len(chosen) > 0 {
			seed = chosen[0].neighbor
		}
	}

	// Step 5 (first half): publish this node's own adjacency before it is
	// visible to any other inserter or searcher.
	for i := 0; i <= top; i++ {
		node.Layers[i].replace(selected[i])
	}
	newID := h.appendNode(node)

	// Step 5 (second half): back-edges, each under the neighbor's own
	// per-layer write lock, re-pruned with the same RRNG heuristic.
	for i := 0; i <= top; i++ {
		layerCap := h.cfg.layerCapacity(i)
		for _, e := range selected[i] {
			neighborNode := h.nodeAt(e.neighbor)
			if i >= len(neighborNode.Layers) {
				continue
			}
			back := edge{neighbor: newID, distance: h.nodeToNodeDistance(e.neighbor, newID)}
			neighborNode.Layers[i].insertAndPrune(back, layerCap, h.nodeToNodeDistance)
		}
	}

	// Step 6: publish the new entry, double-checked under the write lock.
	h.entry.mu.Lock()
	if h.entry.id < 0 || level > h.entry.level {
		h.entry.id = int64(newID)
		h.entry.level = level
	}
	h.entry.mu.Unlock()

	return nil
}
