package hnsw

import (
	"sort"
	"sync"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

// edge is one adjacency entry: a neighbor's slab index plus the distance
// from this node to it, kept sorted ascending within a layer (spec §4.5,
// "Adjacency entries are (distance, neighbor_index) kept sorted ascending").
type edge struct {
	neighbor uint32
	distance float32
}

// layerAdjacency is one node's neighbor list at one graph layer, guarded by
// its own lock. The teacher's Node has a single Index-wide mutex and a
// plain [][]uint32 of links; spec §4.5 requires "one RwLock per node per
// layer", so each layer gets its own lock instead of sharing the node's.
type layerAdjacency struct {
	mu    sync.RWMutex
	edges []edge
}

func (la *layerAdjacency) snapshot() []edge {
	la.mu.RLock()
	defer la.mu.RUnlock()
	out := make([]edge, len(la.edges))
	copy(out, la.edges)
	return out
}

// replace installs a fully-computed edge list (already sorted and truncated
// by the caller), used when a fresh node's own adjacency is decided once
// before the node is linked in and visible to other readers.
func (la *layerAdjacency) replace(edges []edge) {
	la.mu.Lock()
	la.edges = edges
	la.mu.Unlock()
}

// insertAndPrune adds a back-edge to n, then re-runs the selection heuristic
// over the combined set to enforce cap (spec §4.5 step 5: "insert the
// back-edge in sorted order, then re-prune n's list with the same
// heuristic"). dist computes the exact or quantized distance between two
// of this node's neighbors' slab indices, as chosen by the caller.
func (la *layerAdjacency) insertAndPrune(n edge, cap int, dist func(a, b uint32) float32) {
	la.mu.Lock()
	defer la.mu.Unlock()

	merged := append(append([]edge(nil), la.edges...), n)
	sort.Slice(merged, func(i, j int) bool { return merged[i].distance < merged[j].distance })
	la.edges = pruneRRNG(merged, cap, dist)
}

// Node is one slab-allocated graph vertex. Nodes are never physically
// removed (spec §4.7: deletion is a version-map flip, filtered at search
// time), so Node carries no tombstone state of its own.
type Node struct {
	Payload vecstore.Payload
	// Row is this node's index into the raw vector store (internal/rawstore),
	// used to fetch the true vector for exact reranking when the graph
	// itself only holds a quantized code.
	Row uint32

	// Vector is the raw vector, retained in-memory only when the index has
	// no quantizer; otherwise nil and Code is populated instead.
	Vector vecstore.Vector
	Code   []byte

	Level  int
	Layers []*layerAdjacency
}

func newNode(payload vecstore.Payload, row uint32, level int, vector vecstore.Vector, code []byte) *Node {
	n := &Node{
		Payload: payload,
		Row:     row,
		Vector:  vector,
		Code:    code,
		Level:   level,
		Layers:  make([]*layerAdjacency, level+1),
	}
	for i := range n.Layers {
		n.Layers[i] = &layerAdjacency{}
	}
	return n
}
