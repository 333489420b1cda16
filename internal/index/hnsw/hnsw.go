// Package hnsw implements the concurrent layered proximity-graph index
// (spec §4.5): slab-allocated nodes, per-node-per-layer adjacency locks, an
// entry-cell state machine, and RRNG-pruned beam-search construction.
//
// Grounded on the teacher's internal/index/hnsw package (Index/Config shape,
// NewHNSW, the Insert/Search entry points, generateLevel, SaveToDisk/
// LoadFromDisk) but rebuilt in several places the spec redesigns outright:
// the teacher guards the whole graph with one Index.mu, generates levels
// with a threshold-loop ("repeat while rand < ml"), selects neighbors with
// an ad hoc 80%-threshold heuristic, and physically deletes nodes. Here
// each layer has its own RWMutex (node.go), generateLevel uses the spec's
// exact formula, neighbor selection is the RRNG rule (neighbors.go), and
// deletion never happens in this package at all — search results carry a
// Payload that the wrapper filters through internal/versionmap.
package hnsw

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/ivory-labs/vectord/internal/distkernel"
	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/rawstore"
	"github.com/ivory-labs/vectord/internal/util"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// Config holds the construction parameters spec §4.5 names explicitly,
// with the teacher's defaults replaced by the spec's.
type Config struct {
	Dims   int
	Kind   vecstore.Kind
	Metric vecstore.Metric

	M              int // default 36; layer-0 capacity is 2*M
	EfConstruction int // default 500
	MaxLevel       int // default 63
	RandomSeed     int64

	// Quantizer is optional and must already be trained: build streams the
	// full corpus before constructing the graph (spec §4.8), so there is no
	// incremental "collect N vectors, train mid-stream" phase here the way
	// the teacher's Insert does it.
	Quantizer quant.Quantizer
}

func (c *Config) setDefaults() {
	if c.M <= 0 {
		c.M = 36
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 500
	}
	if c.MaxLevel <= 0 {
		c.MaxLevel = 63
	}
}

func (c *Config) validate() error {
	if c.Dims <= 0 || c.Dims > vecstore.MaxDims {
		return fmt.Errorf("hnsw: dims %d out of range", c.Dims)
	}
	if c.M <= 0 {
		return fmt.Errorf("hnsw: M must be positive")
	}
	if c.EfConstruction <= 0 {
		return fmt.Errorf("hnsw: EfConstruction must be positive")
	}
	if c.MaxLevel <= 0 {
		return fmt.Errorf("hnsw: MaxLevel must be positive")
	}
	return nil
}

// layerCapacity implements size_of_layer(m, i) = 2m for i=0, else m.
func (c *Config) layerCapacity(layer int) int {
	if layer == 0 {
		return 2 * c.M
	}
	return c.M
}

// Result is one search hit, carrying enough to let the wrapper filter it
// through the version map and hand the payload back to the caller.
type Result struct {
	Payload  vecstore.Payload
	Distance float32
}

// entryState is the state machine of spec §4.5: Empty is id < 0.
type entryState struct {
	mu    sync.RWMutex
	id    int64
	level int
}

// Index is the concurrent HNSW graph.
type Index struct {
	cfg    *Config
	distFn distkernel.Func
	raw    *rawstore.Store // reference-counted; nil when the index owns no raw backing (tests)

	nodesMu sync.RWMutex
	nodes   []*Node

	entry entryState

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New constructs an empty index. raw may be nil in tests that only exercise
// the unquantized path (reranking against raw is then skipped).
func New(cfg *Config, raw *rawstore.Store) (*Index, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	distFn, err := distkernel.Get(cfg.Kind, cfg.Metric)
	if err != nil {
		return nil, fmt.Errorf("hnsw: %w", err)
	}
	idx := &Index{
		cfg:    cfg,
		distFn: distFn,
		raw:    raw,
		rng:    rand.New(rand.NewSource(cfg.RandomSeed)),
	}
	idx.entry.id = -1
	return idx, nil
}

// generateLevel implements spec §4.5's random-level generator exactly:
// floor(-ln(U(0,1))/ln(m)), capped to MaxLevel. The teacher instead loops
// "while rand.Float64() < ml, level++" (a geometric distribution with a
// different parameterization); this is the inverse-transform form the spec
// calls for.
func (h *Index) generateLevel() int {
	h.rngMu.Lock()
	u := h.rng.Float64()
	h.rngMu.Unlock()

	// u is in [0,1); avoid log(0).
	for u == 0 {
		h.rngMu.Lock()
		u = h.rng.Float64()
		h.rngMu.Unlock()
	}
	level := int(math.Floor(-math.Log(u) / math.Log(float64(h.cfg.M))))
	if level > h.cfg.MaxLevel {
		level = h.cfg.MaxLevel
	}
	return level
}

func (h *Index) nodeAt(i uint32) *Node {
	h.nodesMu.RLock()
	defer h.nodesMu.RUnlock()
	return h.nodes[i]
}

func (h *Index) appendNode(n *Node) uint32 {
	h.nodesMu.Lock()
	defer h.nodesMu.Unlock()
	id := uint32(len(h.nodes))
	h.nodes = append(h.nodes, n)
	return id
}

// Size returns the number of nodes ever inserted (including logically
// deleted ones; the wrapper's version map is what hides those from search).
func (h *Index) Size() int {
	h.nodesMu.RLock()
	defer h.nodesMu.RUnlock()
	return len(h.nodes)
}

// Payloads returns every node's payload in slab order, used by the wrapper
// to rebuild a fresh version map when reopening a persisted graph.
func (h *Index) Payloads() []vecstore.Payload {
	h.nodesMu.RLock()
	defer h.nodesMu.RUnlock()
	out := make([]vecstore.Payload, len(h.nodes))
	for i, n := range h.nodes {
		out[i] = n.Payload
	}
	return out
}

// MemoryUsage is an approximation good enough for capacity-planning metrics
// (spec §4 "ambient" observability, not a spec invariant).
func (h *Index) MemoryUsage() int64 {
	h.nodesMu.RLock()
	defer h.nodesMu.RUnlock()
	var total int64
	for _, n := range h.nodes {
		total += int64(len(n.Code))
		if n.Vector != nil {
			total += int64(4 * n.Vector.Dims())
		}
		for _, l := range n.Layers {
			total += int64(len(l.snapshot())) * 8
		}
	}
	return total
}

// candidateDistance computes the distance from query to node i, using the
// quantized code path when a quantizer is configured, else the exact
// distance kernel.
func (h *Index) candidateDistance(i uint32, query vecstore.Vector, table quant.QueryTable) (float32, error) {
	n := h.nodeAt(i)
	if h.cfg.Quantizer != nil {
		return h.cfg.Quantizer.DistanceToCode(table, n.Code)
	}
	return h.distFn(query, n.Vector)
}

// nodeToNodeDistance is used while re-pruning a neighbor's adjacency: both
// endpoints are existing graph nodes, so it goes through the exact raw
// vectors (reranking-quality) rather than quantized codes, matching how the
// teacher's pruneNeighborConnectionsOptimized recomputes exact distances.
func (h *Index) nodeToNodeDistance(a, b uint32) float32 {
	na, nb := h.nodeAt(a), h.nodeAt(b)
	if na.Vector != nil && nb.Vector != nil {
		d, err := h.distFn(na.Vector, nb.Vector)
		if err == nil {
			return d
		}
	}
	if h.raw != nil {
		va, errA := h.raw.Vector(int(na.Row))
		vb, errB := h.raw.Vector(int(nb.Row))
		if errA == nil && errB == nil {
			if d, err := h.distFn(va, vb); err == nil {
				return d
			}
		}
	}
	// Last resort: decode both quantized codes and compare approximations.
	if h.cfg.Quantizer != nil {
		da, errA := h.cfg.Quantizer.Decode(na.Code)
		db, errB := h.cfg.Quantizer.Decode(nb.Code)
		if errA == nil && errB == nil {
			if d, err := h.distFn(da, db); err == nil {
				return d
			}
		}
	}
	return 0
}

// rerank recomputes exact distances for a candidate set against the raw
// store and returns them sorted ascending (spec §4.5: "Results are
// re-ranked against true (non-quantized) vectors if a quantizer is in
// play").
func (h *Index) rerank(query vecstore.Vector, candidates []util.Candidate) ([]Result, error) {
	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		n := h.nodeAt(c.ID)
		var v vecstore.Vector
		if n.Vector != nil {
			v = n.Vector
		} else if h.raw != nil {
			var err error
			v, err = h.raw.Vector(int(n.Row))
			if err != nil {
				return nil, fmt.Errorf("hnsw: rerank fetch row %d: %w", n.Row, err)
			}
		} else {
			// No raw backing available (quantizer-only test index): fall
			// back to the approximate distance already computed.
			out = append(out, Result{Payload: n.Payload, Distance: c.Distance})
			continue
		}
		d, err := h.distFn(query, v)
		if err != nil {
			return nil, err
		}
		out = append(out, Result{Payload: n.Payload, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}
