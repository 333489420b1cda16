package ivf

import (
	"context"
	"fmt"

	"github.com/ivory-labs/vectord/internal/distkernel"
	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// pqCentroidCount matches quant's fixed 256 centroids per subspace (spec
// §4.3, "m x 256 sub-centroids").
const pqCentroidCount = 256

// PQ is spec §4.6's "IvfPQ (PQ on residuals)": the coarse partition plus a
// single product quantizer trained on residuals, with a per-list
// precomputed distance table combined with a per-query runtime table at
// search time.
//
// Grounded on the teacher's Cluster.CompressedVectors path (ivfpq.go),
// which already stores a compressed code per cluster entry; the residual
// subtraction, the precomputed_table construction, and the
// coarse+precomputed+runtime distance reconstruction are new — the teacher
// PQ-encodes raw vectors directly and never builds this decomposition.
type PQ struct {
	cfg    *Config
	ratio  int
	distFn distkernel.Func

	partition *coarsePartition
	pq        *quant.ProductQuantizer

	offsets []int
	widths  []int

	// precomputed[list][subspace][centroid] = ||c_r||^2 + 2<centroid_list_sub, c_r>
	precomputed [][][]float32

	codes    [][]byte // per placement
	payloads []vecstore.Payload
}

// BuildPQ trains the coarse partition, computes residuals, PQ-trains on
// them, and precomputes the per-list distance tables (spec §4.6 "During
// build, compute residuals v - centroid_list(v) and PQ-train on those").
func BuildPQ(ctx context.Context, cfg *PQConfig, vectors []vecstore.Vecf32, payloads []vecstore.Payload) (*PQ, error) {
	if len(vectors) != len(payloads) {
		return nil, fmt.Errorf("ivf: vectors/payloads length mismatch")
	}
	base := cfg.Config
	base.setDefaults()
	if err := base.validate(); err != nil {
		return nil, err
	}

	partition, err := buildCoarsePartition(ctx, &base, vectors)
	if err != nil {
		return nil, err
	}

	residuals := make([]vecstore.Vecf32, len(vectors))
	for i, v := range vectors {
		residuals[i] = subtract(v, partition.centroids[partition.assignment[i]])
	}

	// The product quantizer is always trained with MetricDot: the residual
	// distance decomposition (below) needs raw per-subspace dot products
	// against the query, not a metric-specific table, regardless of the
	// index's own Metric.
	qcfg := &quant.QuantizationConfig{
		Type:       quant.ProductQuantization,
		Metric:     vecstore.MetricDot,
		Dims:       base.Dims,
		VectorKind: base.Kind,
		Ratio:      cfg.Ratio,
		Sample:     cfg.Sample,
		RandomSeed: base.RandomSeed,
	}
	quantizer, err := quant.NewQuantizer(qcfg)
	if err != nil {
		return nil, fmt.Errorf("ivf: build pq quantizer: %w", err)
	}
	pq, ok := quantizer.(*quant.ProductQuantizer)
	if !ok {
		return nil, fmt.Errorf("ivf: expected product quantizer")
	}
	if err := pq.Train(ctx, residuals); err != nil {
		return nil, fmt.Errorf("ivf: train pq: %w", err)
	}

	distFn, err := distkernel.Get(base.Kind, base.Metric)
	if err != nil {
		return nil, fmt.Errorf("ivf: %w", err)
	}

	offsets := pq.SubspaceOffsets()
	widths := pq.SubspaceWidths()
	pqCentroids := pq.Centroids()

	precomputed := make([][][]float32, partition.nlist())
	for list, centroidList := range partition.centroids {
		table := make([][]float32, len(offsets))
		for j, off := range offsets {
			w := widths[j]
			centroidSub := centroidList[off : off+w]
			subCentroids := pqCentroids[j]
			t := make([]float32, len(subCentroids))
			for c, cr := range subCentroids {
				t[c] = sqNorm(cr) + 2*dotF32(centroidSub, cr)
			}
			table[j] = t
		}
		precomputed[list] = table
	}

	n := len(vectors)
	codes := make([][]byte, n)
	orderedPayloads := make([]vecstore.Payload, n)
	for p, orig := range partition.placements {
		code, err := pq.Encode(residuals[orig])
		if err != nil {
			return nil, fmt.Errorf("ivf: encode residual placement %d: %w", p, err)
		}
		codes[p] = code
		orderedPayloads[p] = payloads[orig]
	}

	return &PQ{
		cfg:         &base,
		ratio:       cfg.Ratio,
		distFn:      distFn,
		partition:   partition,
		pq:          pq,
		offsets:     offsets,
		widths:      widths,
		precomputed: precomputed,
		codes:       codes,
		payloads:    orderedPayloads,
	}, nil
}

// Search implements spec §4.6's IvfPQ search loop: per probed list, combine
// the coarse centroid distance with the precomputed and runtime tables.
func (idx *PQ) Search(ctx context.Context, query vecstore.Vector, k, nprobe int) ([]Result, error) {
	if nprobe <= 0 {
		nprobe = idx.cfg.NProbe
	}
	if idx.partition.nlist() == 0 {
		return nil, nil
	}
	qf32, ok := query.(vecstore.Vecf32)
	if !ok {
		return nil, fmt.Errorf("ivf: pq search requires a dense f32 query vector")
	}

	hits, err := selectProbeLists(idx.distFn, idx.partition.centroids, query, nprobe)
	if err != nil {
		return nil, err
	}

	runtime := make([][]float32, len(idx.offsets))
	for j, off := range idx.offsets {
		w := idx.widths[j]
		sub := []float32(qf32[off : off+w])
		subCentroids := idx.pq.Centroids()[j]
		t := make([]float32, len(subCentroids))
		for c, cr := range subCentroids {
			t[c] = -dotF32(sub, cr)
		}
		runtime[j] = t
	}

	results := newTopKHeap(k)
	for _, hit := range hits {
		lo, hi := idx.partition.listRange(hit.list)
		table := idx.precomputed[hit.list]
		for p := lo; p < hi; p++ {
			code := idx.codes[p]
			var d float32
			switch idx.cfg.Metric {
			case vecstore.MetricDot:
				for j, c := range code {
					d += runtime[j][c]
				}
			default: // MetricL2, MetricCos (delta-aware path folds onto the L2 reconstruction; see DESIGN.md)
				d = hit.distance
				for j, c := range code {
					d += table[j][c]
					d += 2 * runtime[j][c]
				}
			}
			results.offer(uint32(p), d)
		}
	}

	candidates := results.drain()
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{Payload: idx.payloads[c.ID], Distance: c.Distance}
	}
	return out, nil
}

// Size returns the number of vectors indexed.
func (idx *PQ) Size() int { return len(idx.codes) }

// Payloads returns every indexed payload in placement order, used by the
// wrapper to rebuild a fresh version map when reopening a persisted index.
func (idx *PQ) Payloads() []vecstore.Payload { return idx.payloads }

// MemoryUsage approximates resident bytes for capacity-planning metrics.
func (idx *PQ) MemoryUsage() int64 {
	var total int64
	for _, c := range idx.codes {
		total += int64(len(c))
	}
	total += idx.pq.MemoryUsage()
	for _, list := range idx.precomputed {
		for _, sub := range list {
			total += int64(4 * len(sub))
		}
	}
	return total
}

func subtract(v vecstore.Vecf32, centroid []float32) vecstore.Vecf32 {
	out := make(vecstore.Vecf32, len(v))
	for i := range v {
		out[i] = v[i] - centroid[i]
	}
	return out
}

func sqNorm(v []float32) float32 {
	var sum float32
	for _, c := range v {
		sum += c * c
	}
	return sum
}

func dotF32(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
