package ivf

import (
	"context"
	"fmt"

	"github.com/ivory-labs/vectord/internal/distkernel"
	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// Result is one search hit; the wrapper filters this through the version
// map before returning it to a caller, same contract as hnsw.Result.
type Result struct {
	Payload  vecstore.Payload
	Distance float32
}

// Naive is spec §4.6's "IvfNaive": the coarse partition plus any one of the
// shared quantizers (trivial/scalar/product) indexing vectors in permuted
// order. Grounded on the teacher's Cluster/Index shape (ivfpq.go) with the
// PQ-only assumption dropped — the teacher never builds a non-PQ IVF index,
// so the quantizer here is swappable via the generic quant.Quantizer
// interface instead of being hardcoded to product quantization.
type Naive struct {
	cfg       *Config
	quantCfg  *quant.QuantizationConfig
	quantizer quant.Quantizer
	distFn    distkernel.Func

	partition *coarsePartition
	// codes[p] is the quantizer-encoded code for the vector at placement p.
	codes [][]byte
	// payloads[p] is the payload for the vector at placement p.
	payloads []vecstore.Payload
}

// BuildNaive trains the coarse partition and the quantizer, then encodes
// every vector in permuted (placement) order (spec §4.6 "IvfNaive": "the
// quantizer... indexes vectors in permuted order").
func BuildNaive(ctx context.Context, cfg *NaiveConfig, vectors []vecstore.Vecf32, payloads []vecstore.Payload) (*Naive, error) {
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

	quantizer, err := quant.NewQuantizer(cfg.QuantConfig)
	if err != nil {
		return nil, fmt.Errorf("ivf: build quantizer: %w", err)
	}
	if err := quantizer.Train(ctx, vectors); err != nil {
		return nil, fmt.Errorf("ivf: train quantizer: %w", err)
	}

	distFn, err := distkernel.Get(base.Kind, base.Metric)
	if err != nil {
		return nil, fmt.Errorf("ivf: %w", err)
	}

	n := len(vectors)
	codes := make([][]byte, n)
	orderedPayloads := make([]vecstore.Payload, n)
	for p, orig := range partition.placements {
		code, err := quantizer.Encode(vectors[orig])
		if err != nil {
			return nil, fmt.Errorf("ivf: encode placement %d: %w", p, err)
		}
		codes[p] = code
		orderedPayloads[p] = payloads[orig]
	}

	return &Naive{
		cfg:       &base,
		quantCfg:  cfg.QuantConfig,
		quantizer: quantizer,
		distFn:    distFn,
		partition: partition,
		codes:     codes,
		payloads:  orderedPayloads,
	}, nil
}

// Search implements spec §4.6's IvfNaive search: consult the top-nprobe
// lists by centroid distance, then scan each list's entries applying the
// quantizer's distance.
func (idx *Naive) Search(ctx context.Context, query vecstore.Vector, k, nprobe int) ([]Result, error) {
	if nprobe <= 0 {
		nprobe = idx.cfg.NProbe
	}
	if idx.partition.nlist() == 0 {
		return nil, nil
	}

	hits, err := selectProbeLists(idx.distFn, idx.partition.centroids, query, nprobe)
	if err != nil {
		return nil, err
	}

	qf32, isF32 := query.(vecstore.Vecf32)
	var table quant.QueryTable
	if isF32 {
		t, err := idx.quantizer.BuildQueryTable(qf32)
		if err != nil {
			return nil, fmt.Errorf("ivf: build query table: %w", err)
		}
		table = t
	}

	results := newTopKHeap(k)
	for _, hit := range hits {
		lo, hi := idx.partition.listRange(hit.list)
		for p := lo; p < hi; p++ {
			var d float32
			if table != nil {
				d, err = idx.quantizer.DistanceToCode(table, idx.codes[p])
			} else {
				d, err = idx.distFn(query, mustDecode(idx.quantizer, idx.codes[p]))
			}
			if err != nil {
				continue
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

func mustDecode(q quant.Quantizer, code []byte) vecstore.Vector {
	v, err := q.Decode(code)
	if err != nil {
		return vecstore.Vecf32{}
	}
	return v
}

// Size returns the number of vectors indexed.
func (idx *Naive) Size() int { return len(idx.codes) }

// Payloads returns every indexed payload in placement order, used by the
// wrapper to rebuild a fresh version map when reopening a persisted index.
func (idx *Naive) Payloads() []vecstore.Payload { return idx.payloads }

// MemoryUsage approximates resident bytes for capacity-planning metrics.
func (idx *Naive) MemoryUsage() int64 {
	var total int64
	for _, c := range idx.codes {
		total += int64(len(c))
	}
	total += idx.quantizer.MemoryUsage()
	for _, c := range idx.partition.centroids {
		total += int64(4 * len(c))
	}
	return total
}
