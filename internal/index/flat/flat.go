// Package flat implements the brute-force index named by spec.md's Options
// record ("indexing: Flat | Hnsw{...} | Ivf{...}"): no graph, no coarse
// partition, a linear scan against every stored vector.
//
// Grounded on the teacher's internal/index/flat package (Index/Config
// shape, Insert/Search/Size/MemoryUsage), rebuilt around this module's
// vecstore.Payload/Vector types instead of the teacher's string-id
// VectorEntry, and around internal/util's bounded max-heap instead of the
// teacher's O(n^2) bubble-sort-then-truncate top-k selection. Optional
// quantization reuses the shared internal/quant interface the way HNSW
// and IVF do, rather than the teacher's now-superseded quant.Create.
package flat

import (
	"context"
	"fmt"
	"sync"

	"github.com/ivory-labs/vectord/internal/distkernel"
	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/util"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// Config holds the parameters a flat index needs: no structural knobs, just
// enough to resolve a distance kernel and an optional quantizer.
type Config struct {
	Dims   int
	Kind   vecstore.Kind
	Metric vecstore.Metric

	// Quantizer is optional; when set it must already be trained, matching
	// hnsw.Config's contract (build streams the full corpus up front).
	// QuantCfg is the config that produced it, kept alongside so
	// persistence can rebuild an equivalent quantizer on Load without
	// gob-encoding the (mutex-bearing, unexported-field) quantizer itself.
	Quantizer quant.Quantizer
	QuantCfg  *quant.QuantizationConfig
}

func (c *Config) validate() error {
	if c.Dims <= 0 || c.Dims > vecstore.MaxDims {
		return fmt.Errorf("flat: dims %d out of range", c.Dims)
	}
	return nil
}

// Result is one search hit, same contract as hnsw.Result and ivf.Result:
// the wrapper filters it through the version map before returning it.
type Result struct {
	Payload  vecstore.Payload
	Distance float32
}

type entry struct {
	vector  vecstore.Vector
	code    []byte
	payload vecstore.Payload
}

// Index is a linear-scan index: every Insert appends, every Search scans
// the full table. Useful as a correctness baseline and for corpora too
// small to amortize HNSW's or IVF's build cost.
type Index struct {
	mu        sync.RWMutex
	cfg       *Config
	distFn    distkernel.Func
	quantizer quant.Quantizer
	entries   []entry
}

// New constructs an empty flat index.
func New(cfg *Config) (*Index, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	distFn, err := distkernel.Get(cfg.Kind, cfg.Metric)
	if err != nil {
		return nil, fmt.Errorf("flat: %w", err)
	}
	return &Index{cfg: cfg, distFn: distFn, quantizer: cfg.Quantizer}, nil
}

// Insert appends one vector, optionally encoding it through the configured
// quantizer.
func (idx *Index) Insert(ctx context.Context, v vecstore.Vector, payload vecstore.Payload) error {
	if v.Dims() != idx.cfg.Dims {
		return fmt.Errorf("flat: vector dims %d != index dims %d", v.Dims(), idx.cfg.Dims)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	e := entry{payload: payload}
	if idx.quantizer != nil {
		code, err := idx.quantizer.Encode(v)
		if err != nil {
			return fmt.Errorf("flat: encode: %w", err)
		}
		e.code = code
	} else {
		e.vector = v
	}
	idx.entries = append(idx.entries, e)
	return nil
}

// Search linearly scans every entry, keeping the k closest in a bounded
// max-heap (the same eviction pattern hnsw.beamSearchLayer and
// ivf's topKHeap use).
func (idx *Index) Search(ctx context.Context, query vecstore.Vector, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if k <= 0 || len(idx.entries) == 0 {
		return nil, nil
	}

	var table quant.QueryTable
	if idx.quantizer != nil {
		qf32, ok := query.(vecstore.Vecf32)
		if ok {
			t, err := idx.quantizer.BuildQueryTable(qf32)
			if err != nil {
				return nil, fmt.Errorf("flat: build query table: %w", err)
			}
			table = t
		}
	}

	heap := util.NewMaxHeap(k)
	for i, e := range idx.entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var d float32
		var err error
		switch {
		case table != nil:
			d, err = idx.quantizer.DistanceToCode(table, e.code)
		case e.vector != nil:
			d, err = idx.distFn(query, e.vector)
		default:
			decoded, derr := idx.quantizer.Decode(e.code)
			if derr != nil {
				return nil, fmt.Errorf("flat: decode: %w", derr)
			}
			d, err = idx.distFn(query, decoded)
		}
		if err != nil {
			return nil, fmt.Errorf("flat: distance: %w", err)
		}
		if heap.Len() < k || d < heap.Top().Distance {
			heap.PushCandidate(&util.Candidate{ID: uint32(i), Distance: d})
			if heap.Len() > k {
				heap.PopCandidate()
			}
		}
	}

	out := make([]Result, heap.Len())
	for i := len(out) - 1; i >= 0; i-- {
		c := heap.PopCandidate()
		out[i] = Result{Payload: idx.entries[c.ID].payload, Distance: c.Distance}
	}
	return out, nil
}

// Size returns the number of vectors indexed.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Payloads returns every indexed payload in insertion order, used by the
// wrapper to rebuild a fresh version map when reopening a persisted index.
func (idx *Index) Payloads() []vecstore.Payload {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]vecstore.Payload, len(idx.entries))
	for i, e := range idx.entries {
		out[i] = e.payload
	}
	return out
}

// MemoryUsage approximates resident bytes for capacity-planning metrics.
func (idx *Index) MemoryUsage() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var total int64
	for _, e := range idx.entries {
		if e.vector != nil {
			total += int64(4 * e.vector.Dims())
		}
		total += int64(len(e.code))
	}
	if idx.quantizer != nil {
		total += idx.quantizer.MemoryUsage()
	}
	return total
}
