// Package ivf implements the inverted-file index (spec §4.6): a coarse
// k-means partition shared by two search flavors, IvfNaive (quantizer of
// choice over permuted placements) and IvfPQ (product quantization over
// per-list residuals with a precomputed distance table).
//
// Grounded on the teacher's internal/index/ivfpq/ivfpq.go: the Config shape,
// the cluster/probe vocabulary, and the overall build-then-freeze lifecycle
// are kept, but the teacher only ever builds one flavor (IVF-PQ) with a
// hand-rolled k-means++ loop and mutable, physically-deletable clusters.
// Here the coarse quantizer is internal/kmeans.Train (Elkan acceleration),
// lists are immutable once built (spec.md §5: "IVF indexes are frozen"),
// and a second flavor (IvfNaive) is added in the same idiom since the spec
// requires both.
package ivf

import (
	"fmt"

	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// Config holds the parameters common to both IVF flavors (spec §4.6's
// "two flavors share a common coarse partition").
type Config struct {
	Dims   int
	Kind   vecstore.Kind
	Metric vecstore.Metric

	NList      int // number of coarse lists ("k = nlist")
	NProbe     int // default lists consulted per search; search-time value wins (spec §9)
	NSample    int // max sample size for coarse-centroid training
	RandomSeed int64

	// Workers bounds the concurrency of the parallel assignment pass
	// (spec §4.6 step 2). <= 0 defaults to a single worker.
	Workers int
}

func (c *Config) setDefaults() {
	if c.NProbe <= 0 {
		c.NProbe = 1
	}
	if c.NSample <= 0 {
		c.NSample = 100_000
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
}

func (c *Config) validate() error {
	if c.Dims <= 0 || c.Dims > vecstore.MaxDims {
		return fmt.Errorf("ivf: dims %d out of range", c.Dims)
	}
	if c.NList <= 0 {
		return fmt.Errorf("ivf: nlist must be positive")
	}
	if c.Kind == vecstore.KindSparseF32 {
		return fmt.Errorf("ivf: sparse vectors are not supported by coarse list partitioning")
	}
	return nil
}

// NaiveConfig configures IvfNaive: the shared Config plus a quantizer
// (trivial/scalar/product) that must not yet be trained — Build trains it on
// the same corpus used for list assignment.
type NaiveConfig struct {
	Config
	QuantConfig *quant.QuantizationConfig
}

// PQConfig configures IvfPQ: the shared Config plus the product-quantization
// ratio/sample parameters used to PQ-encode residuals (spec §4.6 "PQ on
// residuals").
type PQConfig struct {
	Config
	Ratio  int
	Sample int
}
