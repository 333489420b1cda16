// Package quant implements the quantization layer shared by HNSW and IVF:
// Trivial (pass-through), Scalar (per-dimension 8-bit), and Product
// (m x 256 sub-centroids, spec §4.3). Generalized from the teacher's
// internal/quant/{scalar,product}.go, which already implement the scalar
// and product algorithms against a Quantizer interface — kept and adapted
// to the spec's table-based query-distance API and to the (Metric, Dims)
// pair carried in the index's Options record instead of a fixed bit width.
package quant

import (
	"context"
	"fmt"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

// QuantizationType identifies which quantization algorithm a config selects.
type QuantizationType int

const (
	TrivialQuantization QuantizationType = iota
	ScalarQuantization
	ProductQuantization
)

func (qt QuantizationType) String() string {
	switch qt {
	case TrivialQuantization:
		return "trivial"
	case ScalarQuantization:
		return "scalar"
	case ProductQuantization:
		return "product"
	default:
		return "unknown"
	}
}

// QuantizationConfig holds the options carried in the Build0 Options
// record's `quantization` field (spec §6).
type QuantizationConfig struct {
	Type QuantizationType

	// Metric and Dims are copied from the enclosing index's Options record;
	// the quantizer needs them to build query tables and decode distances.
	Metric vecstore.Metric
	Dims   int

	// VectorKind restricts which (Type, Kind) combinations are legal.
	// Scalar quantization has no defined per-dimension min/max for sparse
	// vectors (spec §9 open question: the original source left this
	// unimplemented!()), so it is rejected here rather than silently
	// accepted or treated as a no-op.
	VectorKind vecstore.Kind

	// Product-quantization parameters (spec §4.3: "With ratio r").
	Ratio      int // dims per sub-space; w = ceil(dims/ratio)
	Sample     int // max training sample size (nsample)
	RandomSeed int64
}

// Validate checks the configuration is internally consistent.
func (qc *QuantizationConfig) Validate() error {
	if qc.Dims <= 0 || qc.Dims > vecstore.MaxDims {
		return fmt.Errorf("quant: dims %d out of range", qc.Dims)
	}
	switch qc.Type {
	case TrivialQuantization:
	case ScalarQuantization:
		if qc.VectorKind == vecstore.KindSparseF32 {
			return fmt.Errorf("quant: scalar quantization does not support sparse vectors")
		}
	case ProductQuantization:
		if qc.VectorKind == vecstore.KindSparseF32 {
			return fmt.Errorf("quant: product quantization does not support sparse vectors")
		}
		if qc.Ratio <= 0 {
			return fmt.Errorf("quant: product quantization ratio must be positive")
		}
		if qc.Sample <= 0 {
			return fmt.Errorf("quant: product quantization sample size must be positive")
		}
	default:
		return fmt.Errorf("quant: unsupported quantization type %s", qc.Type)
	}
	return nil
}

// QueryTable is an opaque, quantizer-specific structure precomputed once per
// query and reused across every candidate distance evaluation.
type QueryTable interface {
	isQueryTable()
}

// Quantizer is implemented by Trivial, Scalar, and Product quantizers.
type Quantizer interface {
	// Train fits the quantizer's parameters from a sample of training vectors.
	Train(ctx context.Context, vectors []vecstore.Vecf32) error

	// Encode compresses a vector to its persisted code.
	Encode(v vecstore.Vecf32) ([]byte, error)

	// Decode reconstructs an approximate vector from a persisted code.
	Decode(code []byte) (vecstore.Vecf32, error)

	// BuildQueryTable precomputes whatever a search needs to evaluate many
	// candidate distances against this query cheaply.
	BuildQueryTable(query vecstore.Vecf32) (QueryTable, error)

	// DistanceToCode evaluates the stored distance from a query table to an
	// already-encoded candidate.
	DistanceToCode(table QueryTable, code []byte) (float32, error)

	CodeSize() int
	IsTrained() bool
	MemoryUsage() int64
}

// QuantizerFactory creates quantizer instances; kept from the teacher's
// factory-registry pattern (internal/quant/registry.go) so Build0 can pick a
// constructor purely from the wire-level QuantizationType.
type QuantizerFactory interface {
	Create(config *QuantizationConfig) (Quantizer, error)
	Supports(qType QuantizationType) bool
	Name() string
}

// NewQuantizer constructs a quantizer of the configured type via the global
// factory registry (registry.go).
func NewQuantizer(cfg *QuantizationConfig) (Quantizer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("quant: config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return Create(cfg)
}
