package quant

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

// ScalarQuantizer implements per-dimension 8-bit min-max quantization
// (spec §4.3 "Scalar (8-bit)"), generalized from the teacher's
// ScalarQuantizer (internal/quant/scalar.go), which already computed
// per-dimension min/max/scale/offset from a training set against a
// configurable Bits width; the spec defines only an 8-bit scalar code so
// the width is fixed here and the bit-packing collapses to one whole byte
// per dimension.
type ScalarQuantizer struct {
	mu sync.RWMutex

	cfg       *QuantizationConfig
	trained   bool
	dimension int

	min []float32
	max []float32
}

const scalarLevels = 256 // 8-bit codes, 0..255

func newScalarQuantizer(cfg *QuantizationConfig) *ScalarQuantizer {
	return &ScalarQuantizer{cfg: cfg, dimension: cfg.Dims}
}

func (sq *ScalarQuantizer) Train(ctx context.Context, vectors []vecstore.Vecf32) error {
	if len(vectors) == 0 {
		return fmt.Errorf("quant: scalar quantizer needs at least one training vector")
	}

	sq.mu.Lock()
	defer sq.mu.Unlock()

	d := sq.dimension
	sq.min = make([]float32, d)
	sq.max = make([]float32, d)
	copy(sq.min, vectors[0])
	copy(sq.max, vectors[0])

	for _, v := range vectors {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if len(v) != d {
			return fmt.Errorf("quant: training vector has %d dims, expected %d", len(v), d)
		}
		for j, x := range v {
			if x < sq.min[j] {
				sq.min[j] = x
			}
			if x > sq.max[j] {
				sq.max[j] = x
			}
		}
	}

	sq.trained = true
	return nil
}

// Encode clamps then linearly maps each component into [0,255]:
// clamp(floor((v[j]-min[j])/(max[j]-min[j])*256), 0, 255) per spec §4.3.
func (sq *ScalarQuantizer) Encode(v vecstore.Vecf32) ([]byte, error) {
	sq.mu.RLock()
	defer sq.mu.RUnlock()

	if !sq.trained {
		return nil, fmt.Errorf("quant: scalar quantizer not trained")
	}
	if len(v) != sq.dimension {
		return nil, fmt.Errorf("quant: vector has %d dims, expected %d", len(v), sq.dimension)
	}

	code := make([]byte, sq.dimension)
	for j, x := range v {
		rangeJ := sq.max[j] - sq.min[j]
		var level float64
		if rangeJ == 0 {
			level = 0
		} else {
			level = math.Floor(float64((x - sq.min[j]) / rangeJ * float32(scalarLevels)))
		}
		if level < 0 {
			level = 0
		}
		if level > scalarLevels-1 {
			level = scalarLevels - 1
		}
		code[j] = byte(level)
	}
	return code, nil
}

// Decode reconstructs using bin midpoints (spec §4.3).
func (sq *ScalarQuantizer) Decode(code []byte) (vecstore.Vecf32, error) {
	sq.mu.RLock()
	defer sq.mu.RUnlock()

	if !sq.trained {
		return nil, fmt.Errorf("quant: scalar quantizer not trained")
	}
	if len(code) != sq.dimension {
		return nil, fmt.Errorf("quant: code length %d does not match dims %d", len(code), sq.dimension)
	}

	out := make(vecstore.Vecf32, sq.dimension)
	for j, c := range code {
		rangeJ := sq.max[j] - sq.min[j]
		binWidth := rangeJ / float32(scalarLevels)
		out[j] = sq.min[j] + (float32(c)+0.5)*binWidth
	}
	return out, nil
}

type scalarQueryTable struct{ query vecstore.Vecf32 }

func (scalarQueryTable) isQueryTable() {}

func (sq *ScalarQuantizer) BuildQueryTable(query vecstore.Vecf32) (QueryTable, error) {
	if len(query) != sq.dimension {
		return nil, fmt.Errorf("quant: query has %d dims, expected %d", len(query), sq.dimension)
	}
	return scalarQueryTable{query: query}, nil
}

// DistanceToCode reconstructs the code's vector and applies the configured
// metric directly; scalar codes quantize each dimension independently so
// there is no table-lookup shortcut analogous to product quantization's.
func (sq *ScalarQuantizer) DistanceToCode(table QueryTable, code []byte) (float32, error) {
	tq, ok := table.(scalarQueryTable)
	if !ok {
		return 0, fmt.Errorf("quant: query table type mismatch for scalar quantizer")
	}
	recon, err := sq.Decode(code)
	if err != nil {
		return 0, err
	}
	switch sq.cfg.Metric {
	case vecstore.MetricL2:
		var sum float32
		for i := range tq.query {
			d := tq.query[i] - recon[i]
			sum += d * d
		}
		return sum, nil
	case vecstore.MetricDot:
		var sum float32
		for i := range tq.query {
			sum += tq.query[i] * recon[i]
		}
		return -sum, nil
	case vecstore.MetricCos:
		var xy, xx, yy float32
		for i := range tq.query {
			xy += tq.query[i] * recon[i]
			xx += tq.query[i] * tq.query[i]
			yy += recon[i] * recon[i]
		}
		if xx == 0 || yy == 0 {
			return 1, nil
		}
		return 1 - xy/float32(math.Sqrt(float64(xx)*float64(yy))), nil
	default:
		return 0, fmt.Errorf("quant: unsupported metric %v", sq.cfg.Metric)
	}
}

// State exposes the trained per-dimension min/max bounds so a caller (the
// IVF persistence layer) can serialize and later restore them; unexported
// fields can't round-trip through encoding/gob on their own.
func (sq *ScalarQuantizer) State() (min, max []float32) {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	return append([]float32(nil), sq.min...), append([]float32(nil), sq.max...)
}

// Restore installs previously-trained min/max bounds without rerunning
// Train, used when loading a persisted index.
func (sq *ScalarQuantizer) Restore(min, max []float32) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	sq.min = min
	sq.max = max
	sq.trained = true
}

func (sq *ScalarQuantizer) CodeSize() int { return sq.dimension }

func (sq *ScalarQuantizer) IsTrained() bool {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	return sq.trained
}

func (sq *ScalarQuantizer) MemoryUsage() int64 {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	return int64(len(sq.min)*4 + len(sq.max)*4)
}

// ScalarQuantizerFactory creates ScalarQuantizer instances, kept from the
// teacher's factory-registry pattern.
type ScalarQuantizerFactory struct{}

func NewScalarQuantizerFactory() *ScalarQuantizerFactory { return &ScalarQuantizerFactory{} }

func (f *ScalarQuantizerFactory) Create(config *QuantizationConfig) (Quantizer, error) {
	if config.Type != ScalarQuantization {
		return nil, fmt.Errorf("quant: unsupported quantization type %s", config.Type)
	}
	return newScalarQuantizer(config), nil
}

func (f *ScalarQuantizerFactory) Supports(qType QuantizationType) bool {
	return qType == ScalarQuantization
}

func (f *ScalarQuantizerFactory) Name() string { return "ScalarQuantizer" }
