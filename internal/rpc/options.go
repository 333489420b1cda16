package rpc

import (
	"fmt"

	"github.com/ivory-labs/vectord/internal/index/hnsw"
	"github.com/ivory-labs/vectord/internal/index/ivf"
	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/vecstore"
	"github.com/ivory-labs/vectord/internal/wrapper"
)

// WireAlgo selects one of the three indexing variants spec.md §6's Options
// record names: "indexing: Flat | Hnsw{...} | Ivf{...}".
type WireAlgo int

const (
	WireFlat WireAlgo = iota
	WireHnsw
	WireIvf
)

// WireQuantKind mirrors the quantization variant nested inside an Ivf
// option ("quantization: Trivial | Scalar | Product{ratio, sample}").
type WireQuantKind int

const (
	WireQuantTrivial WireQuantKind = iota
	WireQuantScalar
	WireQuantProduct
)

// WireQuantization is the Ivf variant's nested quantization choice.
type WireQuantization struct {
	Kind   WireQuantKind
	Ratio  int // Product only
	Sample int // Product only
}

// WireIndexing carries every field any of the three indexing variants uses;
// unused fields for a given Algo are ignored.
type WireIndexing struct {
	Algo WireAlgo

	// Hnsw
	M              int
	EfConstruction int
	MaxLevel       int

	// Ivf
	NList   int
	NProbe  int
	NSample int
	// LeastIterations and Iterations are accepted for wire fidelity with
	// spec.md's Options record but are not yet wired through: the coarse
	// k-means trainer (internal/kmeans.Train) runs a fixed iteration cap
	// rather than an options-controlled one.
	LeastIterations int
	Iterations      int
	Quantization    WireQuantization
}

// WireOptions is the Build0 Options record (spec.md §6).
type WireOptions struct {
	Dims       uint16
	Distance   vecstore.Metric
	VectorKind vecstore.Kind
	Indexing   WireIndexing
}

// ToWrapperOptions translates the wire record into the internal
// wrapper.Options Build/Load consume, selecting the Algo and any
// algorithm-specific sub-config.
func (o WireOptions) ToWrapperOptions() (*wrapper.Options, error) {
	if o.Dims == 0 {
		return nil, fmt.Errorf("rpc: dims must be in 1..65535")
	}
	dims := int(o.Dims)

	opts := &wrapper.Options{
		Dims:   dims,
		Kind:   o.VectorKind,
		Metric: o.Distance,
	}

	switch o.Indexing.Algo {
	case WireFlat:
		opts.Algo = wrapper.AlgoFlat

	case WireHnsw:
		opts.Algo = wrapper.AlgoHNSW
		opts.HNSW = hnsw.Config{
			M:              o.Indexing.M,
			EfConstruction: o.Indexing.EfConstruction,
			MaxLevel:       o.Indexing.MaxLevel,
		}

	case WireIvf:
		base := ivf.Config{
			NList:  o.Indexing.NList,
			NProbe: o.Indexing.NProbe,
			NSample: o.Indexing.NSample,
		}
		opts.IVF = base

		if o.Indexing.Quantization.Kind == WireQuantProduct {
			opts.Algo = wrapper.AlgoIvfPQ
			opts.PQRatio = o.Indexing.Quantization.Ratio
			opts.PQSample = o.Indexing.Quantization.Sample
		} else {
			opts.Algo = wrapper.AlgoIvfNaive
			qt := quant.TrivialQuantization
			if o.Indexing.Quantization.Kind == WireQuantScalar {
				qt = quant.ScalarQuantization
			}
			opts.Quantization = &quant.QuantizationConfig{
				Type:       qt,
				Metric:     o.Distance,
				Dims:       dims,
				VectorKind: o.VectorKind,
			}
		}

	default:
		return nil, fmt.Errorf("rpc: unknown indexing algo %d", o.Indexing.Algo)
	}

	return opts, nil
}
