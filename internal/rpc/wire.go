// Package rpc implements the framed request/response protocol the daemon
// speaks over its listening socket (spec §6 External Interfaces): a
// length-prefixed frame wrapping a gob-encoded message, dispatched against
// internal/registry and internal/wrapper.
//
// Grounded on the `encoding/gob`-based wire formats already used inside this
// module's own persistence files (internal/index/ivf, internal/index/flat),
// generalized from an on-disk snapshot codec to a request/response one.
package rpc

import (
	"fmt"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

// WireVector is the wire-level representation of one of the four vector
// kinds spec.md §6's Options record names (Vecf32 | Vecf16 | SVecf32 |
// BVecf32). Exactly one of the kind-specific field groups is populated,
// selected by Kind; gob encodes every field in every message, so this costs
// wire bytes but keeps the message shape a plain struct, as the rest of this
// module's persisted structs already are.
type WireVector struct {
	Kind vecstore.Kind

	F32 []float32 // KindF32

	F16 []uint16 // KindF16, raw binary16 bit patterns

	SparseDims    int // KindSparseF32
	SparseIndices []uint32
	SparseValues  []float32

	BinaryDims  int // KindBinary
	BinaryWords []uint64
}

// FromVector captures a live vecstore.Vector as its wire form, used by a
// client to encode the vector of a Build1, Insert or Search request.
func FromVector(v vecstore.Vector) WireVector {
	switch vv := v.(type) {
	case vecstore.Vecf32:
		return WireVector{Kind: vecstore.KindF32, F32: append([]float32(nil), vv...)}
	case vecstore.Vecf16:
		bits := make([]uint16, len(vv))
		for i, x := range vv {
			bits[i] = uint16(x)
		}
		return WireVector{Kind: vecstore.KindF16, F16: bits}
	case *vecstore.SVecf32:
		return WireVector{
			Kind:          vecstore.KindSparseF32,
			SparseDims:    vv.D,
			SparseIndices: append([]uint32(nil), vv.Indices...),
			SparseValues:  append([]float32(nil), vv.Values...),
		}
	case *vecstore.BVecf32:
		return WireVector{Kind: vecstore.KindBinary, BinaryDims: vv.D, BinaryWords: append([]uint64(nil), vv.Words...)}
	default:
		return WireVector{}
	}
}

// ToVector reconstructs the concrete vecstore.Vector this wire value
// represents.
func (w WireVector) ToVector() (vecstore.Vector, error) {
	switch w.Kind {
	case vecstore.KindF32:
		return vecstore.Vecf32(w.F32), nil
	case vecstore.KindF16:
		out := make(vecstore.Vecf16, len(w.F16))
		for i, b := range w.F16 {
			out[i] = vecstore.F16(b)
		}
		return out, nil
	case vecstore.KindSparseF32:
		return &vecstore.SVecf32{D: w.SparseDims, Indices: w.SparseIndices, Values: w.SparseValues}, nil
	case vecstore.KindBinary:
		return &vecstore.BVecf32{D: w.BinaryDims, Words: w.BinaryWords}, nil
	default:
		return nil, fmt.Errorf("rpc: unknown vector kind %d", w.Kind)
	}
}

// ToVecf32 widens any of the four kinds to a dense float32 vector. Index
// builds accumulate their corpus as vecstore.Vecf32 regardless of the
// configured storage kind (internal/wrapper.Build's signature), so a
// Build1 frame carrying a Vecf16/SVecf32/BVecf32 vector still needs a dense
// form to hand to the quantizer trainer and the index builder.
func (w WireVector) ToVecf32() (vecstore.Vecf32, error) {
	v, err := w.ToVector()
	if err != nil {
		return nil, err
	}
	if f32, ok := v.(vecstore.Vecf32); ok {
		return f32, nil
	}

	dims := v.Dims()
	out := make(vecstore.Vecf32, dims)
	switch vv := v.(type) {
	case vecstore.Vecf16:
		for i, x := range vv {
			out[i] = x.Float32()
		}
	case *vecstore.SVecf32:
		for i, idx := range vv.Indices {
			out[idx] = vv.Values[i]
		}
	case *vecstore.BVecf32:
		for i := 0; i < dims; i++ {
			if vv.Get(i) {
				out[i] = 1
			}
		}
	}
	return out, nil
}
