package rawstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

const payloadSize = 16 // Payload{Pointer uint64, Time uint64}, Pod per spec §3

// rowSize returns the byte stride of one vector row for the dense kinds this
// store supports. SVecf32 has no fixed width and is not stored here; the
// quantizer that would otherwise need raw fallback for sparse vectors
// (Trivial over SVecf32) keeps its own encoding instead (spec §9 already
// rejects sparse for Scalar/Product, and the testable properties only
// exercise dense Vecf32).
func rowSize(kind vecstore.Kind, dims int) (int, error) {
	switch kind {
	case vecstore.KindF32:
		return 4 * dims, nil
	case vecstore.KindF16:
		return 2 * dims, nil
	case vecstore.KindBinary:
		words := (dims + 63) / 64
		return 8 * words, nil
	default:
		return 0, fmt.Errorf("rawstore: unsupported vector kind %v for contiguous raw storage", kind)
	}
}

// Store is the read-only facade over raw/vectors and raw/payload, shared by
// reference among the HNSW/IVF wrappers built on top of the same index
// (spec §4.4: "ownership is joint (reference-counted)").
type Store struct {
	refs int32

	dir  string
	kind vecstore.Kind
	dims int
	rows int

	stride int
	vecs   *region
	pays   *region
}

// Open mmaps an existing raw/vectors + raw/payload pair read-only. kind and
// dims come from the index's Options record (spec §6), since the raw files
// carry no self-describing header.
func Open(dir string, kind vecstore.Kind, dims int) (*Store, error) {
	stride, err := rowSize(kind, dims)
	if err != nil {
		return nil, err
	}

	vecs, err := openRegion(vectorsPath(dir))
	if err != nil {
		return nil, err
	}
	pays, err := openRegion(payloadPath(dir))
	if err != nil {
		vecs.close()
		return nil, err
	}

	rows := 0
	if stride > 0 {
		rows = len(vecs.data) / stride
	}
	if payloadRows := len(pays.data) / payloadSize; payloadRows != rows {
		vecs.close()
		pays.close()
		return nil, fmt.Errorf("rawstore: vectors row count %d does not match payload row count %d", rows, payloadRows)
	}

	return &Store{
		refs: 1, dir: dir, kind: kind, dims: dims,
		rows: rows, stride: stride, vecs: vecs, pays: pays,
	}, nil
}

// Acquire adds a reference, returning the same Store for convenience so a
// caller can write `s = s.Acquire()`.
func (s *Store) Acquire() *Store {
	atomic.AddInt32(&s.refs, 1)
	return s
}

// Release drops a reference, closing the underlying mappings once the last
// holder has released it.
func (s *Store) Release() error {
	if atomic.AddInt32(&s.refs, -1) > 0 {
		return nil
	}
	err1 := s.vecs.close()
	err2 := s.pays.close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Store) Len() int { return s.rows }

func (s *Store) Dims() int { return s.dims }

func (s *Store) Kind() vecstore.Kind { return s.kind }

// Vector decodes row i without copying the underlying bytes where possible.
func (s *Store) Vector(i int) (vecstore.Vector, error) {
	if i < 0 || i >= s.rows {
		return nil, fmt.Errorf("rawstore: index %d out of range [0,%d)", i, s.rows)
	}
	row := s.vecs.data[i*s.stride : (i+1)*s.stride]

	switch s.kind {
	case vecstore.KindF32:
		out := make(vecstore.Vecf32, s.dims)
		for j := range out {
			out[j] = math.Float32frombits(binary.LittleEndian.Uint32(row[j*4:]))
		}
		return out, nil
	case vecstore.KindF16:
		out := make(vecstore.Vecf16, s.dims)
		for j := range out {
			out[j] = vecstore.F16(binary.LittleEndian.Uint16(row[j*2:]))
		}
		return out, nil
	case vecstore.KindBinary:
		words := make([]uint64, s.stride/8)
		for j := range words {
			words[j] = binary.LittleEndian.Uint64(row[j*8:])
		}
		return &vecstore.BVecf32{D: s.dims, Words: words}, nil
	default:
		return nil, fmt.Errorf("rawstore: unsupported vector kind %v", s.kind)
	}
}

// Payload returns the (pointer, time) pair stored at row i.
func (s *Store) Payload(i int) (vecstore.Payload, error) {
	if i < 0 || i >= s.rows {
		return vecstore.Payload{}, fmt.Errorf("rawstore: index %d out of range [0,%d)", i, s.rows)
	}
	row := s.pays.data[i*payloadSize : (i+1)*payloadSize]
	return vecstore.Payload{
		Pointer: binary.LittleEndian.Uint64(row[0:8]),
		Time:    binary.LittleEndian.Uint64(row[8:16]),
	}, nil
}
