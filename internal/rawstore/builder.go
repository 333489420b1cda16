package rawstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

// Builder streams (vector, payload) pairs to raw/vectors and raw/payload
// during a build (spec §6's Build1 streaming phase), then hands off a
// read-only mmap'd Store via Finalize. Grounded on the teacher's
// NewMemoryMap write-then-mmap pattern (internal/memory/mmap.go), split
// into a sequential-write phase so rows never need to be held in memory.
type Builder struct {
	dir    string
	kind   vecstore.Kind
	dims   int
	stride int
	rows   int

	vecFile *os.File
	payFile *os.File
	vecW    *bufio.Writer
	payW    *bufio.Writer
}

func NewBuilder(dir string, kind vecstore.Kind, dims int) (*Builder, error) {
	stride, err := rowSize(kind, dims)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, "raw"), 0o755); err != nil {
		return nil, fmt.Errorf("rawstore: create raw dir: %w", err)
	}

	vecFile, err := os.Create(vectorsPath(dir))
	if err != nil {
		return nil, fmt.Errorf("rawstore: create vectors file: %w", err)
	}
	payFile, err := os.Create(payloadPath(dir))
	if err != nil {
		vecFile.Close()
		return nil, fmt.Errorf("rawstore: create payload file: %w", err)
	}

	return &Builder{
		dir: dir, kind: kind, dims: dims, stride: stride,
		vecFile: vecFile, payFile: payFile,
		vecW: bufio.NewWriter(vecFile), payW: bufio.NewWriter(payFile),
	}, nil
}

// Append writes one row to each file. Rows are appended in placement order;
// callers that need a permutation (IVF) write in the permuted order directly
// rather than reordering afterward.
func (b *Builder) Append(v vecstore.Vector, p vecstore.Payload) error {
	if v.Dims() != b.dims {
		return fmt.Errorf("rawstore: vector has %d dims, expected %d", v.Dims(), b.dims)
	}

	buf := make([]byte, b.stride)
	switch b.kind {
	case vecstore.KindF32:
		vv, ok := v.(vecstore.Vecf32)
		if !ok {
			return fmt.Errorf("rawstore: expected Vecf32, got %T", v)
		}
		for j, x := range vv {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(x))
		}
	case vecstore.KindF16:
		vv, ok := v.(vecstore.Vecf16)
		if !ok {
			return fmt.Errorf("rawstore: expected Vecf16, got %T", v)
		}
		for j, x := range vv {
			binary.LittleEndian.PutUint16(buf[j*2:], uint16(x))
		}
	case vecstore.KindBinary:
		vv, ok := v.(*vecstore.BVecf32)
		if !ok {
			return fmt.Errorf("rawstore: expected BVecf32, got %T", v)
		}
		for j, w := range vv.Words {
			binary.LittleEndian.PutUint64(buf[j*8:], w)
		}
	default:
		return fmt.Errorf("rawstore: unsupported vector kind %v", b.kind)
	}

	if _, err := b.vecW.Write(buf); err != nil {
		return fmt.Errorf("rawstore: write vector row: %w", err)
	}

	payBuf := make([]byte, payloadSize)
	binary.LittleEndian.PutUint64(payBuf[0:8], p.Pointer)
	binary.LittleEndian.PutUint64(payBuf[8:16], p.Time)
	if _, err := b.payW.Write(payBuf); err != nil {
		return fmt.Errorf("rawstore: write payload row: %w", err)
	}

	b.rows++
	return nil
}

// Finalize flushes and closes the write handles, then opens a read-only
// mmap'd Store over the files just written.
func (b *Builder) Finalize() (*Store, error) {
	if err := b.vecW.Flush(); err != nil {
		return nil, fmt.Errorf("rawstore: flush vectors: %w", err)
	}
	if err := b.payW.Flush(); err != nil {
		return nil, fmt.Errorf("rawstore: flush payload: %w", err)
	}
	if err := b.vecFile.Close(); err != nil {
		return nil, fmt.Errorf("rawstore: close vectors file: %w", err)
	}
	if err := b.payFile.Close(); err != nil {
		return nil, fmt.Errorf("rawstore: close payload file: %w", err)
	}
	return Open(b.dir, b.kind, b.dims)
}
