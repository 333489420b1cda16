package hnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/ivory-labs/vectord/internal/rawstore"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// Save persists the graph to path: a CRC-checked header followed by one
// record per node (payload, row, optional raw vector or quantized code,
// then each layer's edge list). Nodes are appended in slab order, so a
// node's position in the file is its slab index.
//
// Grounded on the teacher's SaveToDisk/atomicWrite (persistence.go): the
// write-to-temp-file-then-rename pattern is kept verbatim, the section
// layout is rebuilt around this package's Node/edge shapes.
func (h *Index) Save(path string) error {
	h.nodesMu.RLock()
	defer h.nodesMu.RUnlock()
	h.entry.mu.RLock()
	defer h.entry.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("hnsw: create directory: %w", err)
	}

	return atomicWrite(path, func(f *os.File) error {
		w := bufio.NewWriter(f)

		body, err := h.encodeBody()
		if err != nil {
			return err
		}

		hdr := graphFileHeader{
			Version:     graphFormatVersion,
			NodeCount:   uint32(len(h.nodes)),
			Dims:        uint32(h.cfg.Dims),
			EntryID:     h.entry.id,
			EntryLevel:  int32(h.entry.level),
			ChecksumCRC: crc32.ChecksumIEEE(body),
		}
		copy(hdr.Magic[:], graphFileMagic)

		if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
			return fmt.Errorf("hnsw: write header: %w", err)
		}
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("hnsw: write body: %w", err)
		}
		return w.Flush()
	})
}

func (h *Index) encodeBody() ([]byte, error) {
	var buf []byte
	putU32 := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }
	putU64 := func(v uint64) { buf = binary.LittleEndian.AppendUint64(buf, v) }
	putF32 := func(v float32) { buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v)) }

	for _, n := range h.nodes {
		putU64(n.Payload.Pointer)
		putU64(n.Payload.Time)
		putU32(n.Row)
		putU32(uint32(n.Level))

		if n.Vector != nil {
			vf32, ok := n.Vector.(vecstore.Vecf32)
			if !ok {
				return nil, fmt.Errorf("hnsw: persistence only supports dense f32 in-graph vectors")
			}
			putU32(uint32(len(vf32)))
			for _, c := range vf32 {
				putF32(c)
			}
		} else {
			putU32(0)
		}

		putU32(uint32(len(n.Code)))
		buf = append(buf, n.Code...)

		for _, layer := range n.Layers {
			edges := layer.snapshot()
			putU32(uint32(len(edges)))
			for _, e := range edges {
				putU32(e.neighbor)
				putF32(e.distance)
			}
		}
	}
	return buf, nil
}

// Load reconstructs an index from a file written by Save. raw may be nil
// when the caller only needs the quantized/approximate path (tests).
func Load(path string, cfg *Config, raw *rawstore.Store) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hnsw: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr graphFileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("hnsw: read header: %w", err)
	}
	if string(hdr.Magic[:]) != graphFileMagic {
		return nil, fmt.Errorf("hnsw: bad magic in %s", path)
	}
	if hdr.Version != graphFormatVersion {
		return nil, fmt.Errorf("hnsw: unsupported format version %d", hdr.Version)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("hnsw: read body: %w", err)
	}
	if crc32.ChecksumIEEE(body) != hdr.ChecksumCRC {
		return nil, fmt.Errorf("hnsw: checksum mismatch in %s", path)
	}

	idx, err := New(cfg, raw)
	if err != nil {
		return nil, err
	}

	off := 0
	readU32 := func() uint32 { v := binary.LittleEndian.Uint32(body[off : off+4]); off += 4; return v }
	readU64 := func() uint64 { v := binary.LittleEndian.Uint64(body[off : off+8]); off += 8; return v }
	readF32 := func() float32 { return math.Float32frombits(readU32()) }

	nodes := make([]*Node, 0, hdr.NodeCount)
	for i := uint32(0); i < hdr.NodeCount; i++ {
		payload := vecstore.Payload{Pointer: readU64(), Time: readU64()}
		row := readU32()
		level := int(readU32())

		vecLen := readU32()
		var vec vecstore.Vector
		if vecLen > 0 {
			vf32 := make(vecstore.Vecf32, vecLen)
			for j := range vf32 {
				vf32[j] = readF32()
			}
			vec = vf32
		}

		codeLen := readU32()
		var code []byte
		if codeLen > 0 {
			code = append([]byte(nil), body[off:off+int(codeLen)]...)
			off += int(codeLen)
		}

		n := newNode(payload, row, level, vec, code)
		for l := 0; l <= level; l++ {
			count := readU32()
			edges := make([]edge, count)
			for k := range edges {
				edges[k] = edge{neighbor: readU32(), distance: readF32()}
			}
			n.Layers[l].replace(edges)
		}
		nodes = append(nodes, n)
	}

	idx.nodes = nodes
	idx.entry.id = hdr.EntryID
	idx.entry.level = int(hdr.EntryLevel)
	return idx, nil
}

func atomicWrite(finalPath string, writeFunc func(*os.File) error) error {
	tempPath := finalPath + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("hnsw: create temp file: %w", err)
	}

	writeErr := writeFunc(f)
	if syncErr := f.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}
	if closeErr := f.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("hnsw: write: %w", writeErr)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("hnsw: rename temp file: %w", err)
	}
	return nil
}
