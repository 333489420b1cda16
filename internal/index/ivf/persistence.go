package ivf

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// Persisted files use the same CRC-checked, versioned-header shape as
// internal/index/hnsw/persistence.go, with the body gob-encoded instead of
// hand-packed: spec §9's domain-stack ledger assigns encoding/gob as this
// module's wire/persistence codec (the idiomatic Go analogue of the
// original's bincode), and the nested slice-of-slice shapes an IVF index
// carries (per-list precomputed tables, per-subspace PQ centroids) are
// exactly what gob is good at without a lot of manual offset bookkeeping.
const (
	ivfFileMagic   = "IVFXVIDX"
	ivfFormatVersion = uint32(1)
)

type ivfFileHeader struct {
	Magic       [8]byte
	Version     uint32
	Flavor      uint8 // 0 = naive, 1 = pq
	ChecksumCRC uint32
}

const ivfFileHeaderSize = 8 + 4 + 1 + 4

func atomicWrite(finalPath string, body []byte, flavor uint8) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("ivf: create directory: %w", err)
	}
	tempPath := finalPath + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("ivf: create temp file: %w", err)
	}

	hdr := ivfFileHeader{Version: ivfFormatVersion, Flavor: flavor, ChecksumCRC: crc32.ChecksumIEEE(body)}
	copy(hdr.Magic[:], ivfFileMagic)

	writeErr := binary.Write(f, binary.LittleEndian, hdr)
	if writeErr == nil {
		_, writeErr = f.Write(body)
	}
	if syncErr := f.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}
	if closeErr := f.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("ivf: write: %w", writeErr)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("ivf: rename temp file: %w", err)
	}
	return nil
}

func readBody(path string, wantFlavor uint8) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ivf: open %s: %w", path, err)
	}
	if len(raw) < ivfFileHeaderSize {
		return nil, fmt.Errorf("ivf: truncated file %s", path)
	}
	var hdr ivfFileHeader
	if err := binary.Read(bytes.NewReader(raw[:ivfFileHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("ivf: read header: %w", err)
	}
	if string(hdr.Magic[:]) != ivfFileMagic {
		return nil, fmt.Errorf("ivf: bad magic in %s", path)
	}
	if hdr.Version != ivfFormatVersion {
		return nil, fmt.Errorf("ivf: unsupported format version %d", hdr.Version)
	}
	if hdr.Flavor != wantFlavor {
		return nil, fmt.Errorf("ivf: flavor mismatch in %s", path)
	}
	body := raw[ivfFileHeaderSize:]
	if crc32.ChecksumIEEE(body) != hdr.ChecksumCRC {
		return nil, fmt.Errorf("ivf: checksum mismatch in %s", path)
	}
	return body, nil
}

// naiveSnapshot is the gob-serializable shape of a Naive index.
type naiveSnapshot struct {
	Cfg         Config
	QuantCfg    quant.QuantizationConfig
	Centroids   [][]float32
	Ptr         []uint32
	Placements  []uint32
	Assignment  []int
	Codes       [][]byte
	Payloads    []vecstore.Payload
	ScalarMin   []float32 // non-nil only for scalar quantizers
	ScalarMax   []float32
	PQCentroids [][][]float32 // non-nil only for product quantizers
}

// Save persists a Naive index to path.
func (idx *Naive) Save(path string) error {
	snap := naiveSnapshot{
		Cfg:        *idx.cfg,
		QuantCfg:   *idx.quantCfg,
		Centroids:  idx.partition.centroids,
		Ptr:        idx.partition.ptr,
		Placements: idx.partition.placements,
		Assignment: idx.partition.assignment,
		Codes:      idx.codes,
		Payloads:   idx.payloads,
	}
	switch q := idx.quantizer.(type) {
	case *quant.ScalarQuantizer:
		snap.ScalarMin, snap.ScalarMax = q.State()
	case *quant.ProductQuantizer:
		snap.PQCentroids = q.Centroids()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("ivf: encode naive snapshot: %w", err)
	}
	return atomicWrite(path, buf.Bytes(), 0)
}

// LoadNaive reconstructs a Naive index previously written by Save.
func LoadNaive(path string) (*Naive, error) {
	body, err := readBody(path, 0)
	if err != nil {
		return nil, err
	}
	var snap naiveSnapshot
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("ivf: decode naive snapshot: %w", err)
	}

	quantizer, err := quant.NewQuantizer(&snap.QuantCfg)
	if err != nil {
		return nil, fmt.Errorf("ivf: rebuild quantizer: %w", err)
	}
	switch q := quantizer.(type) {
	case *quant.ScalarQuantizer:
		q.Restore(snap.ScalarMin, snap.ScalarMax)
	case *quant.ProductQuantizer:
		q.RestoreCentroids(snap.PQCentroids)
	}

	distFn, err := distFnFor(&snap.Cfg)
	if err != nil {
		return nil, err
	}

	return &Naive{
		cfg:       &snap.Cfg,
		quantCfg:  &snap.QuantCfg,
		quantizer: quantizer,
		distFn:    distFn,
		partition: &coarsePartition{
			centroids:  snap.Centroids,
			ptr:        snap.Ptr,
			placements: snap.Placements,
			assignment: snap.Assignment,
		},
		codes:    snap.Codes,
		payloads: snap.Payloads,
	}, nil
}

// pqSnapshot is the gob-serializable shape of a PQ index.
type pqSnapshot struct {
	Cfg         Config
	Ratio       int
	Centroids   [][]float32
	Ptr         []uint32
	Placements  []uint32
	Assignment  []int
	Offsets     []int
	Widths      []int
	PQCentroids [][][]float32
	Precomputed [][][]float32
	Codes       [][]byte
	Payloads    []vecstore.Payload
}

// Save persists a PQ index to path.
func (idx *PQ) Save(path string) error {
	snap := pqSnapshot{
		Cfg:         *idx.cfg,
		Ratio:       idx.ratio,
		Centroids:   idx.partition.centroids,
		Ptr:         idx.partition.ptr,
		Placements:  idx.partition.placements,
		Assignment:  idx.partition.assignment,
		Offsets:     idx.offsets,
		Widths:      idx.widths,
		PQCentroids: idx.pq.Centroids(),
		Precomputed: idx.precomputed,
		Codes:       idx.codes,
		Payloads:    idx.payloads,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("ivf: encode pq snapshot: %w", err)
	}
	return atomicWrite(path, buf.Bytes(), 1)
}

// LoadPQ reconstructs a PQ index previously written by Save.
func LoadPQ(path string) (*PQ, error) {
	body, err := readBody(path, 1)
	if err != nil {
		return nil, err
	}
	var snap pqSnapshot
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("ivf: decode pq snapshot: %w", err)
	}

	qcfg := &quant.QuantizationConfig{
		Type:       quant.ProductQuantization,
		Metric:     vecstore.MetricDot,
		Dims:       snap.Cfg.Dims,
		VectorKind: snap.Cfg.Kind,
		Ratio:      snap.Ratio,
		Sample:     1,
		RandomSeed: snap.Cfg.RandomSeed,
	}
	quantizer, err := quant.NewQuantizer(qcfg)
	if err != nil {
		return nil, fmt.Errorf("ivf: rebuild pq quantizer: %w", err)
	}
	pq, ok := quantizer.(*quant.ProductQuantizer)
	if !ok {
		return nil, fmt.Errorf("ivf: expected product quantizer")
	}
	pq.RestoreCentroids(snap.PQCentroids)

	distFn, err := distFnFor(&snap.Cfg)
	if err != nil {
		return nil, err
	}

	return &PQ{
		cfg:    &snap.Cfg,
		ratio:  snap.Ratio,
		distFn: distFn,
		partition: &coarsePartition{
			centroids:  snap.Centroids,
			ptr:        snap.Ptr,
			placements: snap.Placements,
			assignment: snap.Assignment,
		},
		pq:          pq,
		offsets:     snap.Offsets,
		widths:      snap.Widths,
		precomputed: snap.Precomputed,
		codes:       snap.Codes,
		payloads:    snap.Payloads,
	}, nil
}
