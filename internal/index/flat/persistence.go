package flat

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

// Persisted files share the CRC-checked, versioned-header shape used by
// internal/index/hnsw and internal/index/ivf's persistence files, with a
// gob-encoded body per spec §9's encoding/gob codec assignment.
const (
	flatFileMagic   = "FLATVIDX"
	flatFormatVersion = uint32(1)
)

type flatFileHeader struct {
	Magic       [8]byte
	Version     uint32
	ChecksumCRC uint32
}

const flatFileHeaderSize = 8 + 4 + 4

type flatEntrySnapshot struct {
	Vector  []float32 // nil when the index quantizes (Code is set instead)
	Code    []byte
	Payload vecstore.Payload
}

// baseConfig is Config stripped of its live Quantizer (an interface value
// gob cannot encode: the concrete quantizers carry mutexes and unexported
// fields). QuantCfg travels separately and is what Load uses to rebuild an
// equivalent quantizer.
type baseConfig struct {
	Dims   int
	Kind   vecstore.Kind
	Metric vecstore.Metric
}

type flatSnapshot struct {
	Cfg         baseConfig
	HasQuantCfg bool
	QuantCfg    quant.QuantizationConfig
	ScalarMin   []float32
	ScalarMax   []float32
	PQCentroids [][][]float32
	Entries     []flatEntrySnapshot
}

// Save persists the index to path.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	snap := flatSnapshot{Cfg: baseConfig{Dims: idx.cfg.Dims, Kind: idx.cfg.Kind, Metric: idx.cfg.Metric}}
	if idx.cfg.QuantCfg != nil {
		snap.HasQuantCfg = true
		snap.QuantCfg = *idx.cfg.QuantCfg
	}
	snap.Entries = make([]flatEntrySnapshot, len(idx.entries))
	for i, e := range idx.entries {
		es := flatEntrySnapshot{Code: e.code, Payload: e.payload}
		if e.vector != nil {
			if vf32, ok := e.vector.(vecstore.Vecf32); ok {
				es.Vector = []float32(vf32)
			}
		}
		snap.Entries[i] = es
	}

	if idx.quantizer != nil {
		switch q := idx.quantizer.(type) {
		case *quant.ScalarQuantizer:
			snap.ScalarMin, snap.ScalarMax = q.State()
		case *quant.ProductQuantizer:
			snap.PQCentroids = q.Centroids()
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("flat: encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("flat: create directory: %w", err)
	}
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("flat: create temp file: %w", err)
	}
	hdr := flatFileHeader{Version: flatFormatVersion, ChecksumCRC: crc32.ChecksumIEEE(buf.Bytes())}
	copy(hdr.Magic[:], flatFileMagic)

	writeErr := binary.Write(f, binary.LittleEndian, hdr)
	if writeErr == nil {
		_, writeErr = f.Write(buf.Bytes())
	}
	if syncErr := f.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}
	if closeErr := f.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("flat: write: %w", writeErr)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("flat: rename temp file: %w", err)
	}
	return nil
}

// Load reconstructs an index previously written by Save.
func Load(path string) (*Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("flat: open %s: %w", path, err)
	}
	if len(raw) < flatFileHeaderSize {
		return nil, fmt.Errorf("flat: truncated file %s", path)
	}
	var hdr flatFileHeader
	if err := binary.Read(bytes.NewReader(raw[:flatFileHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("flat: read header: %w", err)
	}
	if string(hdr.Magic[:]) != flatFileMagic {
		return nil, fmt.Errorf("flat: bad magic in %s", path)
	}
	if hdr.Version != flatFormatVersion {
		return nil, fmt.Errorf("flat: unsupported format version %d", hdr.Version)
	}
	body := raw[flatFileHeaderSize:]
	if crc32.ChecksumIEEE(body) != hdr.ChecksumCRC {
		return nil, fmt.Errorf("flat: checksum mismatch in %s", path)
	}

	var snap flatSnapshot
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("flat: decode snapshot: %w", err)
	}

	cfg := &Config{Dims: snap.Cfg.Dims, Kind: snap.Cfg.Kind, Metric: snap.Cfg.Metric}
	if snap.HasQuantCfg {
		qcfg := snap.QuantCfg
		quantizer, err := quant.NewQuantizer(&qcfg)
		if err != nil {
			return nil, fmt.Errorf("flat: rebuild quantizer: %w", err)
		}
		switch q := quantizer.(type) {
		case *quant.ScalarQuantizer:
			q.Restore(snap.ScalarMin, snap.ScalarMax)
		case *quant.ProductQuantizer:
			q.RestoreCentroids(snap.PQCentroids)
		}
		cfg.Quantizer = quantizer
		cfg.QuantCfg = &qcfg
	}

	idx, err := New(cfg)
	if err != nil {
		return nil, err
	}

	idx.entries = make([]entry, len(snap.Entries))
	for i, es := range snap.Entries {
		e := entry{code: es.Code, payload: es.Payload}
		if es.Vector != nil {
			e.vector = vecstore.Vecf32(es.Vector)
		}
		idx.entries[i] = e
	}
	return idx, nil
}
