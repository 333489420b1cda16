package wrapper

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/ivory-labs/vectord/internal/index/hnsw"
	"github.com/ivory-labs/vectord/internal/index/ivf"
	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// The meta file is the "options, algo-forever blob" spec.md §3 names: the
// one thing every other per-handle file (wal, flat/graph/ivf) depends on to
// even be opened, so it is written first, at Build time, and never again.
// Shares the CRC-checked, versioned-header-plus-gob-body shape used by
// internal/index/flat, hnsw, and ivf's own persistence files (spec §9's
// encoding/gob codec assignment).
const (
	metaFileMagic     = "VECTMETA"
	metaFormatVersion = uint32(1)
)

type metaFileHeader struct {
	Magic       [8]byte
	Version     uint32
	ChecksumCRC uint32
}

const metaFileHeaderSize = 8 + 4 + 4

func metaPath(dir string) string { return filepath.Join(dir, "meta") }

// metaSnapshot is Options stripped of Dir (meta lives inside that directory,
// so recording it would be redundant) and of HNSW.Quantizer (an interface
// value gob cannot encode directly). Quantization records the quantizer's
// configuration only; Load does not rebuild a quantizer from it. Flat and
// IVF index files carry their own quantizer state, and a quantized HNSW
// handle reopens with no quantizer configured.
type metaSnapshot struct {
	Algo     Algo
	Dims     int
	Kind     vecstore.Kind
	Metric   vecstore.Metric
	HNSW     hnsw.Config
	IVF      ivf.Config
	PQRatio  int
	PQSample int

	HasQuantization bool
	Quantization    quant.QuantizationConfig
}

// writeMeta seals opts into dir/meta. Called once, at Build time, before the
// WAL is opened: spec §3 requires meta to precede any replay record.
func writeMeta(opts *Options) error {
	snap := metaSnapshot{
		Algo:     opts.Algo,
		Dims:     opts.Dims,
		Kind:     opts.Kind,
		Metric:   opts.Metric,
		HNSW:     opts.HNSW,
		IVF:      opts.IVF,
		PQRatio:  opts.PQRatio,
		PQSample: opts.PQSample,
	}
	snap.HNSW.Quantizer = nil
	if opts.Quantization != nil {
		snap.HasQuantization = true
		snap.Quantization = *opts.Quantization
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("wrapper: encode meta: %w", err)
	}

	path := metaPath(opts.Dir)
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("wrapper: create meta temp file: %w", err)
	}
	hdr := metaFileHeader{Version: metaFormatVersion, ChecksumCRC: crc32.ChecksumIEEE(buf.Bytes())}
	copy(hdr.Magic[:], metaFileMagic)

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
		return fmt.Errorf("wrapper: write meta: %w", writeErr)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("wrapper: rename meta temp file: %w", err)
	}
	return nil
}

// readMeta reconstructs the Options a handle was built with from dir/meta.
// A missing or truncated meta file is spec §7's "truncated meta log" error
// kind: there is nothing to replay without it, so the load fails outright
// rather than falling back to caller-supplied options.
func readMeta(dir string) (*Options, error) {
	path := metaPath(dir)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wrapper: read meta: %w", err)
	}
	if len(raw) < metaFileHeaderSize {
		return nil, fmt.Errorf("wrapper: truncated meta file %s", path)
	}
	var hdr metaFileHeader
	if err := binary.Read(bytes.NewReader(raw[:metaFileHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("wrapper: read meta header: %w", err)
	}
	if string(hdr.Magic[:]) != metaFileMagic {
		return nil, fmt.Errorf("wrapper: bad magic in meta file %s", path)
	}
	if hdr.Version != metaFormatVersion {
		return nil, fmt.Errorf("wrapper: unsupported meta format version %d", hdr.Version)
	}
	body := raw[metaFileHeaderSize:]
	if crc32.ChecksumIEEE(body) != hdr.ChecksumCRC {
		return nil, fmt.Errorf("wrapper: checksum mismatch in meta file %s", path)
	}

	var snap metaSnapshot
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("wrapper: decode meta: %w", err)
	}

	opts := &Options{
		Algo:     snap.Algo,
		Dims:     snap.Dims,
		Kind:     snap.Kind,
		Metric:   snap.Metric,
		HNSW:     snap.HNSW,
		IVF:      snap.IVF,
		PQRatio:  snap.PQRatio,
		PQSample: snap.PQSample,
		Dir:      dir,
	}
	if snap.HasQuantization {
		q := snap.Quantization
		opts.Quantization = &q
	}
	return opts, nil
}
