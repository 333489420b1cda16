package hnsw

// Binary format constants for the persisted graph file (the "(hnsw)/graph"
// file spec §3 names). Kept from the teacher's format.go: a magic-numbered,
// versioned, CRC-checked header, though the section layout below is this
// package's own — the teacher splits nodes/links into separate sections;
// here each node record is immediately followed by its own per-layer edge
// lists, since nodes are never physically removed and therefore never need
// to be resized independently of their edges.
const (
	graphFileMagic   = "HNSWVIDX"
	graphFormatVersion = uint32(2)
)

// graphFileHeader is the fixed-size prefix of a persisted graph file.
type graphFileHeader struct {
	Magic       [8]byte
	Version     uint32
	NodeCount   uint32
	Dims        uint32
	EntryID     int64
	EntryLevel  int32
	ChecksumCRC uint32
}

const graphFileHeaderSize = 8 + 4 + 4 + 4 + 8 + 4 + 4
