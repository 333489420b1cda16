package wrapper

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

// op identifies a WAL record kind. Grounded on the teacher's
// storage/wal.go entry Kind byte, gob-encoded here per spec §9's ledger
// assignment of encoding/gob as this module's record codec.
type op uint8

const (
	opInsert op = iota
	opDelete
)

// walRecord is the gob-serializable shape of one WAL entry. Vector is only
// populated for opInsert; Version is the version-map counter assigned at
// the time of the original operation. Replay does not read it: it re-applies
// each record against the version map and takes CurrentVersion, which yields
// the same version when the map starts from the live run's state.
type walRecord struct {
	Op      op
	Pointer uint64
	Time    uint64
	Version uint16
	Vector  []float32
}

func encodeWALRecord(o op, pointer, hostTime uint64, version uint16) ([]byte, error) {
	return encodeWALRecordVector(o, pointer, hostTime, version, nil)
}

func encodeWALRecordVector(o op, pointer, hostTime uint64, version uint16, vector []float32) ([]byte, error) {
	rec := walRecord{Op: o, Pointer: pointer, Time: hostTime, Version: version, Vector: vector}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("wrapper: encode wal record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeWALRecord(raw []byte) (walRecord, error) {
	var rec walRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return walRecord{}, fmt.Errorf("wrapper: decode wal record: %w", err)
	}
	return rec, nil
}

// replay re-applies every WAL record against the version map and (for
// inserts, when the wrapped index isn't frozen) the live HNSW graph or flat
// table, following the teacher's
// Read->Truncate->Flush->Write->Flush reopen lifecycle (storage/wal.go):
// Read returns only records up to the last valid frame, Truncate drops any
// corrupt tail before new writes resume.
func (w *Wrapper) replay(ctx context.Context) error {
	records, err := w.log.Read()
	if err != nil {
		return fmt.Errorf("wrapper: wal read: %w", err)
	}
	if err := w.log.Truncate(); err != nil {
		return fmt.Errorf("wrapper: wal truncate: %w", err)
	}

	for _, raw := range records {
		rec, err := decodeWALRecord(raw)
		if err != nil {
			return err
		}
		switch rec.Op {
		case opInsert:
			if _, err := w.versions.Insert(rec.Pointer); err != nil {
				// Already alive (e.g. a re-opened handle replaying its own
				// just-applied record twice) is not fatal during replay.
				continue
			}
			if (w.hnswIdx == nil && w.flatIdx == nil) || rec.Vector == nil {
				continue
			}
			version, _ := w.versions.CurrentVersion(rec.Pointer)
			id, err := vecstore.EncodeInternalID(rec.Pointer, version)
			if err != nil {
				return err
			}
			payload := vecstore.Payload{Pointer: uint64(id), Time: rec.Time}
			if w.flatIdx != nil {
				if err := w.flatIdx.Insert(ctx, vecstore.Vecf32(rec.Vector), payload); err != nil {
					return fmt.Errorf("wrapper: replay insert: %w", err)
				}
				continue
			}
			if err := w.hnswIdx.Insert(ctx, vecstore.Vecf32(rec.Vector), payload, 0); err != nil {
				return fmt.Errorf("wrapper: replay insert: %w", err)
			}
		case opDelete:
			_ = w.versions.Remove(rec.Pointer)
		}
	}
	return w.log.Flush(ctx)
}
