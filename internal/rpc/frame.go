package rpc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

func init() {
	gob.Register(Build0{})
	gob.Register(Build1{})
	gob.Register(Build2{})
	gob.Register(LoadReq{})
	gob.Register(UnloadReq{})
	gob.Register(InsertReq{})
	gob.Register(DeleteReq{})
	gob.Register(SearchReq{})
	gob.Register(FlushReq{})
	gob.Register(DropReq{})

	gob.Register(BuildResp{})
	gob.Register(LoadResp{})
	gob.Register(UnloadResp{})
	gob.Register(InsertResp{})
	gob.Register(DeleteResp{})
	gob.Register(SearchResp{})
	gob.Register(FlushResp{})
	gob.Register(DropResp{})
	gob.Register(Reset{})
}

// maxFrameLen bounds a single frame's payload: the length prefix is a u16,
// so no frame can exceed this regardless (spec.md §6: "u16 length").
const maxFrameLen = 1<<16 - 1

// envelope is the gob-encoded body of every frame: a single field typed as
// the Message interface, letting gob's registered-concrete-type machinery
// carry whichever request or response variant this frame holds.
type envelope struct {
	Msg Message
}

// WriteMessage frames and writes one message: a u16 length prefix in native
// byte order followed by its gob-encoded envelope (spec.md §6: "Frame =
// u16 length (native endian) + payload").
func WriteMessage(w io.Writer, msg Message) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(envelope{Msg: msg}); err != nil {
		return fmt.Errorf("rpc: encode message: %w", err)
	}
	if body.Len() > maxFrameLen {
		return fmt.Errorf("rpc: encoded message too large (%d bytes)", body.Len())
	}

	var lenBuf [2]byte
	binary.NativeEndian.PutUint16(lenBuf[:], uint16(body.Len()))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("rpc: write frame length: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("rpc: write frame payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame and decodes its envelope.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.NativeEndian.Uint16(lenBuf[:])

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("rpc: read frame payload: %w", err)
	}

	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return nil, fmt.Errorf("rpc: decode message: %w", err)
	}
	return env.Msg, nil
}
