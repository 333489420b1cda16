// Package wal implements the per-index write-ahead log (spec §4.8): frames
// are `crc32(4B LE) | len(2B LE) | payload`, with a dedicated writer task
// draining a bounded channel so producers see backpressure instead of
// unbounded buffering (spec §5).
//
// Grounded on the teacher's internal/storage/wal/wal.go (WAL struct wrapping
// a buffered *os.File, Append/Read/Truncate/Close and the
// Read->Truncate->Flush->Write->Flush lifecycle), replacing its JSON
// length-prefixed entry framing with the spec's CRC-validated frame and its
// synchronous fsync-per-Append with the Write/Flush message-passing split
// spec §5 requires.
package wal

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// writerQueueCapacity is the bounded channel capacity spec §5 names
// explicitly: writes block the producer once this many messages are queued.
const writerQueueCapacity = 4096

type writeMsg struct {
	payload []byte
	done    chan error
}

type flushMsg struct {
	done chan error
}

// WAL is an append-only, CRC-framed replay log with one writer goroutine.
type WAL struct {
	path string

	mu          sync.Mutex // guards file/writer lifecycle only; the queue serializes actual writes
	file        *os.File
	writer      *bufio.Writer
	closed      bool
	validOffset int64 // set by the last Read(), consumed by Truncate()

	queue chan interface{}
	wg    sync.WaitGroup
}

// Open opens (creating if necessary) the WAL file in append mode and starts
// its writer goroutine.
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	w := &WAL{
		path:   path,
		file:   file,
		writer: bufio.NewWriter(file),
		queue:  make(chan interface{}, writerQueueCapacity),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *WAL) run() {
	defer w.wg.Done()
	for msg := range w.queue {
		switch m := msg.(type) {
		case writeMsg:
			m.done <- w.writeFrame(m.payload)
		case flushMsg:
			m.done <- w.flush()
		}
	}
}

func (w *WAL) writeFrame(payload []byte) error {
	if len(payload) > 0xffff {
		return fmt.Errorf("wal: payload of %d bytes exceeds 65535-byte frame limit", len(payload))
	}

	var header [6]byte
	binary.LittleEndian.PutUint32(header[0:4], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(payload)))

	if _, err := w.writer.Write(header[:]); err != nil {
		return fmt.Errorf("wal: write frame header: %w", err)
	}
	if _, err := w.writer.Write(payload); err != nil {
		return fmt.Errorf("wal: write frame payload: %w", err)
	}
	return nil
}

// flush commits the buffered frames to durable storage, calling flushOnce a
// second time after a failure before surfacing the error. The second attempt
// re-runs a failed fsync; a failed buffer write is not re-attempted, since
// bufio.Writer keeps its first write error and returns it from every later
// Flush.
func (w *WAL) flush() error {
	err := w.flushOnce()
	if err != nil {
		err = w.flushOnce()
	}
	return err
}

func (w *WAL) flushOnce() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush buffer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// Write enqueues a framed record. It returns once the writer goroutine has
// buffered the frame, not once it is durable — call Flush for durability.
// It blocks (respecting ctx) when the writer's queue is full.
func (w *WAL) Write(ctx context.Context, payload []byte) error {
	done := make(chan error, 1)
	select {
	case w.queue <- writeMsg{payload: payload, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every buffered write has been fsynced.
func (w *WAL) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case w.queue <- flushMsg{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Append is the common case: write the frame, then block until durable.
func (w *WAL) Append(ctx context.Context, payload []byte) error {
	if err := w.Write(ctx, payload); err != nil {
		return err
	}
	return w.Flush(ctx)
}

// Read replays every valid frame from the start of the file. A CRC mismatch
// or short read terminates the stream at that point; per spec §4.8 ("Read ->
// Truncate") the caller is expected to Truncate away the dangling suffix
// before resuming writes.
func (w *WAL) Read() ([][]byte, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s for read: %w", w.path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records [][]byte
	var offset int64

	for {
		var header [6]byte
		n, err := io.ReadFull(r, header[:])
		if err != nil {
			if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
				break
			}
			// short read mid-header: stop before this offset.
			break
		}

		wantCRC := binary.LittleEndian.Uint32(header[0:4])
		length := binary.LittleEndian.Uint16(header[4:6])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break // short read: truncate away the partial record.
		}

		if crc32.ChecksumIEEE(payload) != wantCRC {
			break // corrupt tail: stop replay here.
		}

		records = append(records, payload)
		offset += 6 + int64(length)
	}

	w.mu.Lock()
	w.validOffset = offset
	w.mu.Unlock()

	return records, nil
}

// Truncate drops everything after the last offset Read() validated,
// discarding a torn write left by a crash mid-append.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close before truncate: %w", err)
	}
	if err := os.Truncate(w.path, w.validOffset); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("wal: reopen after truncate: %w", err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return fmt.Errorf("wal: seek after truncate: %w", err)
	}

	w.file = file
	w.writer = bufio.NewWriter(file)
	return nil
}

// Close stops the writer goroutine, flushing and fsyncing first.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if err := w.Flush(context.Background()); err != nil {
		close(w.queue)
		w.wg.Wait()
		return err
	}

	close(w.queue)
	w.wg.Wait()

	return w.file.Close()
}
