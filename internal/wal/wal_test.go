package wal

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	w, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(context.Background(), []byte("hello")))
	require.NoError(t, w.Append(context.Background(), []byte("world")))
	require.NoError(t, w.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	records, err := w2.Read()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "hello", string(records[0]))
	assert.Equal(t, "world", string(records[1]))
}

func TestReadStopsAtCorruptTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(context.Background(), []byte("good")))
	require.NoError(t, w.Close())

	// Append a torn record directly: a header claiming more bytes than follow.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	var header [6]byte
	binary.LittleEndian.PutUint32(header[0:4], 0xdeadbeef)
	binary.LittleEndian.PutUint16(header[4:6], 10)
	_, err = f.Write(header[:])
	require.NoError(t, err)
	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w3, err := Open(path)
	require.NoError(t, err)
	defer w3.Close()

	records, err := w3.Read()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", string(records[0]))
}

func TestTruncateAfterCleanReadKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(context.Background(), []byte("good")))

	// Add a second valid record through Write plus an explicit Flush.
	require.NoError(t, w.Write(context.Background(), []byte("bad")))
	require.NoError(t, w.Flush(context.Background()))

	records, err := w.Read()
	require.NoError(t, err)
	require.Len(t, records, 2)

	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, w.Truncate())

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size(), "truncating after a full valid read should not shrink the file")

	require.NoError(t, w.Close())
}

func TestEmptyWALReadsNoRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	records, err := w.Read()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRejectsOversizedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	err = w.Append(context.Background(), make([]byte, 0x10000))
	assert.Error(t, err)
}
