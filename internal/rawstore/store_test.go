package rawstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

func TestBuilderFinalizeAndRead(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(dir, vecstore.KindF32, 3)
	require.NoError(t, err)

	vectors := []vecstore.Vecf32{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	for i, v := range vectors {
		require.NoError(t, b.Append(v, vecstore.Payload{Pointer: uint64(100 + i), Time: uint64(i)}))
	}

	store, err := b.Finalize()
	require.NoError(t, err)
	defer store.Release()

	assert.Equal(t, 3, store.Len())

	v1, err := store.Vector(1)
	require.NoError(t, err)
	assert.Equal(t, vecstore.Vecf32{4, 5, 6}, v1)

	p1, err := store.Payload(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), p1.Pointer)
	assert.Equal(t, uint64(1), p1.Time)

	_, err = store.Vector(3)
	assert.Error(t, err)
}

func TestStoreRefCounting(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(dir, vecstore.KindF32, 2)
	require.NoError(t, err)
	require.NoError(t, b.Append(vecstore.Vecf32{1, 2}, vecstore.Payload{Pointer: 1}))
	store, err := b.Finalize()
	require.NoError(t, err)

	store.Acquire()
	require.NoError(t, store.Release()) // drops one ref, still open
	_, err = store.Vector(0)
	assert.NoError(t, err)
	require.NoError(t, store.Release()) // drops last ref, closes mapping
}

func TestBuilderRejectsUnsupportedKind(t *testing.T) {
	dir := t.TempDir()
	_, err := NewBuilder(dir, vecstore.KindSparseF32, 4)
	assert.Error(t, err)
}

func TestBuilderRejectsDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(dir, vecstore.KindF32, 3)
	require.NoError(t, err)
	err = b.Append(vecstore.Vecf32{1, 2}, vecstore.Payload{Pointer: 1})
	assert.Error(t, err)
}

func TestBinaryVectorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(dir, vecstore.KindBinary, 70)
	require.NoError(t, err)

	bv := &vecstore.BVecf32{D: 70, Words: make([]uint64, 2)}
	bv.Set(0, true)
	bv.Set(69, true)
	require.NoError(t, b.Append(bv, vecstore.Payload{Pointer: 7}))

	store, err := b.Finalize()
	require.NoError(t, err)
	defer store.Release()

	got, err := store.Vector(0)
	require.NoError(t, err)
	gotBV, ok := got.(*vecstore.BVecf32)
	require.True(t, ok)
	assert.True(t, gotBV.Get(0))
	assert.True(t, gotBV.Get(69))
	assert.False(t, gotBV.Get(1))
}
