package registry

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/index/hnsw"
	"github.com/ivory-labs/vectord/internal/vecstore"
	"github.com/ivory-labs/vectord/internal/wrapper"
)

func randomVectors(n, dims int, seed int64) ([]vecstore.Vecf32, []uint64, []uint64) {
	rng := rand.New(rand.NewSource(seed))
	vectors := make([]vecstore.Vecf32, n)
	pointers := make([]uint64, n)
	times := make([]uint64, n)
	for i := 0; i < n; i++ {
		v := make(vecstore.Vecf32, dims)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
		pointers[i] = uint64(i + 1)
		times[i] = uint64(i)
	}
	return vectors, pointers, times
}

func hnswOptions(dims int) *wrapper.Options {
	return &wrapper.Options{
		Dims:   dims,
		Kind:   vecstore.KindF32,
		Metric: vecstore.MetricL2,
		Algo:   wrapper.AlgoHNSW,
		HNSW: hnsw.Config{
			M:              8,
			EfConstruction: 32,
			MaxLevel:       8,
			RandomSeed:     3,
		},
	}
}

func TestBuildRegistersHandleAndSearches(t *testing.T) {
	ctx := context.Background()
	reg := New(t.TempDir())
	vectors, pointers, times := randomVectors(20, 4, 1)

	_, err := reg.Build(ctx, 42, hnswOptions(4), vectors, pointers, times)
	require.NoError(t, err)

	w, err := reg.Get(42)
	require.NoError(t, err)
	assert.Equal(t, 20, w.Size())
}

func TestBuildRejectsDuplicateHandle(t *testing.T) {
	ctx := context.Background()
	reg := New(t.TempDir())
	vectors, pointers, times := randomVectors(10, 4, 2)

	_, err := reg.Build(ctx, 1, hnswOptions(4), vectors, pointers, times)
	require.NoError(t, err)

	_, err = reg.Build(ctx, 1, hnswOptions(4), vectors, pointers, times)
	assert.ErrorIs(t, err, ErrExists)
}

func TestGetUnknownHandleFails(t *testing.T) {
	reg := New(t.TempDir())
	_, err := reg.Get(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnloadThenLoadRestoresHandle(t *testing.T) {
	ctx := context.Background()
	reg := New(t.TempDir())
	vectors, pointers, times := randomVectors(15, 4, 3)

	_, err := reg.Build(ctx, 7, hnswOptions(4), vectors, pointers, times)
	require.NoError(t, err)

	require.NoError(t, reg.Unload(ctx, 7))
	_, err = reg.Get(7)
	assert.ErrorIs(t, err, ErrNotFound)

	w, err := reg.Load(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 15, w.Size())
}

func TestDropRemovesHandleAndFiles(t *testing.T) {
	ctx := context.Background()
	reg := New(t.TempDir())
	vectors, pointers, times := randomVectors(8, 4, 4)

	_, err := reg.Build(ctx, 3, hnswOptions(4), vectors, pointers, times)
	require.NoError(t, err)

	require.NoError(t, reg.Drop(ctx, 3))
	_, err = reg.Get(3)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reg.Load(ctx, 3)
	assert.Error(t, err)
}

func TestHandlesListsEveryLiveHandle(t *testing.T) {
	ctx := context.Background()
	reg := New(t.TempDir())
	vectors, pointers, times := randomVectors(5, 4, 5)

	_, err := reg.Build(ctx, 10, hnswOptions(4), vectors, pointers, times)
	require.NoError(t, err)
	_, err = reg.Build(ctx, 20, hnswOptions(4), vectors, pointers, times)
	require.NoError(t, err)

	handles := reg.Handles()
	assert.ElementsMatch(t, []uint32{10, 20}, handles)
}

func TestCloseShutsDownAllHandles(t *testing.T) {
	ctx := context.Background()
	reg := New(t.TempDir())
	vectors, pointers, times := randomVectors(5, 4, 6)

	_, err := reg.Build(ctx, 1, hnswOptions(4), vectors, pointers, times)
	require.NoError(t, err)

	require.NoError(t, reg.Close(ctx))

	_, err = reg.Get(1)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = reg.Build(ctx, 2, hnswOptions(4), vectors, pointers, times)
	assert.ErrorIs(t, err, ErrClosed)
}
