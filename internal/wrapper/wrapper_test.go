package wrapper

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/index/hnsw"
	"github.com/ivory-labs/vectord/internal/index/ivf"
	"github.com/ivory-labs/vectord/internal/vecstore"
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

func hnswOptions(dims int, dir string) *Options {
	return &Options{
		Dims:   dims,
		Kind:   vecstore.KindF32,
		Metric: vecstore.MetricL2,
		Algo:   AlgoHNSW,
		HNSW: hnsw.Config{
			M:              8,
			EfConstruction: 32,
			MaxLevel:       8,
			RandomSeed:     7,
		},
		Dir: dir,
	}
}

func TestBuildHNSWSearchFindsExactMatch(t *testing.T) {
	ctx := context.Background()
	vectors, pointers, times := randomVectors(40, 4, 1)

	w, err := Build(ctx, hnswOptions(4, t.TempDir()), vectors, pointers, times)
	require.NoError(t, err)
	assert.Equal(t, 40, w.Size())

	results, err := w.Search(ctx, vectors[7], 3, 32)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, pointers[7], results[0].Pointer)
}

func TestDeleteHidesPointerFromSearch(t *testing.T) {
	ctx := context.Background()
	vectors, pointers, times := randomVectors(20, 4, 2)

	w, err := Build(ctx, hnswOptions(4, t.TempDir()), vectors, pointers, times)
	require.NoError(t, err)

	require.NoError(t, w.Delete(ctx, pointers[3]))

	results, err := w.Search(ctx, vectors[3], 5, 32)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, pointers[3], r.Pointer)
	}
}

func TestInsertAfterBuildIsSearchable(t *testing.T) {
	ctx := context.Background()
	vectors, pointers, times := randomVectors(15, 4, 3)

	w, err := Build(ctx, hnswOptions(4, t.TempDir()), vectors, pointers, times)
	require.NoError(t, err)

	extra := vecstore.Vecf32{9, 9, 9, 9}
	require.NoError(t, w.Insert(ctx, 999, 1, extra))

	results, err := w.Search(ctx, extra, 1, 32)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(999), results[0].Pointer)
}

func TestReopenReplaysWALAfterClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	vectors, pointers, times := randomVectors(10, 4, 4)

	w, err := Build(ctx, hnswOptions(4, dir), vectors, pointers, times)
	require.NoError(t, err)

	extra := vecstore.Vecf32{5, 5, 5, 5}
	require.NoError(t, w.Insert(ctx, 1001, 1, extra))
	require.NoError(t, w.Delete(ctx, pointers[0]))
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, w.Shutdown(ctx))

	reopened, err := Load(ctx, dir)
	require.NoError(t, err)

	results, err := reopened.Search(ctx, vectors[0], 5, 32)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, pointers[0], r.Pointer)
	}

	results2, err := reopened.Search(ctx, extra, 1, 32)
	require.NoError(t, err)
	require.Len(t, results2, 1)
	assert.Equal(t, uint64(1001), results2[0].Pointer)
}

func TestInsertAgainstIvfIndexIsRejected(t *testing.T) {
	ctx := context.Background()
	vectors, pointers, times := randomVectors(60, 4, 5)

	opts := &Options{
		Dims:   4,
		Kind:   vecstore.KindF32,
		Metric: vecstore.MetricL2,
		Algo:   AlgoIvfPQ,
		IVF: ivf.Config{
			NList:      4,
			NProbe:     4,
			NSample:    60,
			RandomSeed: 7,
			Workers:    2,
		},
		PQRatio:  2,
		PQSample: 60,
		Dir:      t.TempDir(),
	}

	w, err := Build(ctx, opts, vectors, pointers, times)
	require.NoError(t, err)
	assert.Equal(t, 60, w.Size())

	err = w.Insert(ctx, 9999, 1, vectors[0])
	assert.ErrorIs(t, err, ErrIndexFrozen)

	results, err := w.Search(ctx, vectors[0], 3, 4)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, pointers[0], results[0].Pointer)
}

func flatOptions(dims int, dir string) *Options {
	return &Options{
		Dims:   dims,
		Kind:   vecstore.KindF32,
		Metric: vecstore.MetricL2,
		Algo:   AlgoFlat,
		Dir:    dir,
	}
}

func TestBuildFlatSearchFindsExactMatch(t *testing.T) {
	ctx := context.Background()
	vectors, pointers, times := randomVectors(30, 4, 8)

	w, err := Build(ctx, flatOptions(4, t.TempDir()), vectors, pointers, times)
	require.NoError(t, err)
	assert.Equal(t, 30, w.Size())

	results, err := w.Search(ctx, vectors[5], 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, pointers[5], results[0].Pointer)
}

func TestInsertAfterBuildAgainstFlatIsSearchable(t *testing.T) {
	ctx := context.Background()
	vectors, pointers, times := randomVectors(10, 4, 9)

	w, err := Build(ctx, flatOptions(4, t.TempDir()), vectors, pointers, times)
	require.NoError(t, err)

	extra := vecstore.Vecf32{3, 3, 3, 3}
	require.NoError(t, w.Insert(ctx, 777, 1, extra))

	results, err := w.Search(ctx, extra, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(777), results[0].Pointer)
}

func TestFlatReopenReplaysWALAfterClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	vectors, pointers, times := randomVectors(10, 4, 10)

	w, err := Build(ctx, flatOptions(4, dir), vectors, pointers, times)
	require.NoError(t, err)

	require.NoError(t, w.Delete(ctx, pointers[0]))
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, w.Shutdown(ctx))

	reopened, err := Load(ctx, dir)
	require.NoError(t, err)

	results, err := reopened.Search(ctx, vectors[0], 5, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, pointers[0], r.Pointer)
	}
}

func TestDropRemovesOnDiskFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	vectors, pointers, times := randomVectors(12, 4, 6)

	w, err := Build(ctx, hnswOptions(4, dir), vectors, pointers, times)
	require.NoError(t, err)
	require.NoError(t, w.Drop(ctx))

	_, err = Load(ctx, dir)
	assert.Error(t, err)
}
