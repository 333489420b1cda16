package flat

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

func randomCorpus(n, dims int, seed int64) ([]vecstore.Vecf32, []vecstore.Payload) {
	rng := rand.New(rand.NewSource(seed))
	vectors := make([]vecstore.Vecf32, n)
	payloads := make([]vecstore.Payload, n)
	for i := 0; i < n; i++ {
		v := make(vecstore.Vecf32, dims)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
		payloads[i] = vecstore.Payload{Pointer: uint64(i)}
	}
	return vectors, payloads
}

func TestFlatSearchFindsExactMatch(t *testing.T) {
	ctx := context.Background()
	vectors, payloads := randomCorpus(50, 5, 1)

	idx, err := New(&Config{Dims: 5, Kind: vecstore.KindF32, Metric: vecstore.MetricL2})
	require.NoError(t, err)

	for i, v := range vectors {
		require.NoError(t, idx.Insert(ctx, v, payloads[i]))
	}
	assert.Equal(t, 50, idx.Size())

	results, err := idx.Search(ctx, vectors[12], 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(12), results[0].Payload.Pointer)
	assert.InDelta(t, 0, results[0].Distance, 1e-4)
}

func TestFlatSearchReturnsKSortedAscending(t *testing.T) {
	ctx := context.Background()
	vectors, payloads := randomCorpus(30, 4, 2)

	idx, err := New(&Config{Dims: 4, Kind: vecstore.KindF32, Metric: vecstore.MetricL2})
	require.NoError(t, err)
	for i, v := range vectors {
		require.NoError(t, idx.Insert(ctx, v, payloads[i]))
	}

	results, err := idx.Search(ctx, vectors[0], 7)
	require.NoError(t, err)
	require.Len(t, results, 7)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestFlatRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx, err := New(&Config{Dims: 4, Kind: vecstore.KindF32, Metric: vecstore.MetricL2})
	require.NoError(t, err)

	err = idx.Insert(ctx, vecstore.Vecf32{1, 2, 3}, vecstore.Payload{Pointer: 1})
	assert.Error(t, err)
}

func TestFlatEmptyIndexSearchReturnsNothing(t *testing.T) {
	ctx := context.Background()
	idx, err := New(&Config{Dims: 4, Kind: vecstore.KindF32, Metric: vecstore.MetricL2})
	require.NoError(t, err)

	results, err := idx.Search(ctx, vecstore.Vecf32{1, 2, 3, 4}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}
