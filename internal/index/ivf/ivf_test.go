package ivf

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/quant"
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

func baseConfig(dims int) Config {
	return Config{
		Dims:       dims,
		Kind:       vecstore.KindF32,
		Metric:     vecstore.MetricL2,
		NList:      4,
		NProbe:     4,
		NSample:    200,
		RandomSeed: 7,
		Workers:    2,
	}
}

func TestBuildNaiveTrivialFindsExactMatch(t *testing.T) {
	ctx := context.Background()
	vectors, payloads := randomCorpus(80, 4, 1)

	cfg := &NaiveConfig{
		Config: baseConfig(4),
		QuantConfig: &quant.QuantizationConfig{
			Type:       quant.TrivialQuantization,
			Metric:     vecstore.MetricL2,
			Dims:       4,
			VectorKind: vecstore.KindF32,
		},
	}
	idx, err := BuildNaive(ctx, cfg, vectors, payloads)
	require.NoError(t, err)
	assert.Equal(t, 80, idx.Size())

	target := vectors[17]
	results, err := idx.Search(ctx, target, 3, 4)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(17), results[0].Payload.Pointer)
	assert.InDelta(t, 0, results[0].Distance, 1e-4)
}

func TestBuildNaiveScalarRoundTripsThroughPersistence(t *testing.T) {
	ctx := context.Background()
	vectors, payloads := randomCorpus(60, 6, 2)

	cfg := &NaiveConfig{
		Config: baseConfig(6),
		QuantConfig: &quant.QuantizationConfig{
			Type:       quant.ScalarQuantization,
			Metric:     vecstore.MetricL2,
			Dims:       6,
			VectorKind: vecstore.KindF32,
		},
	}
	idx, err := BuildNaive(ctx, cfg, vectors, payloads)
	require.NoError(t, err)

	path := t.TempDir() + "/ivf-naive"
	require.NoError(t, idx.Save(path))

	loaded, err := LoadNaive(path)
	require.NoError(t, err)
	assert.Equal(t, idx.Size(), loaded.Size())

	results, err := loaded.Search(ctx, vectors[5], 1, 4)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestBuildPQSearchReturnsKResultsAndPersists(t *testing.T) {
	ctx := context.Background()
	vectors, payloads := randomCorpus(120, 8, 3)

	cfg := &PQConfig{
		Config: baseConfig(8),
		Ratio:  4,
		Sample: 120,
	}
	idx, err := BuildPQ(ctx, cfg, vectors, payloads)
	require.NoError(t, err)
	assert.Equal(t, 120, idx.Size())

	results, err := idx.Search(ctx, vectors[0], 5, 4)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}

	path := t.TempDir() + "/ivf-pq"
	require.NoError(t, idx.Save(path))
	loaded, err := LoadPQ(path)
	require.NoError(t, err)
	assert.Equal(t, idx.Size(), loaded.Size())

	results2, err := loaded.Search(ctx, vectors[0], 5, 4)
	require.NoError(t, err)
	assert.Len(t, results2, 5)
}

func TestBuildPQDotMetricRanksByDescendingSimilarity(t *testing.T) {
	ctx := context.Background()
	vectors, payloads := randomCorpus(100, 8, 4)

	cfg := baseConfig(8)
	cfg.Metric = vecstore.MetricDot
	pqCfg := &PQConfig{Config: cfg, Ratio: 4, Sample: 100}

	idx, err := BuildPQ(ctx, pqCfg, vectors, payloads)
	require.NoError(t, err)

	results, err := idx.Search(ctx, vectors[10], 5, 4)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestCoarsePartitionInvariants(t *testing.T) {
	ctx := context.Background()
	vectors, _ := randomCorpus(50, 3, 5)
	cfg := baseConfig(3)
	cfg.NList = 5
	cfg.setDefaults()

	partition, err := buildCoarsePartition(ctx, &cfg, vectors)
	require.NoError(t, err)

	assert.Equal(t, len(vectors), len(partition.placements))
	assert.Equal(t, cfg.NList+1, len(partition.ptr))

	seen := make(map[uint32]bool)
	for _, id := range partition.placements {
		assert.False(t, seen[id], "placement permutation must be injective")
		seen[id] = true
	}
	assert.Equal(t, len(vectors), len(seen))

	for i := 0; i < cfg.NList; i++ {
		lo, hi := partition.listRange(i)
		assert.Equal(t, int(partition.ptr[i+1]-partition.ptr[i]), hi-lo)
	}
}
