package hnsw

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

func newTestConfig(dims int) *Config {
	return &Config{
		Dims:           dims,
		Kind:           vecstore.KindF32,
		Metric:         vecstore.MetricL2,
		M:              8,
		EfConstruction: 32,
		MaxLevel:       8,
		RandomSeed:     7,
	}
}

func TestInsertFirstNodeBecomesEntry(t *testing.T) {
	idx, err := New(newTestConfig(4), nil)
	require.NoError(t, err)

	v := vecstore.Vecf32{1, 2, 3, 4}
	require.NoError(t, idx.Insert(context.Background(), v, vecstore.Payload{Pointer: 1}, 0))

	assert.Equal(t, 1, idx.Size())
	idx.entry.mu.RLock()
	defer idx.entry.mu.RUnlock()
	assert.GreaterOrEqual(t, idx.entry.id, int64(0))
}

func TestSearchFindsExactMatch(t *testing.T) {
	idx, err := New(newTestConfig(3), nil)
	require.NoError(t, err)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(1))
	vectors := make([]vecstore.Vecf32, 50)
	for i := range vectors {
		v := make(vecstore.Vecf32, 3)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
		require.NoError(t, idx.Insert(ctx, v, vecstore.Payload{Pointer: uint64(i)}, uint32(i)))
	}

	target := vectors[25]
	results, err := idx.Search(ctx, target, 5, 20)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(25), results[0].Payload.Pointer)
	assert.InDelta(t, 0, results[0].Distance, 1e-4)
}

func TestSearchReturnsKResults(t *testing.T) {
	idx, err := New(newTestConfig(2), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		v := vecstore.Vecf32{float32(i), float32(i) * 2}
		require.NoError(t, idx.Insert(ctx, v, vecstore.Payload{Pointer: uint64(i)}, uint32(i)))
	}

	results, err := idx.Search(ctx, vecstore.Vecf32{0, 0}, 10, 50)
	require.NoError(t, err)
	assert.Len(t, results, 10)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestSearchOnEmptyIndexReturnsNoResults(t *testing.T) {
	idx, err := New(newTestConfig(4), nil)
	require.NoError(t, err)
	results, err := idx.Search(context.Background(), vecstore.Vecf32{1, 1, 1, 1}, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGenerateLevelCappedAtMaxLevel(t *testing.T) {
	cfg := newTestConfig(4)
	cfg.MaxLevel = 2
	cfg.M = 2 // small M biases toward higher raw levels, exercising the cap
	idx, err := New(cfg, nil)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		assert.LessOrEqual(t, idx.generateLevel(), cfg.MaxLevel)
	}
}

func TestPruneRRNGRespectsCapAndDiversity(t *testing.T) {
	// Three candidates equidistant-ish from the owner; b is very close to a,
	// so admitting a should reject b under the RRNG rule.
	dist := func(a, b uint32) float32 {
		table := map[[2]uint32]float32{
			{1, 2}: 0.1, {2, 1}: 0.1,
			{1, 3}: 5, {3, 1}: 5,
			{2, 3}: 5, {3, 2}: 5,
		}
		return table[[2]uint32{a, b}]
	}
	candidates := []edge{
		{neighbor: 1, distance: 1},
		{neighbor: 2, distance: 1.05},
		{neighbor: 3, distance: 2},
	}
	chosen := pruneRRNG(candidates, 3, dist)
	var ids []uint32
	for _, c := range chosen {
		ids = append(ids, c.neighbor)
	}
	assert.Contains(t, ids, uint32(1))
	assert.Contains(t, ids, uint32(3))
	assert.NotContains(t, ids, uint32(2))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	idx, err := New(newTestConfig(3), nil)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		v := vecstore.Vecf32{float32(i), float32(i + 1), float32(i + 2)}
		require.NoError(t, idx.Insert(ctx, v, vecstore.Payload{Pointer: uint64(i)}, uint32(i)))
	}

	path := t.TempDir() + "/graph"
	require.NoError(t, idx.Save(path))

	loaded, err := Load(path, newTestConfig(3), nil)
	require.NoError(t, err)
	assert.Equal(t, idx.Size(), loaded.Size())

	results, err := loaded.Search(ctx, vecstore.Vecf32{0, 1, 2}, 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(0), results[0].Payload.Pointer)
}
