package quant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

func makeProductTrainingSet() []vecstore.Vecf32 {
	var rows []vecstore.Vecf32
	for i := 0; i < 50; i++ {
		rows = append(rows, vecstore.Vecf32{0, 0, 0, 0})
	}
	for i := 0; i < 50; i++ {
		rows = append(rows, vecstore.Vecf32{10, 10, 10, 10})
	}
	return rows
}

func TestProductQuantizerTrainEncodeDecode(t *testing.T) {
	cfg := &QuantizationConfig{
		Type: ProductQuantization, Metric: vecstore.MetricL2, Dims: 4,
		VectorKind: vecstore.KindF32, Ratio: 2, Sample: 100, RandomSeed: 1,
	}
	pq := newProductQuantizer(cfg)
	require.NoError(t, pq.Train(context.Background(), makeProductTrainingSet()))
	assert.True(t, pq.IsTrained())
	assert.Equal(t, 2, pq.CodeSize())

	code, err := pq.Encode(vecstore.Vecf32{0, 0, 0, 0})
	require.NoError(t, err)
	require.Len(t, code, 2)

	recon, err := pq.Decode(code)
	require.NoError(t, err)
	for _, v := range recon {
		assert.InDelta(t, 0, v, 1)
	}
}

func TestProductQuantizerDistanceToCode(t *testing.T) {
	cfg := &QuantizationConfig{
		Type: ProductQuantization, Metric: vecstore.MetricL2, Dims: 4,
		VectorKind: vecstore.KindF32, Ratio: 2, Sample: 100, RandomSeed: 1,
	}
	pq := newProductQuantizer(cfg)
	require.NoError(t, pq.Train(context.Background(), makeProductTrainingSet()))

	near, err := pq.Encode(vecstore.Vecf32{0, 0, 0, 0})
	require.NoError(t, err)
	far, err := pq.Encode(vecstore.Vecf32{10, 10, 10, 10})
	require.NoError(t, err)

	table, err := pq.BuildQueryTable(vecstore.Vecf32{0, 0, 0, 0})
	require.NoError(t, err)

	dNear, err := pq.DistanceToCode(table, near)
	require.NoError(t, err)
	dFar, err := pq.DistanceToCode(table, far)
	require.NoError(t, err)

	assert.Less(t, dNear, dFar)
}

func TestSubspaceWidthsHandlesRemainder(t *testing.T) {
	widths := subspaceWidths(10, 3)
	total := 0
	for _, w := range widths {
		total += w
	}
	assert.Equal(t, 10, total)
	assert.Equal(t, 3, widths[0])
}

func TestProductQuantizerFactory(t *testing.T) {
	f := NewProductQuantizerFactory()
	assert.True(t, f.Supports(ProductQuantization))
	assert.False(t, f.Supports(ScalarQuantization))

	q, err := f.Create(&QuantizationConfig{
		Type: ProductQuantization, Metric: vecstore.MetricL2, Dims: 4,
		VectorKind: vecstore.KindF32, Ratio: 2, Sample: 10,
	})
	require.NoError(t, err)
	assert.False(t, q.IsTrained())
}
