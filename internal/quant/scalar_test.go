package quant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

func TestScalarQuantizerTrainEncodeDecode(t *testing.T) {
	cfg := &QuantizationConfig{Type: ScalarQuantization, Metric: vecstore.MetricL2, Dims: 3, VectorKind: vecstore.KindF32}
	sq := newScalarQuantizer(cfg)

	train := []vecstore.Vecf32{
		{0, 0, 0},
		{10, 10, 10},
		{5, 5, 5},
	}
	require.NoError(t, sq.Train(context.Background(), train))
	assert.True(t, sq.IsTrained())

	code, err := sq.Encode(vecstore.Vecf32{5, 5, 5})
	require.NoError(t, err)
	require.Len(t, code, 3)

	recon, err := sq.Decode(code)
	require.NoError(t, err)
	for _, v := range recon {
		assert.InDelta(t, 5, v, 0.5)
	}
}

func TestScalarQuantizerRejectsWrongDims(t *testing.T) {
	cfg := &QuantizationConfig{Type: ScalarQuantization, Metric: vecstore.MetricL2, Dims: 3, VectorKind: vecstore.KindF32}
	sq := newScalarQuantizer(cfg)
	require.NoError(t, sq.Train(context.Background(), []vecstore.Vecf32{{1, 2, 3}}))

	_, err := sq.Encode(vecstore.Vecf32{1, 2})
	assert.Error(t, err)
}

func TestScalarQuantizerDistanceToCode(t *testing.T) {
	cfg := &QuantizationConfig{Type: ScalarQuantization, Metric: vecstore.MetricL2, Dims: 2, VectorKind: vecstore.KindF32}
	sq := newScalarQuantizer(cfg)
	require.NoError(t, sq.Train(context.Background(), []vecstore.Vecf32{{0, 0}, {100, 100}}))

	near, err := sq.Encode(vecstore.Vecf32{1, 1})
	require.NoError(t, err)
	far, err := sq.Encode(vecstore.Vecf32{99, 99})
	require.NoError(t, err)

	table, err := sq.BuildQueryTable(vecstore.Vecf32{0, 0})
	require.NoError(t, err)

	dNear, err := sq.DistanceToCode(table, near)
	require.NoError(t, err)
	dFar, err := sq.DistanceToCode(table, far)
	require.NoError(t, err)

	assert.Less(t, dNear, dFar)
}

func TestScalarQuantizerFactory(t *testing.T) {
	f := NewScalarQuantizerFactory()
	assert.True(t, f.Supports(ScalarQuantization))
	assert.False(t, f.Supports(ProductQuantization))

	q, err := f.Create(&QuantizationConfig{Type: ScalarQuantization, Metric: vecstore.MetricL2, Dims: 4, VectorKind: vecstore.KindF32})
	require.NoError(t, err)
	assert.False(t, q.IsTrained())
}
