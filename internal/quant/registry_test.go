package quant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

func TestGlobalRegistryHasAllThreeTypes(t *testing.T) {
	assert.True(t, IsSupported(TrivialQuantization))
	assert.True(t, IsSupported(ScalarQuantization))
	assert.True(t, IsSupported(ProductQuantization))
	assert.Len(t, SupportedTypes(), 3)
}

func TestNewQuantizerDispatchesByType(t *testing.T) {
	q, err := NewQuantizer(&QuantizationConfig{
		Type: TrivialQuantization, Metric: vecstore.MetricL2, Dims: 3, VectorKind: vecstore.KindF32,
	})
	require.NoError(t, err)
	require.NoError(t, q.Train(context.Background(), nil))
	assert.True(t, q.IsTrained())
}

func TestNewQuantizerRejectsInvalidConfig(t *testing.T) {
	_, err := NewQuantizer(&QuantizationConfig{
		Type: ScalarQuantization, Dims: 3, VectorKind: vecstore.KindSparseF32,
	})
	assert.Error(t, err)
}

func TestQuantizationConfigValidateProductRequiresRatioAndSample(t *testing.T) {
	cfg := &QuantizationConfig{Type: ProductQuantization, Dims: 8, VectorKind: vecstore.KindF32}
	assert.Error(t, cfg.Validate())
	cfg.Ratio = 2
	assert.Error(t, cfg.Validate())
	cfg.Sample = 100
	assert.NoError(t, cfg.Validate())
}
