package distkernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/vecstore"
)

func TestL2Distance(t *testing.T) {
	fn, err := Get(vecstore.KindF32, vecstore.MetricL2)
	require.NoError(t, err)

	d, err := fn(vecstore.Vecf32{0, 0}, vecstore.Vecf32{3, 4})
	require.NoError(t, err)
	assert.Equal(t, float32(25), d)
}

func TestDotDistanceIsNegated(t *testing.T) {
	fn, err := Get(vecstore.KindF32, vecstore.MetricDot)
	require.NoError(t, err)

	d, err := fn(vecstore.Vecf32{1, 2}, vecstore.Vecf32{3, 4})
	require.NoError(t, err)
	assert.Equal(t, float32(-11), d)
}

func TestCosineZeroNorm(t *testing.T) {
	fn, err := Get(vecstore.KindF32, vecstore.MetricCos)
	require.NoError(t, err)

	d, err := fn(vecstore.Vecf32{0, 0}, vecstore.Vecf32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, float32(1), d, "zero-norm cosine similarity is defined as 0, stored distance 1")
}

func TestCosineIdentical(t *testing.T) {
	fn, err := Get(vecstore.KindF32, vecstore.MetricCos)
	require.NoError(t, err)

	d, err := fn(vecstore.Vecf32{1, 2, 3}, vecstore.Vecf32{2, 4, 6})
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestDimsMismatch(t *testing.T) {
	fn, err := Get(vecstore.KindF32, vecstore.MetricL2)
	require.NoError(t, err)
	_, err = fn(vecstore.Vecf32{1, 2}, vecstore.Vecf32{1, 2, 3})
	assert.Error(t, err)
}

func TestSparseL2MatchesDense(t *testing.T) {
	a := &vecstore.SVecf32{D: 5, Indices: []uint32{0, 2, 4}, Values: []float32{1, 2, 3}}
	b := &vecstore.SVecf32{D: 5, Indices: []uint32{1, 2, 3}, Values: []float32{4, 5, 6}}

	fn, err := Get(vecstore.KindSparseF32, vecstore.MetricL2)
	require.NoError(t, err)
	d, err := fn(a, b)
	require.NoError(t, err)

	da := []float32{1, 0, 2, 0, 3}
	db := []float32{0, 4, 5, 6, 0}
	var want float32
	for i := range da {
		diff := da[i] - db[i]
		want += diff * diff
	}
	assert.InDelta(t, want, d, 1e-5)
}

func TestBinaryL2IsHammingDistance(t *testing.T) {
	a := vecstore.NewBVecf32(8)
	b := vecstore.NewBVecf32(8)
	a.Set(0, true)
	a.Set(1, true)
	b.Set(0, true)

	fn, err := Get(vecstore.KindBinary, vecstore.MetricL2)
	require.NoError(t, err)
	d, err := fn(a, b)
	require.NoError(t, err)
	assert.Equal(t, float32(1), d)
}

func TestF16KernelWidensAndMatches(t *testing.T) {
	a := vecstore.Vecf16{vecstore.F16FromFloat32(1), vecstore.F16FromFloat32(2)}
	b := vecstore.Vecf16{vecstore.F16FromFloat32(1), vecstore.F16FromFloat32(2)}

	fn, err := Get(vecstore.KindF16, vecstore.MetricL2)
	require.NoError(t, err)
	d, err := fn(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 2.0, "f16 kernels tolerate larger rounding error per spec EPS")
}
