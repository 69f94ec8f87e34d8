package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFeatureVector_LengthMismatch(t *testing.T) {
	_, err := NewFeatureVector([]string{"a", "b"}, []float64{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNewFeatureVector_DuplicateName(t *testing.T) {
	_, err := NewFeatureVector([]string{"a", "a"}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNewFeatureVector_SanitizesAndCopies(t *testing.T) {
	names := []string{"a", "b", "c"}
	values := []float64{math.NaN(), math.Inf(1), 0.5}

	fv, err := NewFeatureVector(names, values)
	require.NoError(t, err)

	values[2] = 0.9
	names[0] = "z"

	assert.Equal(t, []float64{0, 0, 0.5}, fv.Values())
	assert.Equal(t, []string{"a", "b", "c"}, fv.Names())

	got := fv.Values()
	got[0] = 42
	v, ok := fv.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestFeatureVector_MatchesShape(t *testing.T) {
	fv, err := NewFeatureVector([]string{"a", "b"}, []float64{1, 2})
	require.NoError(t, err)

	assert.NoError(t, fv.MatchesShape([]string{"a", "b"}))
	assert.ErrorIs(t, fv.MatchesShape([]string{"b", "a"}), ErrShapeMismatch)
	assert.ErrorIs(t, fv.MatchesShape([]string{"a"}), ErrShapeMismatch)
}

func TestFeatureVector_HasPrefix(t *testing.T) {
	fv, err := FeatureVectorFromMap(DefaultFeatureNames, map[string]float64{FeatureRiskWeight: 0.3})
	require.NoError(t, err)

	assert.NoError(t, fv.HasPrefix(CoreFeatureNames))
	assert.Equal(t, len(DefaultFeatureNames), fv.Len())

	short, err := NewFeatureVector([]string{FeatureRiskWeight}, []float64{1})
	require.NoError(t, err)
	assert.ErrorIs(t, short.HasPrefix(CoreFeatureNames), ErrShapeMismatch)
}

func TestFeatureVector_FingerprintStable(t *testing.T) {
	a, _ := NewFeatureVector([]string{"x", "y"}, []float64{0.1, 0.2})
	b, _ := NewFeatureVector([]string{"x", "y"}, []float64{0.1, 0.2})
	c, _ := NewFeatureVector([]string{"x", "y"}, []float64{0.1, 0.3})

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 32)
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0.25, 0.25},
		{1.5, 1},
		{math.NaN(), 0},
		{math.Inf(-1), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clamp01(tt.in))
	}
	assert.Equal(t, 100.0, ClampRange(120, 0, 100))
}
