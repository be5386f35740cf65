package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributionEven(t *testing.T) {
	d := newDistribution([]float64{100, 100, 100})
	assert.Equal(t, 3, d.Tenants)
	assert.Equal(t, 100.0, d.Mean)
	assert.Zero(t, d.StdDeviation)
	assert.Equal(t, 1.0, d.MinMaxRatio)
	assert.Equal(t, 1.0, d.Quality)
}

func TestDistributionSkewed(t *testing.T) {
	d := newDistribution([]float64{0, 300})
	assert.Equal(t, 150.0, d.Mean)
	assert.Equal(t, 150.0, d.StdDeviation)
	assert.Zero(t, d.MinMaxRatio)
	assert.Zero(t, d.Quality)

	assert.Equal(t, Distribution{}, newDistribution(nil))

	// all tenants empty counts as even
	assert.Equal(t, 1.0, newDistribution([]float64{0, 0}).Quality)
}

func TestSharedDistribution(t *testing.T) {
	s, err := NewShared(testConfig())
	require.NoError(t, err)
	a := s.NewTenant("a")
	b := s.NewTenant("b")
	a.UpdateTreeUsage(3000)
	b.UpdateTreeUsage(1000)

	d := s.Distribution()
	assert.Equal(t, 2, d.Tenants)
	assert.Equal(t, 1000.0, d.Min)
	assert.Equal(t, 3000.0, d.Max)
	assert.InDelta(t, 1.0/3, d.MinMaxRatio, 1e-9)
	assert.Greater(t, d.Quality, 0.0)
	assert.Less(t, d.Quality, 1.0)
}
