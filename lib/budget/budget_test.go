package budget

import (
	"testing"

	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	c := DefaultConfig()
	c.MaxMemory = 1 << 20
	c.EvictBytes = 64 * 1024
	c.CriticalPercentage = 10
	return c
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := []func(c *Config){
		func(c *Config) { c.MaxMemory = MinMaxMemory - 1 },
		func(c *Config) { c.EvictBytes = 100 },
		func(c *Config) { c.CriticalPercentage = -1 },
		func(c *Config) { c.CriticalPercentage = MaxCriticalPercentage + 1 },
		func(c *Config) { c.LogBufferBytes = c.MaxMemory },
		func(c *Config) { c.MinTreeUsage = -5 },
	}
	for i, mutate := range bad {
		c := DefaultConfig()
		mutate(&c)
		err := c.Validate()
		require.Error(t, err, "case %d", i)
		assert.True(t, merry.Is(err, ErrInvalidConfig), "case %d", i)
	}

	_, err := New(Config{})
	assert.True(t, merry.Is(err, ErrInvalidConfig))
}

func TestIsRunnable(t *testing.T) {
	b, err := New(testConfig())
	require.NoError(t, err)

	runnable, required := b.IsRunnable()
	assert.False(t, runnable)
	assert.Zero(t, required)

	// 1000 bytes over: required is overage plus margin
	b.UpdateTreeUsage(b.MaxMemory() + 1000)
	runnable, required = b.IsRunnable()
	assert.True(t, runnable)
	assert.Equal(t, int64(1000+64*1024), required)
	assert.Equal(t, int64(1000), b.Overage())
}

func TestIsRunnableClampsToHalfOfMax(t *testing.T) {
	c := testConfig()
	c.EvictBytes = c.MaxMemory
	b, err := New(c)
	require.NoError(t, err)

	b.UpdateTreeUsage(c.MaxMemory + 10)
	runnable, required := b.IsRunnable()
	require.True(t, runnable)
	assert.Equal(t, b.CacheUsage()-c.MaxMemory/2, required)
	assert.GreaterOrEqual(t, b.CacheUsage()-required, c.MaxMemory/2)
}

func TestForceRunnable(t *testing.T) {
	b, err := New(testConfig())
	require.NoError(t, err)

	b.ForceRunnable(true)
	runnable, required := b.IsRunnable()
	assert.True(t, runnable)
	assert.Equal(t, b.MaxMemory(), required)
}

func TestSetMaxMemory(t *testing.T) {
	b, err := New(testConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20)/10, b.CriticalThreshold())

	require.NoError(t, b.SetMaxMemory(2<<20))
	assert.Equal(t, int64(2<<20), b.MaxMemory())
	assert.Equal(t, int64(2<<20)/10, b.CriticalThreshold())
	assert.Equal(t, int64(2<<20), b.Config().MaxMemory)

	err = b.SetMaxMemory(10)
	assert.True(t, merry.Is(err, ErrInvalidConfig))
	assert.Equal(t, int64(2<<20), b.MaxMemory())
}

func TestTreeUsageMinimum(t *testing.T) {
	c := testConfig()
	c.MinTreeUsage = 4096
	b, err := New(c)
	require.NoError(t, err)

	b.UpdateTreeUsage(4096)
	assert.False(t, b.IsTreeUsageAboveMinimum())
	b.UpdateTreeUsage(1)
	assert.True(t, b.IsTreeUsageAboveMinimum())
}

func TestSharedTenants(t *testing.T) {
	s, err := NewShared(testConfig())
	require.NoError(t, err)

	a := s.NewTenant("a")
	b := s.NewTenant("b")
	a.UpdateTreeUsage(700 * 1024)
	b.UpdateTreeUsage(100 * 1024)
	b.UpdateAdminUsage(1024)

	assert.Equal(t, int64(800*1024), s.TreeUsage())
	assert.Equal(t, int64(1024), s.AdminUsage())
	assert.Equal(t, s.MaxMemory(), a.MaxMemory())

	shares := s.Shares()
	require.Len(t, shares, 2)
	fair := s.MaxMemory() / 2
	assert.Equal(t, Share{ID: "a", Usage: 700 * 1024, Weight: 700*1024 + (700*1024 - fair)}, shares[0])
	assert.Equal(t, Share{ID: "b", Usage: 100 * 1024, Weight: 100 * 1024}, shares[1])

	require.NoError(t, s.SetMaxMemory(4<<20))
	assert.Equal(t, int64(4<<20), b.MaxMemory())

	s.RemoveTenant("a")
	assert.Equal(t, 1, s.Tenants())
	assert.Equal(t, int64(100*1024), s.TreeUsage())
}
