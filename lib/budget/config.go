package budget

import (
	"fmt"
	"strings"

	"github.com/ansel1/merry"
)

// ErrInvalidConfig is returned for a budget configuration that is out of range
var ErrInvalidConfig = merry.New("invalid budget configuration")

const (
	// MinMaxMemory is the smallest cache size accepted
	MinMaxMemory int64 = 96 * 1024
	// MinEvictBytes is the smallest eviction margin accepted
	MinEvictBytes int64 = 1024
	// MaxCriticalPercentage bounds the critical overage
	MaxCriticalPercentage = 1000
)

// Config configures a Budget
type Config struct {
	// MaxMemory is the cache size in bytes
	MaxMemory int64
	// LogBufferBytes is a fixed share of the cache reserved for log buffers
	LogBufferBytes int64
	// EvictBytes is added to the overage so one run frees some headroom
	EvictBytes int64
	// CriticalPercentage is the overage, in percent of MaxMemory, above
	// which writers evict inline
	CriticalPercentage int
	// MinTreeUsage is the tree usage below which scanning stops
	MinTreeUsage int64
}

// DefaultConfig returns a 64MiB cache with a 512KiB eviction margin
func DefaultConfig() Config {
	return Config{
		MaxMemory:          64 << 20,
		LogBufferBytes:     0,
		EvictBytes:         512 * 1024,
		CriticalPercentage: 0,
		MinTreeUsage:       0,
	}
}

// Validate checks that all values are in range
func (c Config) Validate() error {
	switch {
	case c.MaxMemory < MinMaxMemory:
		return merry.Wrap(ErrInvalidConfig).WithValue("maxMemory", c.MaxMemory).
			Appendf("max memory must be at least %d", MinMaxMemory)
	case c.EvictBytes < MinEvictBytes:
		return merry.Wrap(ErrInvalidConfig).WithValue("evictBytes", c.EvictBytes).
			Appendf("evict bytes must be at least %d", MinEvictBytes)
	case c.CriticalPercentage < 0 || c.CriticalPercentage > MaxCriticalPercentage:
		return merry.Wrap(ErrInvalidConfig).WithValue("criticalPercentage", c.CriticalPercentage).
			Appendf("critical percentage must be in [0,%d]", MaxCriticalPercentage)
	case c.LogBufferBytes < 0 || c.LogBufferBytes >= c.MaxMemory/2:
		return merry.Wrap(ErrInvalidConfig).WithValue("logBufferBytes", c.LogBufferBytes).
			Append("log buffers must use less than half of the cache")
	case c.MinTreeUsage < 0:
		return merry.Wrap(ErrInvalidConfig).WithValue("minTreeUsage", c.MinTreeUsage).
			Append("min tree usage must not be negative")
	}
	return nil
}

func (c Config) String() string {
	var sb strings.Builder
	sb.WriteString("Budget Configuration:\n")
	field := func(name string, value any) {
		sb.WriteString(fmt.Sprintf("  %-22s: %v\n", name, value))
	}
	field("Max Memory", c.MaxMemory)
	field("Log Buffer Bytes", c.LogBufferBytes)
	field("Evict Bytes", c.EvictBytes)
	field("Critical Percentage", c.CriticalPercentage)
	field("Min Tree Usage", c.MinTreeUsage)
	return sb.String()
}
