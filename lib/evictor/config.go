package evictor

import (
	"fmt"
	"strings"
	"time"

	"github.com/ansel1/merry"
)

// Sources of an eviction pass
const (
	SourceDaemon   = "daemon"
	SourceManual   = "manual"
	SourceCritical = "critical"
)

// ErrInvalidConfig is returned for an evictor configuration that is out of
// range
var ErrInvalidConfig = merry.New("invalid evictor configuration")

// Config configures an Evictor
type Config struct {
	// NodesPerScan is the number of eligible nodes compared to select one
	// victim
	NodesPerScan int
	// LRUOnly selects victims by generation only, ignoring level and dirty
	// state
	LRUOnly bool
	// ForcedYield yields the goroutine after a critical eviction
	ForcedYield bool
	// DeadlockRetry is the number of attempts for a log write that failed
	// with tree.ErrLogBusy
	DeadlockRetry int
	// WakeupInterval is the period of the daemon
	WakeupInterval time.Duration
	// MaxBatches bounds the number of batches of one pass
	MaxBatches int
}

// DefaultConfig returns the default evictor configuration
func DefaultConfig() Config {
	return Config{
		NodesPerScan:   10,
		LRUOnly:        false,
		ForcedYield:    false,
		DeadlockRetry:  3,
		WakeupInterval: 5 * time.Second,
		MaxBatches:     100,
	}
}

// Validate checks that all values are in range
func (c Config) Validate() error {
	switch {
	case c.NodesPerScan < 1 || c.NodesPerScan > 1000:
		return merry.Wrap(ErrInvalidConfig).WithValue("nodesPerScan", c.NodesPerScan).
			Append("nodes per scan must be in [1,1000]")
	case c.DeadlockRetry < 0:
		return merry.Wrap(ErrInvalidConfig).WithValue("deadlockRetry", c.DeadlockRetry).
			Append("deadlock retry must not be negative")
	case c.WakeupInterval <= 0:
		return merry.Wrap(ErrInvalidConfig).WithValue("wakeupInterval", c.WakeupInterval).
			Append("wakeup interval must be positive")
	case c.MaxBatches < 1:
		return merry.Wrap(ErrInvalidConfig).WithValue("maxBatches", c.MaxBatches).
			Append("max batches must be positive")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	policy := "level"
	if c.LRUOnly {
		policy = "lru"
	}

	addSection("Evictor")
	addField("Policy", policy)
	addField("Nodes Per Scan", fmt.Sprintf("%d", c.NodesPerScan))
	addField("Max Batches", fmt.Sprintf("%d", c.MaxBatches))
	addField("Wakeup Interval", c.WakeupInterval.String())
	addField("Forced Yield", fmt.Sprintf("%t", c.ForcedYield))
	addField("Deadlock Retry", fmt.Sprintf("%d", c.DeadlockRetry))
	return sb.String()
}
