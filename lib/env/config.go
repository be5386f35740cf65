package env

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/btcache/lib/budget"
	"github.com/ValentinKolb/btcache/lib/evictor"
	"github.com/ValentinKolb/btcache/lib/wal"
)

// Config configures an Environment
type Config struct {
	// Name is a human readable name, the environment id is generated
	Name string
	// ReadOnly rejects all writes. Dirty nodes are never logged by the
	// evictor of a read-only environment.
	ReadOnly bool
	// LogFileSize is the size of one log file
	LogFileSize uint32
	// RunDaemon starts the evictor daemon of a private cache on Open
	RunDaemon bool

	// Budget is ignored for environments of a SharedCache
	Budget  budget.Config
	Evictor evictor.Config
}

// DefaultConfig returns the default environment configuration
func DefaultConfig() Config {
	return Config{
		Name:        "default",
		LogFileSize: wal.DefaultFileSize,
		RunDaemon:   true,
		Budget:      budget.DefaultConfig(),
		Evictor:     evictor.DefaultConfig(),
	}
}

// Validate checks the budget and evictor configuration
func (c Config) Validate() error {
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	return c.Evictor.Validate()
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

	addSection("Environment")
	addField("Name", c.Name)
	addField("Read Only", fmt.Sprintf("%t", c.ReadOnly))
	addField("Log File Size", fmt.Sprintf("%d", c.LogFileSize))
	addField("Run Daemon", fmt.Sprintf("%t", c.RunDaemon))

	sb.WriteString("\n")
	sb.WriteString(c.Budget.String())
	sb.WriteString(c.Evictor.String())
	return sb.String()
}
