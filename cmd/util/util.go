package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/btcache/lib/budget"
	"github.com/ValentinKolb/btcache/lib/evictor"
	"github.com/ValentinKolb/btcache/rpc/common"
	"github.com/ValentinKolb/btcache/rpc/serializer"
	"github.com/ValentinKolb/btcache/rpc/transport"
	"github.com/ValentinKolb/btcache/rpc/transport/http"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the CLI
	EnvPrefix = "btcache"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and lets viper read BTCACHE_* variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Cache flags
// --------------------------------------------------------------------------

// SetupCacheFlags adds the budget and evictor flags to a command
func SetupCacheFlags(cmd *cobra.Command, maxMemory int64) {
	bc := budget.DefaultConfig()
	ec := evictor.DefaultConfig()

	key := "max-memory"
	cmd.PersistentFlags().Int64(key, maxMemory, WrapString("Size of the cache in bytes"))

	key = "evict-bytes"
	cmd.PersistentFlags().Int64(key, bc.EvictBytes, WrapString("Bytes evicted beyond the overage in every batch"))

	key = "critical-percentage"
	cmd.PersistentFlags().Int(key, bc.CriticalPercentage, WrapString("Percentage above the cache size at which writers evict in their own goroutine"))

	key = "nodes-per-scan"
	cmd.PersistentFlags().Int(key, ec.NodesPerScan, WrapString("Number of nodes compared to select one victim"))

	key = "lru-only"
	cmd.PersistentFlags().Bool(key, ec.LRUOnly, WrapString("Select victims by generation only instead of level, dirtiness and generation"))

	key = "wakeup-interval"
	cmd.PersistentFlags().Duration(key, ec.WakeupInterval, WrapString("Interval at which the evictor daemon checks the budget"))
}

// GetCacheConfig reads the budget and evictor configuration from viper
func GetCacheConfig() (budget.Config, evictor.Config, error) {
	bc := budget.DefaultConfig()
	bc.MaxMemory = viper.GetInt64("max-memory")
	bc.EvictBytes = viper.GetInt64("evict-bytes")
	bc.CriticalPercentage = viper.GetInt("critical-percentage")

	ec := evictor.DefaultConfig()
	ec.NodesPerScan = viper.GetInt("nodes-per-scan")
	ec.LRUOnly = viper.GetBool("lru-only")
	ec.WakeupInterval = viper.GetDuration("wakeup-interval")

	if err := bc.Validate(); err != nil {
		return bc, ec, err
	}
	return bc, ec, ec.Validate()
}

// --------------------------------------------------------------------------
// RPC client flags
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The address of the btcache admin server. Multiple endpoints can be specified as a comma-separated list"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Idle connections kept per endpoint"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry the request"))

	key = "shard"
	cmd.PersistentFlags().Int(key, 1, WrapString("ID of the shard (environment) to administer"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("transport-retries"),
		Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
		ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	name := viper.GetString("serializer")
	s, ok := serializer.ByName(name)
	if !ok {
		return nil, fmt.Errorf("invalid serializer %s", name)
	}
	return s, nil
}

// GetClientTransport creates the client transport based on configuration
func GetClientTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return uint64(viper.GetInt("shard"))
}
