package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ValentinKolb/btcache/lib/env"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print the statistics of the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reset, _ := cmd.Flags().GetBool("clear")
			stats, err := adminClient.Stats(reset)
			if err != nil {
				return err
			}
			return printStats(os.Stdout, stats, viper.GetString("output"))
		},
	}
	evictCmd = &cobra.Command{
		Use:   "evict",
		Short: "Run an eviction pass and print the statistics after it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := adminClient.Evict()
			if err != nil {
				return err
			}
			return printStats(os.Stdout, stats, viper.GetString("output"))
		},
	}
	alertCmd = &cobra.Command{
		Use:   "alert",
		Short: "Wake the evictor daemon if the cache is over budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			woken, err := adminClient.Alert()
			if err != nil {
				return err
			}
			if woken {
				fmt.Println("evictor woken")
			} else {
				fmt.Println("nothing to evict")
			}
			return nil
		},
	}
	resizeCmd = &cobra.Command{
		Use:   "resize [bytes]",
		Short: "Change the size of the cache",
		Long:  "Change the size of the cache. The size accepts the suffixes KiB, MiB and GiB.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bytes, err := parseSize(args[0])
			if err != nil {
				return err
			}
			if err := adminClient.Resize(bytes); err != nil {
				return err
			}
			fmt.Printf("cache resized to %d bytes\n", bytes)
			return nil
		},
	}
)

func init() {
	statsCmd.Flags().Bool("clear", false, "Reset the evictor counters after reading them")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// printStats writes stats in the given format
func printStats(w io.Writer, stats *env.Stats, format string) error {
	if stats == nil {
		return fmt.Errorf("server returned no statistics")
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(stats); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		ev := stats.Evictor
		fmt.Fprintf(w, "%-24s%s (%s)\n", "environment", stats.Name, stats.ID)
		fmt.Fprintf(w, "%-24s%d / %d bytes\n", "cache usage", stats.CacheUsage, stats.MaxMemory)
		fmt.Fprintf(w, "%-24s%d bytes in %d nodes\n", "tree usage", stats.TreeUsage, stats.ResidentNodes)
		fmt.Fprintf(w, "%-24s%d\n", "databases", stats.Databases)
		fmt.Fprintf(w, "%-24s%d runs, %d passes\n", "eviction", ev.Runs, ev.Passes)
		fmt.Fprintf(w, "%-24s%d scanned, %d selected\n", "nodes", ev.NodesScanned, ev.NodesSelected)
		fmt.Fprintf(w, "%-24s%d (%d roots)\n", "nodes evicted", ev.NodesEvicted, ev.RootNodesEvicted)
		fmt.Fprintf(w, "%-24s%d\n", "BINs stripped", ev.BINsStripped)
		fmt.Fprintf(w, "%-24smean %s, p99 %s\n", "run time", ev.RunTimeMean, ev.RunTimeP99)
		return nil
	default:
		return fmt.Errorf("invalid output format %s (expected text, json or yaml)", format)
	}
}

// parseSize parses a byte count with an optional KiB, MiB or GiB suffix
func parseSize(s string) (int64, error) {
	units := []struct {
		suffix string
		factor int64
	}{
		{"GiB", 1 << 30},
		{"MiB", 1 << 20},
		{"KiB", 1 << 10},
	}

	factor := int64(1)
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSuffix(s, u.suffix)
			factor = u.factor
			break
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("size must be a number: %w", err)
	}
	return n * factor, nil
}
