package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/btcache/cmd/admin"
	"github.com/ValentinKolb/btcache/cmd/serve"
	"github.com/ValentinKolb/btcache/cmd/simulate"
	"github.com/ValentinKolb/btcache/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "btcache",
		Short: "B-tree cache with budgeted eviction",
		Long: fmt.Sprintf(`btcache (v%s)

An in-memory B-tree cache that keeps its resident nodes within a memory
budget. An evictor daemon strips leaves from bottom internal nodes and
evicts whole subtrees, writing dirty nodes to the log first. Several
environments can share one cache and one evictor.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of btcache",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("btcache v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(admin.AdminCommands)
	RootCmd.AddCommand(simulate.SimulateCmd)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
