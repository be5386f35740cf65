package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/btcache/cmd/util"
	"github.com/ValentinKolb/btcache/lib/budget"
	"github.com/ValentinKolb/btcache/lib/env"
	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/ValentinKolb/btcache/rpc/common"
	"github.com/ValentinKolb/btcache/rpc/server"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("cli")

var (
	serveCmdConfig = &common.ServerConfig{}
	environments   []string
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a shared cache with its admin server",
		Long:    `Start a shared cache holding one environment per name given with --environments, run the evictor daemon and serve the admin API. The configuration can be set via command line flags or environment variables. The format of the environment variables is BTCACHE_<flag> (e.g. BTCACHE_MAX_MEMORY=1073741824)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupCacheFlags(ServeCmd, budget.DefaultConfig().MaxMemory)

	key := "environments"
	ServeCmd.PersistentFlags().String(key, "default", cmdUtil.WrapString("Comma-separated list of environments to open in the shared cache. The n-th environment is served as shard n (starting at 1)"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the admin API will listen"))

	key = "metrics-path"
	ServeCmd.PersistentFlags().String(key, "/metrics", cmdUtil.WrapString("Path of the Prometheus metrics endpoint"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "load-rate"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Synthetic writes per second and environment. 0 disables the load generator"))

	key = "load-keys"
	ServeCmd.PersistentFlags().Int(key, 100_000, cmdUtil.WrapString("Number of distinct keys written by the load generator"))

	key = "load-value-size"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("Size in bytes of the values written by the load generator"))
}

// processConfig reads the flags and environment variables into the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	environments = environments[:0]
	serveCmdConfig.Shards = []common.ServerShard{}
	for i, name := range strings.Split(viper.GetString("environments"), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("invalid environment list: %q", viper.GetString("environments"))
		}
		environments = append(environments, name)
		serveCmdConfig.Shards = append(serveCmdConfig.Shards, common.ServerShard{
			ShardID:     uint64(i + 1),
			Environment: name,
		})
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MetricsPath = viper.GetString("metrics-path")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run opens the shared cache and serves it until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	bc, ec, err := cmdUtil.GetCacheConfig()
	if err != nil {
		return err
	}
	cache, err := env.NewSharedCache("btcache", bc, ec)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			Logger.Errorf("failed to close shared cache: %v", err)
		}
	}()

	opened := make([]*env.Environment, 0, len(environments))
	for _, name := range environments {
		cfg := env.DefaultConfig()
		cfg.Name = name
		e, err := cache.Open(cfg)
		if err != nil {
			return err
		}
		if _, err := e.CreateDatabase(loadDatabase, tree.DefaultDatabaseConfig()); err != nil {
			return err
		}
		opened = append(opened, e)
	}
	cache.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	serv := server.NewRPCServer(*serveCmdConfig, cache, t, s)
	g.Go(func() error { return serv.Serve(ctx) })

	if rate := viper.GetInt("load-rate"); rate > 0 {
		for _, e := range opened {
			l := newLoad(e, rate, viper.GetInt("load-keys"), viper.GetInt("load-value-size"))
			g.Go(func() error { return l.run(ctx) })
		}
	}

	err = g.Wait()
	Logger.Infof("shutting down")
	return err
}
