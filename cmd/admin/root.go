package admin

import (
	"github.com/ValentinKolb/btcache/cmd/util"
	"github.com/ValentinKolb/btcache/rpc/client"
	"github.com/spf13/cobra"
)

var (
	adminClient client.IAdminClient

	// AdminCommands represents the admin command group
	AdminCommands = &cobra.Command{
		Use:                "admin",
		Short:              "Administer an environment of a running btcache server",
		PersistentPreRunE:  setupAdminClient,
		PersistentPostRunE: closeAdminClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(AdminCommands)
	AdminCommands.PersistentFlags().StringP("output", "o", "text", util.WrapString("Output format of stats (text, json, yaml)"))

	AdminCommands.AddCommand(statsCmd)
	AdminCommands.AddCommand(evictCmd)
	AdminCommands.AddCommand(alertCmd)
	AdminCommands.AddCommand(resizeCmd)
}

// setupAdminClient initializes the RPC admin client
func setupAdminClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	adminClient, err = client.NewRPCAdminClient(
		util.GetShardID(),
		*util.GetClientConfig(),
		t,
		s,
	)
	return err
}

func closeAdminClient(_ *cobra.Command, _ []string) error {
	if adminClient == nil {
		return nil
	}
	return adminClient.Close()
}
