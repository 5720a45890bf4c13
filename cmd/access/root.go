package access

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/dCycle/cmd/util"
	"github.com/ValentinKolb/dCycle/rpc/client"
	"github.com/ValentinKolb/dCycle/rpc/common"
)

var (
	rpcClient *client.RPCClient
	format    common.Format

	// Commands are the client commands, they are added to the root command
	Commands = []*cobra.Command{pathsCmd, readCmd, subscribeCmd, writeCmd, persistCmd, perfTestCmd}
)

func init() {
	for _, c := range Commands {
		// Add common RPC flags to every client command
		util.SetupRPCClientFlags(c)
		c.PersistentPreRunE = setupClient
		c.PersistentPostRunE = closeClient
	}
}

// setupClient connects the protocol client
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	var err error
	if format, err = util.GetFormat(); err != nil {
		return err
	}

	rpcClient, err = util.NewClient()
	return err
}

func closeClient(*cobra.Command, []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}

// requestContext bounds a single request by the configured timeout
func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), time.Duration(util.GetClientConfig().TimeoutSecond)*time.Second)
}
