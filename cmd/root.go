package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ValentinKolb/dCycle/cmd/access"
	"github.com/ValentinKolb/dCycle/cmd/serve"
	"github.com/ValentinKolb/dCycle/cmd/util"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dcycle",
		Short: "cyclic dataflow runtime for robot control software",
		Long: fmt.Sprintf(`dCycle (v%s)

A runtime for robot control software written in Go. Nodes are
grouped into cyclers that run on their own threads at their own rate,
exchange their outputs through lock-free multi-slot buffers and expose
every output and parameter to remote tooling over a path addressed
protocol.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dCycle",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dCycle v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper for all commands
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	for _, c := range access.Commands {
		RootCmd.AddCommand(c)
	}
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
