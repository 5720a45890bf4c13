package access

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ValentinKolb/dCycle/cmd/util"
	"github.com/ValentinKolb/dCycle/lib/parameters"
)

var (
	pathsCmd = &cobra.Command{
		Use:   "paths [outputs|parameters]",
		Short: "Lists the readable paths of a kind with their types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			paths, err := rpcClient.Paths(ctx, args[0])
			if err != nil {
				return err
			}
			names := make([]string, 0, len(paths))
			for p := range paths {
				names = append(names, p)
			}
			sort.Strings(names)
			for _, p := range names {
				fmt.Printf("%-60s %s\n", p, paths[p])
			}
			return nil
		},
	}
	readCmd = &cobra.Command{
		Use:   "read [path]",
		Short: "Reads the current value at a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			value, err := rpcClient.Read(ctx, args[0], format)
			if err != nil {
				return err
			}
			fmt.Printf("%s @ %s\n%s\n", args[0], value.Timestamp.Format(time.RFC3339Nano), util.FormatValue(value.Data))
			return nil
		},
	}
	subscribeCmd = &cobra.Command{
		Use:   "subscribe [path]",
		Short: "Prints the value at a path whenever it changes, until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			requestCtx, cancel := requestContext(cmd)
			sub, err := rpcClient.Subscribe(requestCtx, args[0], format)
			cancel()
			if err != nil {
				return err
			}

			for {
				value, err := sub.Next(ctx)
				if ctx.Err() != nil {
					// interrupted
					unsubscribeCtx, cancel := requestContext(cmd)
					defer cancel()
					return sub.Unsubscribe(unsubscribeCtx)
				}
				if err != nil {
					return err
				}
				fmt.Printf("%s @ %s (dropped %d)\n%s\n", args[0], value.Timestamp.Format(time.RFC3339Nano), sub.Dropped(), util.FormatValue(value.Data))
			}
		},
	}
	writeCmd = &cobra.Command{
		Use:   "write [path] [value]",
		Short: "Writes a value (JSON, or a plain string) to a path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			if err := rpcClient.Write(ctx, args[0], util.ParseValue(args[1]), format); err != nil {
				return err
			}
			fmt.Println("written successfully")
			return nil
		},
	}
	persistCmd = &cobra.Command{
		Use:   "persist [path] [scope]",
		Short: "Stores the parameter at a path in the layer file of a scope",
		Long: fmt.Sprintf("Stores the in-memory value of the parameter at a path in the layer file of a scope. Scope is one of %v.",
			parameters.Scopes),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parameters.ParseScope(args[1]); err != nil {
				return err
			}

			ctx, cancel := requestContext(cmd)
			defer cancel()

			if err := rpcClient.Persist(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("persisted successfully")
			return nil
		},
	}
)
