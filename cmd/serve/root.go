package serve

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/ValentinKolb/dCycle/cmd/util"
	"github.com/ValentinKolb/dCycle/lib/hardware"
	"github.com/ValentinKolb/dCycle/lib/node"
	"github.com/ValentinKolb/dCycle/lib/nodes"
	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/runtime"
	"github.com/ValentinKolb/dCycle/rpc/common"
)

var (
	serveCmdConfig = &runtime.Config{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the dCycle runtime",
		Long: `Start the runtime with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCYCLE_<flag> (e.g. DCYCLE_PARAMETERS_DIR=/etc/dcycle).

The first SIGINT/SIGTERM lets every cycler finish its current cycle, a second one aborts.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "manifest"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("YAML manifest listing the cyclers and their nodes. Empty selects the built-in manifest"))

	key = "parameters-dir"
	ServeCmd.PersistentFlags().String(key, runtime.DefaultParametersDir, cmdUtil.WrapString("Directory holding the parameter layers (default.json, body.<id>.json, head.<id>.json, location/<name>/...)"))

	key = "body-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Body id selecting the body specific parameter layers"))

	key = "head-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Head id selecting the head specific parameter layers"))

	key = "location"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Location selecting the location specific parameter layers"))

	key = "watch-parameters"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Reload the parameters when a layer file changes"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9990", cmdUtil.WrapString("The address of the protocol endpoint (e.g. localhost:9990, /tmp/dcycle.sock). Empty disables it"))

	key = "transport"
	ServeCmd.PersistentFlags().String(key, "tcp", cmdUtil.WrapString("The transport of the protocol endpoint (tcp, unix, websocket)"))

	key = "serializer"
	ServeCmd.PersistentFlags().String(key, "binary", cmdUtil.WrapString("The envelope serializer of the protocol endpoint (json, binary, gob)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds of a single frame write to a client. 0 disables it"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 8, cmdUtil.WrapString("Number of requests handled concurrently per connection"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (tcp transport only)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval in seconds (tcp transport only)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address serving /metrics in the Prometheus text format (e.g. localhost:9991). Empty disables it"))

	key = "statistics-interval"
	ServeCmd.PersistentFlags().Duration(key, runtime.DefaultStatisticsInterval, cmdUtil.WrapString("Update interval of the subscriptions below Runtime.statistics"))

	key = "record"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("File to record the values of --record-paths to as JSON lines. Empty disables the recorder"))

	key = "record-paths"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of paths to record (e.g. Control.main_outputs.ball_position)"))

	key = "camera-frame-period"
	ServeCmd.PersistentFlags().Duration(key, hardware.DefaultFramePeriod, cmdUtil.WrapString("Frame period of the simulated cameras"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the runtime configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	serveCmdConfig.Manifest = viper.GetString("manifest")
	serveCmdConfig.ParametersDir = viper.GetString("parameters-dir")
	serveCmdConfig.Identity = parameters.Identity{
		BodyID:   viper.GetString("body-id"),
		HeadID:   viper.GetString("head-id"),
		Location: viper.GetString("location"),
	}
	serveCmdConfig.WatchParameters = viper.GetBool("watch-parameters")

	serveCmdConfig.Server = common.ServerConfig{
		Endpoint:        viper.GetString("endpoint"),
		Transport:       viper.GetString("transport"),
		Serializer:      viper.GetString("serializer"),
		TimeoutSecond:   viper.GetInt64("timeout"),
		WorkersPerConn:  viper.GetInt("workers-per-conn"),
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		LogLevel:        viper.GetString("log-level"),
	}
	if serveCmdConfig.Server.WorkersPerConn <= 0 {
		return fmt.Errorf("workers-per-conn must be positive")
	}

	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.StatisticsInterval = viper.GetDuration("statistics-interval")

	serveCmdConfig.Record = viper.GetString("record")
	serveCmdConfig.RecordPaths = nil
	for _, p := range strings.Split(viper.GetString("record-paths"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			serveCmdConfig.RecordPaths = append(serveCmdConfig.RecordPaths, p)
		}
	}
	if serveCmdConfig.Record != "" && len(serveCmdConfig.RecordPaths) == 0 {
		return fmt.Errorf("--record requires --record-paths")
	}

	return nil
}

// run assembles the runtime and runs it until it is signalled
func run(cmd *cobra.Command, _ []string) error {
	fmt.Println(serveCmdConfig.String())

	registry := node.NewRegistry()
	if err := nodes.Register(registry); err != nil {
		return err
	}

	hw := hardware.NewSimulated(viper.GetDuration("camera-frame-period"))
	defer hw.Close()

	rt, err := runtime.New(*serveCmdConfig, registry, hw)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	if err := rt.Start(cmd.Context()); err != nil {
		return err
	}
	if addr := rt.Addr(); addr != "" {
		fmt.Printf("protocol endpoint listening on %s\n", addr)
	}

	// every signal advances the shutdown: finish the current cycles, then abort
	go func() {
		for range signals {
			rt.Stop()
		}
	}()

	return rt.Wait()
}
