package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/rpc/common"
)

const (
	DefaultParametersDir      = "etc/parameters"
	DefaultStatisticsInterval = time.Second
	// DefaultReloadDebounce coalesces the file events of one editor save.
	DefaultReloadDebounce = 100 * time.Millisecond
)

// --------------------------------------------------------------------------
// Runtime configuration struct
// --------------------------------------------------------------------------

// Config configures a runtime.
type Config struct {
	// Manifest is the manifest file. Empty selects the built-in manifest.
	Manifest string

	// ParametersDir holds the parameter layers, Identity selects the robot specific ones.
	ParametersDir string
	Identity      parameters.Identity
	// WatchParameters reloads the parameters when a layer file changes.
	WatchParameters bool

	// Server configures the protocol endpoint. An empty endpoint disables it.
	Server common.ServerConfig

	// MetricsEndpoint serves /metrics. Empty disables it.
	MetricsEndpoint string
	// StatisticsInterval is the update interval of Runtime.statistics.
	StatisticsInterval time.Duration

	// Record is the file the recorder appends to, RecordPaths the recorded paths. An empty file
	// disables the recorder.
	Record      string
	RecordPaths []string
}

func (c *Config) applyDefaults() {
	if c.ParametersDir == "" {
		c.ParametersDir = DefaultParametersDir
	}
	if c.StatisticsInterval <= 0 {
		c.StatisticsInterval = DefaultStatisticsInterval
	}
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	orDisabled := func(value string) string {
		if value == "" {
			return "disabled"
		}
		return value
	}

	addSection("Runtime")
	if c.Manifest == "" {
		addField("Manifest", "built-in")
	} else {
		addField("Manifest", c.Manifest)
	}
	addField("Statistics Interval", c.StatisticsInterval.String())

	addSection("Parameters")
	addField("Directory", c.ParametersDir)
	addField("Body ID", orDisabled(c.Identity.BodyID))
	addField("Head ID", orDisabled(c.Identity.HeadID))
	addField("Location", orDisabled(c.Identity.Location))
	addField("Watch Files", fmt.Sprintf("%t", c.WatchParameters))

	if c.Server.Endpoint == "" {
		addSection("RPC Server")
		addField("Endpoint", "disabled")
	} else {
		sb.WriteString(c.Server.String())
	}

	addSection("Metrics")
	addField("Endpoint", orDisabled(c.MetricsEndpoint))

	addSection("Recorder")
	addField("File", orDisabled(c.Record))
	if c.Record != "" {
		addField("Paths", strings.Join(c.RecordPaths, ", "))
	}

	return sb.String()
}
