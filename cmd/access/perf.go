package access

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/dCycle/cmd/util"
	"github.com/ValentinKolb/dCycle/rpc/common"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Measures the request latency of a running runtime",
		Long:    "Measures paths, read, write and subscribe requests against a running runtime. The write benchmark writes the current value of the parameter back, the runtime's state does not change.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads    = 10
	perfOutputPath    = "Control.main_outputs.cycle_time"
	perfParameterPath = "parameters.ball_filter"
	perfSkip          = make([]string, 0)
)

type benchmark struct {
	name string
	// op runs one request, counter is local to the goroutine
	op func(ctx context.Context, counter int) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. paths,subscribe)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "output-path"
	perfTestCmd.Flags().String(key, perfOutputPath, util.WrapString("Output path to read and subscribe"))
	key = "parameter-path"
	perfTestCmd.Flags().String(key, perfParameterPath, util.WrapString("Parameter path to read and write"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfOutputPath = viper.GetString("output-path")
	perfParameterPath = viper.GetString("parameter-path")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dCycle runtimes")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// the written value is the current one
	ctx, cancel := requestContext(cmd)
	current, err := rpcClient.Read(ctx, perfParameterPath, format)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", perfParameterPath, err)
	}

	benchmarks := []benchmark{
		{"paths", func(ctx context.Context, _ int) error {
			_, err := rpcClient.Paths(ctx, "outputs")
			return err
		}},
		{"read-output", func(ctx context.Context, _ int) error {
			_, err := rpcClient.Read(ctx, perfOutputPath, format)
			return err
		}},
		{"read-parameter", func(ctx context.Context, _ int) error {
			_, err := rpcClient.Read(ctx, perfParameterPath, format)
			return err
		}},
		{"write-parameter", func(ctx context.Context, _ int) error {
			return rpcClient.Write(ctx, perfParameterPath, current.Data, format)
		}},
		{"subscribe", func(ctx context.Context, _ int) error {
			sub, err := rpcClient.Subscribe(ctx, perfOutputPath, format)
			if err != nil {
				return err
			}
			if _, err := sub.Next(ctx); err != nil {
				return err
			}
			return sub.Unsubscribe(ctx)
		}},
		{"mixed", func(ctx context.Context, counter int) error {
			var err error
			switch counter % 3 {
			case 0:
				_, err = rpcClient.Read(ctx, perfOutputPath, format)
			case 1:
				_, err = rpcClient.Read(ctx, perfParameterPath, format)
			case 2:
				err = rpcClient.Write(ctx, perfParameterPath, current.Data, format)
			}
			return err
		}},
	}

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)
	timeout := time.Duration(util.GetClientConfig().TimeoutSecond) * time.Second

	for _, bm := range benchmarks {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bm.name) {
				return
			}

			b.SetParallelism(perfNumThreads)

			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					ctx, cancel := context.WithTimeout(context.Background(), timeout)
					if err := bm.op(ctx, counter); err != nil {
						log.Printf("(%s) - error: %v\n", bm.name, err)
					}
					cancel()
					counter++
				}
			})
		})
		results[bm.name] = result
		printResult(bm.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "TimeoutSec", "Serializer", "Transport", "Format",
		"Threads", "OutputPath", "ParameterPath",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Endpoint,
			strconv.Itoa(config.TimeoutSecond),
			config.Serializer,
			config.Transport,
			string(format),
			strconv.Itoa(perfNumThreads),
			perfOutputPath,
			perfParameterPath,
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
