package cmd

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/queuesim/queuesim/sim"
	"github.com/queuesim/queuesim/sim/trace"
)

var (
	// CLI flags for the run command
	configPath string  // Path to the YAML simulation configuration
	seed       int64   // Master seed for all random streams
	horizon    float64 // Override for the configured run_time, 0 keeps the file's value
	logLevel   string  // Log verbosity level
	outputPath string  // Result JSON destination, empty writes to stdout
	tracePath  string  // Entity lifecycle trace destination, empty disables tracing
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "queuesim",
	Short: "Discrete-event simulator for queueing systems",
}

// runCmd executes a single simulation run from a configuration file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single simulation",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if configPath == "" {
			logrus.Fatalf("Configuration file not provided. Exiting simulation.")
		}

		cfg, err := sim.LoadConfig(configPath)
		if err != nil {
			logrus.Fatalf("Could not load configuration: %v", err)
		}
		if horizon > 0 {
			cfg.RunTime = horizon
		}

		s, err := sim.New(cfg, seed)
		if err != nil {
			logrus.Fatalf("Could not build simulator: %v", err)
		}

		var tr *trace.SimulationTrace
		if tracePath != "" {
			tr = trace.NewSimulationTrace(trace.TraceLevelEvents)
			s.AttachTrace(tr)
		}

		result, err := s.Run()
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}

		if err := writeJSON(outputPath, result); err != nil {
			logrus.Fatalf("Could not write results: %v", err)
		}
		if tr != nil {
			if err := writeJSON(tracePath, tr); err != nil {
				logrus.Fatalf("Could not write trace: %v", err)
			}
		}
	},
}

// writeJSON marshals v with indentation to the given path, or to stdout when
// the path is empty.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML simulation configuration")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Master seed for all random streams")
	runCmd.Flags().Float64Var(&horizon, "horizon", 0, "Override the configured run_time (simulated time units)")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&outputPath, "output", "", "Write result JSON to this file instead of stdout")
	runCmd.Flags().StringVar(&tracePath, "trace", "", "Write an entity lifecycle trace JSON to this file")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
