package cmd

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/queuesim/queuesim/sim/trace"
)

var (
	// CLI flags for the summarize command
	summarizeTracePath string // Path to a trace JSON produced by run --trace
	summarizeOutput    string // Summary JSON destination, empty writes to stdout
)

// summarizeCmd condenses a recorded trace into aggregate statistics
var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize a recorded simulation trace",
	Run: func(cmd *cobra.Command, args []string) {
		if summarizeTracePath == "" {
			logrus.Fatalf("Trace file not provided. Exiting.")
		}

		data, err := os.ReadFile(summarizeTracePath)
		if err != nil {
			logrus.Fatalf("Could not read trace: %v", err)
		}
		var tr trace.SimulationTrace
		if err := json.Unmarshal(data, &tr); err != nil {
			logrus.Fatalf("Could not parse trace: %v", err)
		}

		if err := writeJSON(summarizeOutput, trace.Summarize(&tr)); err != nil {
			logrus.Fatalf("Could not write summary: %v", err)
		}
	},
}

// init sets up CLI flags and attaches the summarize subcommand
func init() {
	summarizeCmd.Flags().StringVar(&summarizeTracePath, "trace", "", "Path to a trace JSON produced by run --trace")
	summarizeCmd.Flags().StringVar(&summarizeOutput, "output", "", "Write the summary JSON to this file instead of stdout")

	rootCmd.AddCommand(summarizeCmd)
}
