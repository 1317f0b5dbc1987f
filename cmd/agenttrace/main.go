// Command agenttrace runs the callback event ingestion server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/agenttrace/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agenttrace",
	Short: "Correlate LLM, chain, tool and agent callbacks into OpenTelemetry traces",
	Long: `agenttrace receives lifecycle callback events from LLM pipelines and turns
them into OpenTelemetry span trees, one span per run, nested by parent run.`,
	Version:       version.Get(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON or YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text, json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
