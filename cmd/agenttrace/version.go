package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/agenttrace"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "agenttrace %s\n", agenttrace.Version())
		fmt.Fprintf(out, "  commit:      %s\n", agenttrace.GitCommit())
		fmt.Fprintf(out, "  api version: %s\n", agenttrace.APIVersion)
		fmt.Fprintf(out, "  go:          %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
