package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information, set with -ldflags at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of NanoSearch",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "NanoSearch version %s (commit: %s, built: %s, %s)\n",
				Version, GitCommit, BuildTime, runtime.Version())
		},
	}
}
