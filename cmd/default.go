package cmd

import (
	"github.com/spf13/cobra"
)

func init() {
	// Running the binary without a subcommand serves the API
	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		serveCmd.Run(cmd, args)
	}
}
