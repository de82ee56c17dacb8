package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "compat-probe",
	Short: "Tests mods for compatibility with the Connector toolchain",
	Long: `compat-probe resolves mods and their dependencies from Modrinth, runs the
Connector transformer against them and remembers the verdict per toolchain,
game and loader version.

Without a subcommand it starts the HTTP API, like 'serve'.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing the .env configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
