package cmd

import (
	"context"
	"fmt"

	"compat-probe/logger"
	"compat-probe/setup"
	"compat-probe/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var librariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "Manages the toolchain libraries",
}

var librariesUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Installs the newest transformer, loader and runtime libraries",
	Long: `Looks up the newest library versions for every configured game version and
installs them. Game files are rebuilt when the loader changed. Results
recorded for older libraries stay in their own test environment.`,
	Run: func(cmd *cobra.Command, _ []string) {
		runLibrariesUpdate(cmd.Context())
	},
}

func init() {
	librariesCmd.AddCommand(librariesUpdateCmd)
	rootCmd.AddCommand(librariesCmd)
}

func runLibrariesUpdate(ctx context.Context) {
	a := bootstrap(ctx, false)
	defer a.close()

	updates, err := a.probe.UpdateLibraries(ctx)
	if err != nil {
		logger.Log.Fatalw("Failed to update libraries", zap.Error(err))
	}
	for _, u := range updates {
		fmt.Println(formatLibraryUpdate(u))
	}
}

func formatLibraryUpdate(u setup.LibraryUpdate) string {
	name := fmt.Sprintf("%s (%s)", u.Library, u.GameVersion)
	switch {
	case u.Previous == "":
		return fmt.Sprintf("%s %s", name, ui.Success("installed "+u.Current))
	case u.Upgraded():
		return fmt.Sprintf("%s %s", name, ui.Success(fmt.Sprintf("upgraded %s -> %s", u.Previous, u.Current)))
	default:
		return fmt.Sprintf("%s %s", name, ui.Muted("already up to date at "+u.Current))
	}
}
