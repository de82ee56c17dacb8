package cmd

import (
	"context"
	"fmt"
	"os"

	"compat-probe/logger"
	"compat-probe/platform"
	"compat-probe/probe"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var checkCmd = &cobra.Command{
	Use:   "check [slug or id]",
	Short: "Tests a single mod from the command line",
	Long: `Resolves the mod and its dependencies, runs the transformer when no
result is known yet and prints the verdict.
Example: compat-probe check sodium --game-version 1.21.1`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		gameVersion, _ := cmd.Flags().GetString("game-version")
		plain, _ := cmd.Flags().GetBool("plain")
		runCheck(cmd.Context(), args[0], gameVersion, plain)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringP("game-version", "g", "", "game version to test against (defaults to the first configured one)")
	checkCmd.Flags().Bool("plain", false, "print the result without the interactive view")
}

func runCheck(ctx context.Context, id, gameVersion string, plain bool) {
	a := bootstrap(ctx, !plain)
	defer a.close()

	if gameVersion == "" {
		gameVersion = a.cfg.GameVersions[0]
	}
	req := probe.TestRequest{Platform: string(platform.Modrinth), ID: id, GameVersion: gameVersion}

	if plain {
		resp, err := a.probe.TestMod(ctx, req)
		if err != nil {
			logger.Log.Fatalw("Check failed", zap.String("id", id), zap.Error(err))
		}
		fmt.Print(renderResponse(resp))
		return
	}

	run := func(ctx context.Context, progress chan<- CheckProgressMsg) {
		progress <- CheckProgressMsg{Type: "status", Message: fmt.Sprintf("Testing %s for Minecraft %s...", id, gameVersion)}
		resp, err := a.probe.TestMod(ctx, req)
		if err != nil {
			logger.Log.Errorw("Check failed", zap.String("id", id), zap.Error(err))
			progress <- CheckProgressMsg{Type: "error", Err: err}
			return
		}
		progress <- CheckProgressMsg{Type: "result", Response: resp}
	}

	final, err := tea.NewProgram(initialCheckModel(run)).Run()
	if err != nil {
		logger.Log.Fatalw("Error running check UI", zap.Error(err))
	}
	if m, ok := final.(CheckModel); ok && m.err != nil {
		os.Exit(1)
	}
}
