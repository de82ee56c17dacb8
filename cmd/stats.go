package cmd

import (
	"context"
	"fmt"

	"compat-probe/logger"
	"compat-probe/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Shows the most requested mods and database totals",
	Run: func(cmd *cobra.Command, _ []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		runStats(cmd.Context(), limit)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().IntP("limit", "n", 20, "number of mods to show")
}

func runStats(ctx context.Context, limit int) {
	a := bootstrap(ctx, false)
	defer a.close()

	projects, err := a.repo.ProjectCount(ctx)
	if err != nil {
		logger.Log.Fatalw("Failed to count projects", zap.Error(err))
	}
	results, err := a.repo.ResultCount(ctx)
	if err != nil {
		logger.Log.Fatalw("Failed to count results", zap.Error(err))
	}
	top, err := a.probe.TopRequested(ctx, limit)
	if err != nil {
		logger.Log.Fatalw("Failed to read request stats", zap.Error(err))
	}

	fmt.Printf("%s %d projects, %d results\n\n", ui.Heading("Database:"), projects, results)
	fmt.Println(ui.Heading("Most requested:"))
	if len(top) == 0 {
		fmt.Println(ui.Muted("  no requests recorded"))
	}
	for i, s := range top {
		fmt.Printf("  %2d. %-40s %d\n", i+1, s.Slug, s.Count)
	}
}
