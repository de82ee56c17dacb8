package cmd

import (
	"context"
	"fmt"

	"compat-probe/db"
	"compat-probe/logger"
	"compat-probe/platform"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Removes stored artifacts of untested versions",
	Long: `Deletes every downloaded artifact that no recorded test result refers to.
Removed artifacts are downloaded again when a resolution needs them.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ignore, _ := cmd.Flags().GetStringSlice("ignore")
		runCleanup(cmd.Context(), ignore)
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().StringSlice("ignore", nil, "entries of the storage directory to leave untouched")
}

func runCleanup(ctx context.Context, ignore []string) {
	a := bootstrap(ctx, false)
	defer a.close()

	versions, err := a.repo.TestedVersions(ctx)
	if err != nil {
		logger.Log.Fatalw("Failed to list tested versions", zap.Error(err))
	}
	keep := keepSet(ctx, a.platforms, versions)

	removed, err := platform.CleanupStorage(logger.Log, a.cfg.ModsPath(), keep, ignore)
	if err != nil {
		logger.Log.Fatalw("Cleanup failed", zap.Error(err))
	}
	fmt.Printf("Removed %d entries, kept %d tested versions\n", len(removed), len(keep))
}

type projectLookup interface {
	GetProject(ctx context.Context, p platform.Platform, slugOrID string) (*platform.Project, error)
}

// keepSet maps tested versions to storage coordinates. Versions whose
// project can no longer be looked up are dropped.
func keepSet(ctx context.Context, projects projectLookup, versions []db.TestedVersion) []platform.Coordinates {
	keep := make([]platform.Coordinates, 0, len(versions))
	for _, v := range versions {
		p, err := projects.GetProject(ctx, platform.Platform(v.Platform), v.ProjectID)
		if err != nil {
			logger.Log.Warnw("Skipping project", zap.String("project", v.ProjectID), zap.Error(err))
			continue
		}
		keep = append(keep, platform.Coordinates{ID: p.ID, Slug: p.Slug, VersionID: v.VersionID})
	}
	return keep
}
