package cmd

import (
	"context"
	"fmt"

	"compat-probe/logger"
	"compat-probe/platform"
	"compat-probe/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Lists Fabric mods without a NeoForge build",
	Long: `Searches the registry for mods that only ship Fabric builds for a game
version. These are the mods worth testing.
With --download the latest version of every hit is stored locally.`,
	Run: func(cmd *cobra.Command, _ []string) {
		gameVersion, _ := cmd.Flags().GetString("game-version")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		download, _ := cmd.Flags().GetBool("download")
		runSearch(cmd.Context(), gameVersion, limit, offset, download)
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringP("game-version", "g", "", "game version to search for (defaults to the first configured one)")
	searchCmd.Flags().IntP("limit", "n", 20, "number of results")
	searchCmd.Flags().Int("offset", 0, "number of results to skip")
	searchCmd.Flags().Bool("download", false, "download the latest version of every result")
}

func runSearch(ctx context.Context, gameVersion string, limit, offset int, download bool) {
	a := bootstrap(ctx, false)
	defer a.close()

	if gameVersion == "" {
		gameVersion = a.cfg.GameVersions[0]
	}
	results, err := a.platforms.Search(ctx, platform.Modrinth, platform.SearchQuery{
		Limit:         limit,
		Offset:        offset,
		GameVersion:   gameVersion,
		Loader:        platform.LoaderFabric,
		ExcludeLoader: platform.LoaderNeoForge,
	})
	if err != nil {
		logger.Log.Fatalw("Search failed", zap.Error(err))
	}

	if len(results) == 0 {
		fmt.Println(ui.Muted("No results"))
		return
	}
	for i, r := range results {
		fmt.Println(formatSearchResult(offset+i+1, r))
		if !download || r.VersionID == "" {
			continue
		}
		project := &platform.Project{ID: r.ProjectID, Slug: r.Slug, Name: r.Name, Platform: platform.Modrinth}
		resolved, err := a.platforms.GetResolvedVersion(ctx, project, r.VersionID)
		if err != nil {
			logger.Log.Warnw("Download failed", zap.String("project", r.Slug), zap.Error(err))
			fmt.Println("      " + ui.Failure("download failed: "+err.Error()))
			continue
		}
		fmt.Println("      " + ui.Muted(resolved.FilePath(a.cfg.ModsPath())))
	}
}

func formatSearchResult(n int, r platform.SearchResult) string {
	return fmt.Sprintf("%3d. %-32s %s", n, r.Slug, ui.Muted(r.Name+" ("+r.ProjectID+")"))
}
