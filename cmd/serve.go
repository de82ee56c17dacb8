package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"compat-probe/api"
	"compat-probe/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the HTTP API",
	Long: `Installs the toolchain libraries and game files for every configured game
version, then serves the HTTP API until interrupted.`,
	Run: func(cmd *cobra.Command, _ []string) {
		runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := bootstrap(ctx, false)
	defer a.close()

	logger.Log.Infow("Installing dependencies", zap.Strings("game_versions", a.cfg.GameVersions))
	if err := a.setup.InstallDependencies(ctx); err != nil {
		logger.Log.Fatalw("Failed to install dependencies", zap.Error(err))
	}

	if a.cfg.APIKey == "" {
		logger.Log.Warn("API_KEY not set, maintenance endpoints are not authenticated")
	}

	srv := api.New(a.probe, a.cfg.APIKey, logger.Log)
	if err := srv.ListenAndServe(ctx, a.cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Fatalw("HTTP server failed", zap.Error(err))
	}
}
