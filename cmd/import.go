package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"compat-probe/logger"
	"compat-probe/probe"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importCmd = &cobra.Command{
	Use:   "import [report.json]",
	Short: "Imports the results of a bulk test run",
	Long: `Stores every verdict of a test report in the database, so that later
requests for those mods are answered without running the transformer.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runImport(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(ctx context.Context, path string) {
	report, err := readReport(path)
	if err != nil {
		logger.Log.Fatalw("Failed to read report", zap.String("path", path), zap.Error(err))
	}

	a := bootstrap(ctx, false)
	defer a.close()

	summary, err := a.probe.ImportReport(ctx, report)
	if err != nil {
		logger.Log.Fatalw("Failed to import report", zap.Error(err))
	}
	fmt.Printf("Imported %d results (%d without verdict, %d failed)\n", summary.Imported, summary.Skipped, summary.Failed)
}

func readReport(path string) (*probe.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report probe.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &report, nil
}
