package probe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"compat-probe/persistence"
	"compat-probe/platform"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const importConcurrency = 8

// ErrInvalidReport is returned for reports that cannot be imported.
var ErrInvalidReport = errors.New("invalid report")

// Report is a batch of results produced outside the service, for example by
// a bulk test run.
type Report struct {
	Environment ReportEnvironment `json:"environment"`
	Results     []ReportEntry     `json:"results"`
}

type ReportEnvironment struct {
	TransformerVersion string `json:"transformer_version"`
	GameVersion        string `json:"game_version"`
	LoaderVersion      string `json:"neoforge_version"`
}

type ReportEntry struct {
	Project       ReportProject `json:"project"`
	VersionNumber string        `json:"version_number"`
	// Result is nil when the run produced no verdict.
	Result *ReportResult `json:"result"`
}

type ReportProject struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	VersionID string `json:"version_id"`
}

type ReportResult struct {
	Output struct {
		Success      bool   `json:"success"`
		PrimaryModID string `json:"primaryModid"`
	} `json:"output"`
	Errors bool `json:"errors"`
}

// ImportSummary counts what an import did.
type ImportSummary struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// ImportReport stores every verdict of the report. Entries without a verdict
// are skipped; entries that fail are logged and counted.
func (s *Service) ImportReport(ctx context.Context, report *Report) (*ImportSummary, error) {
	env := report.Environment
	if env.TransformerVersion == "" || env.GameVersion == "" || env.LoaderVersion == "" {
		return nil, fmt.Errorf("%w: environment needs transformer, game and loader versions", ErrInvalidReport)
	}
	s.log.Infow("Importing test results", zap.Int("count", len(report.Results)))
	start := time.Now()

	testEnv, err := s.results.GetOrCreateTestEnvironment(ctx, env.TransformerVersion, env.GameVersion, env.LoaderVersion)
	if err != nil {
		return nil, err
	}

	var imported, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)
	for _, entry := range report.Results {
		if entry.Result == nil {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			if err := s.importEntry(gctx, entry, testEnv); err != nil {
				s.log.Errorw("Error importing result", zap.String("project", entry.Project.Slug), zap.Error(err))
				failed.Add(1)
				return nil
			}
			imported.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	summary := &ImportSummary{Imported: int(imported.Load()), Skipped: int(skipped.Load()), Failed: int(failed.Load())}
	s.log.Infow("Imported test results",
		zap.Int("imported", summary.Imported),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", time.Since(start)))
	return summary, nil
}

func (s *Service) importEntry(ctx context.Context, entry ReportEntry, env *persistence.TestEnvironment) error {
	ref := entry.Project.Slug
	if ref == "" {
		ref = entry.Project.ID
	}
	project, err := s.platforms.GetProject(ctx, platform.Modrinth, ref)
	if err != nil {
		return err
	}
	modID := entry.Result.Output.PrimaryModID
	_, err = s.results.SaveResult(ctx, project, &modID, entry.Project.VersionID, entry.Result.Output.Success, env)
	return err
}
