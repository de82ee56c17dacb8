// Package runner coordinates transformations so that each project is
// transformed at most once per test environment, no matter how many callers
// ask for it at the same time.
package runner

import (
	"context"
	"fmt"

	"compat-probe/flight"
	"compat-probe/metrics"
	"compat-probe/persistence"
	"compat-probe/platform"
	"compat-probe/transform"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Transformer runs the external transformer. *transform.Service implements it.
type Transformer interface {
	RunTransformation(ctx context.Context, project *platform.ResolvedProject, gameVersion string) (*transform.Result, error)
}

// ResultStore reads and writes persisted results. *persistence.Service
// implements it.
type ResultStore interface {
	GetExistingResult(ctx context.Context, project *platform.Project, env *persistence.TestEnvironment) (*persistence.TestResult, bool, error)
	SaveResult(ctx context.Context, project *platform.Project, modID *string, versionID string, passing bool, env *persistence.TestEnvironment) (*persistence.TestResult, error)
}

type taskKey struct {
	platform    platform.Platform
	projectID   string
	environment uint
}

// Runner is the async transformation coordinator.
type Runner struct {
	transformer Transformer
	results     ResultStore
	tasks       *flight.Group[taskKey, *persistence.TestResult]
	log         *zap.SugaredLogger
}

// New creates a Runner that runs at most workers transformations at once.
func New(transformer Transformer, results ResultStore, workers int, log *zap.SugaredLogger) *Runner {
	if workers < 1 {
		workers = 1
	}
	pool := semaphore.NewWeighted(int64(workers))
	spawn := func(run func()) {
		go func() {
			// A background context never fails to acquire
			_ = pool.Acquire(context.Background(), 1)
			defer pool.Release(1)
			run()
		}()
	}
	return &Runner{
		transformer: transformer,
		results:     results,
		tasks:       flight.New[taskKey, *persistence.TestResult](spawn),
		log:         log,
	}
}

// Transform returns the result for project in env, running the transformer
// only when no persisted result exists and no other caller is already
// running it. ctx only bounds the wait: a started transformation finishes and
// is persisted even when every caller has gone away.
func (r *Runner) Transform(ctx context.Context, project *platform.Project, resolved *platform.ResolvedProject, env *persistence.TestEnvironment) (*persistence.TestResult, error) {
	check := func() (*persistence.TestResult, bool, error) {
		return r.results.GetExistingResult(ctx, project, env)
	}

	if result, ok, err := r.tasks.Peek(check); err != nil {
		return nil, err
	} else if ok {
		metrics.RunnerCacheHitsTotal.Inc()
		return result, nil
	}

	key := taskKey{platform: project.Platform, projectID: project.ID, environment: env.ID}
	call, outcome := r.tasks.Launch(ctx, key, check, func(ctx context.Context) (*persistence.TestResult, error) {
		return r.run(ctx, project, resolved, env)
	})

	switch outcome {
	case flight.Checked:
		metrics.RunnerCacheHitsTotal.Inc()
	case flight.Joined:
		metrics.RunnerJoinsTotal.Inc()
		r.log.Debugw("Joining running transformation", zap.String("project", project.ID))
	case flight.Started:
		metrics.RunnerInFlight.Inc()
		r.log.Infow("Scheduled transformation",
			zap.String("project", project.ID),
			zap.String("version", resolved.Version.VersionID),
			zap.String("game_version", env.GameVersion))
	}
	return call.Wait(ctx)
}

func (r *Runner) run(ctx context.Context, project *platform.Project, resolved *platform.ResolvedProject, env *persistence.TestEnvironment) (*persistence.TestResult, error) {
	defer metrics.RunnerInFlight.Dec()

	result, err := r.transformer.RunTransformation(ctx, resolved, env.GameVersion)
	if err != nil {
		r.log.Errorw("Transformation failed", zap.String("project", project.ID), zap.Error(err))
		return nil, fmt.Errorf("transform %s: %w", project.ID, err)
	}

	var modID *string
	if result.PrimaryModID != "" {
		modID = &result.PrimaryModID
	}
	saved, err := r.results.SaveResult(ctx, project, modID, result.VersionID, result.Success, env)
	if err != nil {
		return nil, fmt.Errorf("save result for %s: %w", project.ID, err)
	}
	r.log.Infow("Transformation finished",
		zap.String("project", project.ID),
		zap.Bool("passing", result.Success))
	return saved, nil
}

// Running returns the number of scheduled or running transformations.
func (r *Runner) Running() int {
	return r.tasks.Len()
}
