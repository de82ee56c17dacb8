// Package persistence maps registry projects, mods and test results onto the
// relational store.
package persistence

import (
	"context"
	"fmt"
	"time"

	"compat-probe/db"
	"compat-probe/platform"

	"go.uber.org/zap"
)

// Store is the relational storage the service needs. *db.Repository
// implements it. Lookups return (nil, nil) when nothing matches.
type Store interface {
	FindTestEnvironment(ctx context.Context, toolchainVersion, gameVersion, loaderVersion string) (*db.TestEnvironment, error)
	CreateTestEnvironment(ctx context.Context, env *db.TestEnvironment) error
	FindProject(ctx context.Context, platform, projectID string) (*db.Project, error)
	CreateProject(ctx context.Context, project *db.Project) error
	AssignProjectToMod(ctx context.Context, projectRef, modRef uint) error
	FindModByID(ctx context.Context, id uint) (*db.Mod, error)
	FindModByModID(ctx context.Context, modID string) (*db.Mod, error)
	CreateMod(ctx context.Context, mod *db.Mod) error
	SetModID(ctx context.Context, modRef uint, modID string) error
	LatestResultForMod(ctx context.Context, modRef, envRef uint) (*db.TestResult, error)
	CreateTestResult(ctx context.Context, result *db.TestResult) error
}

// TestEnvironment partitions results by toolchain, game and loader version.
type TestEnvironment struct {
	ID               uint      `json:"id"`
	ToolchainVersion string    `json:"toolchain_version"`
	GameVersion      string    `json:"game_version"`
	LoaderVersion    string    `json:"loader_version"`
	CreatedAt        time.Time `json:"created_at"`
}

// TestResult is a persisted verdict for a project version.
type TestResult struct {
	ID                uint              `json:"id"`
	ModID             *string           `json:"mod_id"`
	Platform          platform.Platform `json:"platform"`
	ProjectID         string            `json:"project_id"`
	VersionID         string            `json:"version_id"`
	Passing           bool              `json:"passing"`
	TestEnvironmentID uint              `json:"test_environment_id"`
	CreatedAt         time.Time         `json:"created_at"`
}

type Service struct {
	store Store
	log   *zap.SugaredLogger
}

func NewService(store Store, log *zap.SugaredLogger) *Service {
	return &Service{store: store, log: log}
}

// GetOrCreateTestEnvironment returns the environment for the version triple,
// creating it on first use.
func (s *Service) GetOrCreateTestEnvironment(ctx context.Context, toolchainVersion, gameVersion, loaderVersion string) (*TestEnvironment, error) {
	env, err := s.store.FindTestEnvironment(ctx, toolchainVersion, gameVersion, loaderVersion)
	if err != nil {
		return nil, fmt.Errorf("find test environment: %w", err)
	}
	if env != nil {
		return toEnvironment(env), nil
	}

	env = &db.TestEnvironment{ToolchainVersion: toolchainVersion, GameVersion: gameVersion, LoaderVersion: loaderVersion}
	if createErr := s.store.CreateTestEnvironment(ctx, env); createErr != nil {
		// Another caller may have created it in the meantime
		existing, err := s.store.FindTestEnvironment(ctx, toolchainVersion, gameVersion, loaderVersion)
		if err != nil || existing == nil {
			return nil, fmt.Errorf("create test environment: %w", createErr)
		}
		env = existing
	} else {
		s.log.Infow("Created test environment",
			zap.String("toolchain", toolchainVersion),
			zap.String("game", gameVersion),
			zap.String("loader", loaderVersion))
	}
	return toEnvironment(env), nil
}

func toEnvironment(env *db.TestEnvironment) *TestEnvironment {
	return &TestEnvironment{
		ID:               env.ID,
		ToolchainVersion: env.ToolchainVersion,
		GameVersion:      env.GameVersion,
		LoaderVersion:    env.LoaderVersion,
		CreatedAt:        env.CreatedAt,
	}
}

// GetExistingResult returns the current result for the project's mod in env.
// A result recorded for another project of the same mod counts.
func (s *Service) GetExistingResult(ctx context.Context, project *platform.Project, env *TestEnvironment) (*TestResult, bool, error) {
	dbProject, err := s.store.FindProject(ctx, string(project.Platform), project.ID)
	if err != nil {
		return nil, false, fmt.Errorf("find project %s: %w", project.ID, err)
	}
	if dbProject == nil {
		return nil, false, nil
	}

	result, err := s.store.LatestResultForMod(ctx, dbProject.ModRef, env.ID)
	if err != nil {
		return nil, false, fmt.Errorf("find result for %s: %w", project.ID, err)
	}
	if result == nil {
		return nil, false, nil
	}
	mod, err := s.store.FindModByID(ctx, dbProject.ModRef)
	if err != nil {
		return nil, false, err
	}
	return toResult(result, &result.Project, mod), true, nil
}

// SaveResult records a verdict. An unknown project gets a new mod (or joins
// the mod already known by modID). A known project whose mod id was unknown
// is linked to the mod that modID identifies.
func (s *Service) SaveResult(ctx context.Context, project *platform.Project, modID *string, versionID string, passing bool, env *TestEnvironment) (*TestResult, error) {
	if modID != nil && *modID == "" {
		modID = nil
	}

	dbProject, mod, err := s.linkProject(ctx, project, modID)
	if err != nil {
		return nil, err
	}

	result := &db.TestResult{
		ProjectRef:         dbProject.ID,
		VersionID:          versionID,
		Passing:            passing,
		TestEnvironmentRef: env.ID,
	}
	if err := s.store.CreateTestResult(ctx, result); err != nil {
		return nil, fmt.Errorf("save result for %s: %w", project.ID, err)
	}
	return toResult(result, dbProject, mod), nil
}

func (s *Service) linkProject(ctx context.Context, project *platform.Project, modID *string) (*db.Project, *db.Mod, error) {
	dbProject, err := s.store.FindProject(ctx, string(project.Platform), project.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("find project %s: %w", project.ID, err)
	}

	var known *db.Mod
	if modID != nil {
		if known, err = s.store.FindModByModID(ctx, *modID); err != nil {
			return nil, nil, fmt.Errorf("find mod %s: %w", *modID, err)
		}
	}

	if dbProject == nil {
		mod := known
		if mod == nil {
			mod = &db.Mod{ModID: modID}
			if err := s.store.CreateMod(ctx, mod); err != nil {
				return nil, nil, fmt.Errorf("create mod for %s: %w", project.ID, err)
			}
		}
		dbProject = &db.Project{Platform: string(project.Platform), ProjectID: project.ID, ModRef: mod.ID}
		if err := s.store.CreateProject(ctx, dbProject); err != nil {
			return nil, nil, fmt.Errorf("create project %s: %w", project.ID, err)
		}
		return dbProject, mod, nil
	}

	mod, err := s.store.FindModByID(ctx, dbProject.ModRef)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case modID == nil || (mod != nil && mod.ModID != nil && *mod.ModID == *modID):
	case known != nil:
		s.log.Infow("Assigning project to mod",
			zap.String("project", project.ID), zap.String("modid", *modID))
		if err := s.store.AssignProjectToMod(ctx, dbProject.ID, known.ID); err != nil {
			return nil, nil, fmt.Errorf("assign project %s: %w", project.ID, err)
		}
		dbProject.ModRef = known.ID
		mod = known
	case mod != nil && mod.ModID == nil:
		if err := s.store.SetModID(ctx, mod.ID, *modID); err != nil {
			return nil, nil, fmt.Errorf("set mod id of %s: %w", project.ID, err)
		}
		mod.ModID = modID
	default:
		s.log.Warnw("Project reports a different mod id than its mod",
			zap.String("project", project.ID), zap.String("modid", *modID))
	}
	return dbProject, mod, nil
}

func toResult(r *db.TestResult, p *db.Project, mod *db.Mod) *TestResult {
	out := &TestResult{
		ID:                r.ID,
		Platform:          platform.Platform(p.Platform),
		ProjectID:         p.ProjectID,
		VersionID:         r.VersionID,
		Passing:           r.Passing,
		TestEnvironmentID: r.TestEnvironmentRef,
		CreatedAt:         r.CreatedAt,
	}
	if mod != nil {
		out.ModID = mod.ModID
	}
	return out
}
