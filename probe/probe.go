// Package probe ties resolution, transformation and persistence together
// into the operations the API and CLI expose.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"compat-probe/cache"
	"compat-probe/metrics"
	"compat-probe/persistence"
	"compat-probe/platform"
	"compat-probe/setup"

	"go.uber.org/zap"
)

// ErrUnsupportedGameVersion is returned for game versions the toolchain is
// not installed for.
var ErrUnsupportedGameVersion = errors.New("unsupported game version")

// Platforms is the registry access the service needs. *platform.Global
// implements it.
type Platforms interface {
	Supports(p platform.Platform) bool
	GetProject(ctx context.Context, p platform.Platform, slugOrID string) (*platform.Project, error)
	IsNeoForgeAvailable(ctx context.Context, project *platform.Project, gameVersion string) (bool, error)
	ResolveProject(ctx context.Context, project *platform.Project, gameVersion string) (*platform.ResolvedProject, error)
	GetVersion(ctx context.Context, project *platform.Project, versionID string) (*platform.ProjectVersion, error)
}

// Toolchain reports and updates the installed libraries. *setup.Service
// implements it.
type Toolchain interface {
	GameVersions() []string
	HasGameVersion(gameVersion string) bool
	TransformerLibrary(ctx context.Context, gameVersion string) (*setup.ResolvedLibrary, error)
	LoaderVersion(ctx context.Context, gameVersion string) (string, error)
	UpdateLibraries(ctx context.Context) ([]setup.LibraryUpdate, error)
}

// Results persists environments and verdicts. *persistence.Service
// implements it.
type Results interface {
	GetOrCreateTestEnvironment(ctx context.Context, toolchainVersion, gameVersion, loaderVersion string) (*persistence.TestEnvironment, error)
	SaveResult(ctx context.Context, project *platform.Project, modID *string, versionID string, passing bool, env *persistence.TestEnvironment) (*persistence.TestResult, error)
}

// Transformer produces the verdict for a resolved project. *runner.Runner
// implements it.
type Transformer interface {
	Transform(ctx context.Context, project *platform.Project, resolved *platform.ResolvedProject, env *persistence.TestEnvironment) (*persistence.TestResult, error)
}

type ResultType string

const (
	ResultTested      ResultType = "tested"
	ResultNative      ResultType = "native"
	ResultUnavailable ResultType = "unavailable"
)

// TestRequest asks for the compatibility of a project with a game version.
type TestRequest struct {
	Platform    string `json:"platform"`
	ID          string `json:"id"`
	GameVersion string `json:"game_version"`
}

type ProjectInfo struct {
	ID       string            `json:"id"`
	Slug     string            `json:"slug"`
	Title    string            `json:"title"`
	IconURL  string            `json:"icon_url,omitempty"`
	URL      string            `json:"url"`
	Platform platform.Platform `json:"platform"`
}

type EnvironmentInfo struct {
	ToolchainVersion string `json:"toolchain_version"`
	GameVersion      string `json:"game_version"`
	LoaderVersion    string `json:"loader_version"`
}

// TestResponse is the answer to a TestRequest. Type selects which of the
// optional fields are set: native and unavailable responses carry Loader and
// GameVersion, tested responses carry the verdict.
type TestResponse struct {
	Type    ResultType  `json:"type"`
	Project ProjectInfo `json:"project"`

	Loader      string `json:"loader,omitempty"`
	GameVersion string `json:"game_version,omitempty"`

	ModID         *string          `json:"modid,omitempty"`
	VersionNumber string           `json:"version_number,omitempty"`
	VersionID     string           `json:"version_id,omitempty"`
	Passing       *bool            `json:"passing,omitempty"`
	Environment   *EnvironmentInfo `json:"environment,omitempty"`
	CreatedAt     *time.Time       `json:"created_at,omitempty"`
}

// Service is the application service. Requests share the live resources
// (installed libraries and game files); UpdateLibraries replaces them and
// waits for every request in progress.
type Service struct {
	platforms   Platforms
	toolchain   Toolchain
	results     Results
	transformer Transformer
	stats       cache.Store
	log         *zap.SugaredLogger

	live sync.RWMutex
}

func NewService(platforms Platforms, toolchain Toolchain, results Results, transformer Transformer, stats cache.Store, log *zap.SugaredLogger) *Service {
	return &Service{
		platforms:   platforms,
		toolchain:   toolchain,
		results:     results,
		transformer: transformer,
		stats:       stats,
		log:         log,
	}
}

// GameVersions lists the game versions mods can be tested against.
func (s *Service) GameVersions() []string {
	return s.toolchain.GameVersions()
}

// TestMod answers whether the requested project works through the
// transformer, running a transformation when no result is known yet.
func (s *Service) TestMod(ctx context.Context, req TestRequest) (*TestResponse, error) {
	p, err := platform.ParsePlatform(req.Platform)
	if err != nil {
		return nil, err
	}
	if !s.platforms.Supports(p) {
		return nil, fmt.Errorf("%w: %s", platform.ErrUnsupportedPlatform, p)
	}
	if !s.toolchain.HasGameVersion(req.GameVersion) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGameVersion, req.GameVersion)
	}

	project, err := s.platforms.GetProject(ctx, p, req.ID)
	if err != nil {
		return nil, err
	}
	s.recordRequest(ctx, project.Slug)
	info := projectInfo(project)

	native, err := s.platforms.IsNeoForgeAvailable(ctx, project, req.GameVersion)
	if err != nil {
		return nil, fmt.Errorf("check native availability of %s: %w", project.ID, err)
	}
	if native {
		metrics.TestRequestsTotal.WithLabelValues(string(ResultNative)).Inc()
		return &TestResponse{Type: ResultNative, Project: info, Loader: platform.LoaderNeoForge, GameVersion: req.GameVersion}, nil
	}

	resolved, err := s.platforms.ResolveProject(ctx, project, req.GameVersion)
	if err != nil {
		var unresolved *platform.UnresolvedDependencyError
		if !errors.As(err, &unresolved) && errors.Is(err, platform.ErrNoCompatibleVersion) {
			metrics.TestRequestsTotal.WithLabelValues(string(ResultUnavailable)).Inc()
			return &TestResponse{Type: ResultUnavailable, Project: info, Loader: platform.LoaderFabric, GameVersion: req.GameVersion}, nil
		}
		return nil, fmt.Errorf("resolve %s: %w", project.ID, err)
	}

	s.live.RLock()
	defer s.live.RUnlock()

	env, err := s.environment(ctx, req.GameVersion)
	if err != nil {
		return nil, err
	}
	result, err := s.transformer.Transform(ctx, project, resolved, env)
	if err != nil {
		return nil, err
	}

	resp := &TestResponse{
		Type:      ResultTested,
		Project:   info,
		ModID:     result.ModID,
		VersionID: result.VersionID,
		Passing:   &result.Passing,
		Environment: &EnvironmentInfo{
			ToolchainVersion: env.ToolchainVersion,
			GameVersion:      env.GameVersion,
			LoaderVersion:    env.LoaderVersion,
		},
		CreatedAt: &result.CreatedAt,
	}
	if version, err := s.platforms.GetVersion(ctx, project, result.VersionID); err != nil {
		s.log.Warnw("Failed to look up tested version", zap.String("version", result.VersionID), zap.Error(err))
	} else {
		resp.VersionNumber = version.VersionNumber
	}
	metrics.TestRequestsTotal.WithLabelValues(string(ResultTested)).Inc()
	return resp, nil
}

func (s *Service) environment(ctx context.Context, gameVersion string) (*persistence.TestEnvironment, error) {
	transformer, err := s.toolchain.TransformerLibrary(ctx, gameVersion)
	if err != nil {
		return nil, fmt.Errorf("transformer library: %w", err)
	}
	loader, err := s.toolchain.LoaderVersion(ctx, gameVersion)
	if err != nil {
		return nil, fmt.Errorf("loader version: %w", err)
	}
	return s.results.GetOrCreateTestEnvironment(ctx, transformer.Version, gameVersion, loader)
}

// UpdateLibraries installs the newest libraries once no request is using
// the current ones.
func (s *Service) UpdateLibraries(ctx context.Context) ([]setup.LibraryUpdate, error) {
	s.live.Lock()
	defer s.live.Unlock()
	return s.toolchain.UpdateLibraries(ctx)
}

func projectInfo(p *platform.Project) ProjectInfo {
	return ProjectInfo{
		ID:       p.ID,
		Slug:     p.Slug,
		Title:    p.Name,
		IconURL:  p.IconURL,
		URL:      p.URL,
		Platform: p.Platform,
	}
}
