// Package transform runs the external transformer against a resolved project
// and its dependencies.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"compat-probe/metrics"
	"compat-probe/platform"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

const outputFileName = "output.json"

var (
	// ErrTransformerTimeout is returned when the transformer exceeds its time limit.
	ErrTransformerTimeout = errors.New("transformer timed out")
	// ErrInvalidOutput is returned when output.json is missing or malformed.
	ErrInvalidOutput = errors.New("invalid transformer output")
)

// ProcessError is returned when the transformer exits with a non-zero status.
type ProcessError struct {
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("transformer exited with code %d: %v", e.ExitCode, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// GameFiles are the game artifacts a transformation runs against: the clean
// baseline jar and the loader's compile classpath.
type GameFiles struct {
	CleanFile   string
	LoaderFiles []string
}

// Toolchain provides the installed game files and transformer per game version.
type Toolchain interface {
	GameFiles(ctx context.Context, gameVersion string) (*GameFiles, error)
	TransformerPath(ctx context.Context, gameVersion string) (string, error)
}

// LibraryResolver resolves a single project version without dependencies.
// *platform.Global implements it.
type LibraryResolver interface {
	ResolveProjectVersion(ctx context.Context, p platform.Platform, projectID, gameVersion, loader string) (*platform.ResolvedVersion, error)
}

// Result is the verdict of one transformer run.
type Result struct {
	ProjectID            string   `json:"project_id"`
	VersionID            string   `json:"version_id"`
	DependencyProjectIDs []string `json:"dependency_project_ids"`
	Success              bool     `json:"success"`
	PrimaryModID         string   `json:"primary_mod_id"`
}

type output struct {
	Success      bool   `json:"success"`
	PrimaryModID string `json:"primaryModid"`
}

type Service struct {
	storagePath string
	libraries   LibraryResolver
	toolchain   Toolchain
	javaPath    string
	timeout     time.Duration
	log         *zap.SugaredLogger
}

// NewService creates a Service. storagePath is the root that resolved
// artifact paths are relative to.
func NewService(storagePath string, libraries LibraryResolver, toolchain Toolchain, javaPath string, timeout time.Duration, log *zap.SugaredLogger) *Service {
	return &Service{
		storagePath: storagePath,
		libraries:   libraries,
		toolchain:   toolchain,
		javaPath:    javaPath,
		timeout:     timeout,
		log:         log,
	}
}

// RunTransformation transforms the project together with every dependency
// in its tree.
func (s *Service) RunTransformation(ctx context.Context, project *platform.ResolvedProject, gameVersion string) (*Result, error) {
	deps := project.Flatten()
	sources := make([]string, 0, len(deps)+1)
	sources = append(sources, project.Version.FilePath(s.storagePath))
	depIDs := make([]string, 0, len(deps))
	for _, d := range deps {
		sources = append(sources, d.FilePath(s.storagePath))
		depIDs = append(depIDs, d.ProjectID)
	}

	gameFiles, err := s.toolchain.GameFiles(ctx, gameVersion)
	if err != nil {
		return nil, fmt.Errorf("game files for %s: %w", gameVersion, err)
	}
	transformer, err := s.toolchain.TransformerPath(ctx, gameVersion)
	if err != nil {
		return nil, fmt.Errorf("transformer for %s: %w", gameVersion, err)
	}
	mandated, err := s.mandatedLibraries(ctx, gameVersion)
	if err != nil {
		return nil, err
	}
	classpath := append(append([]string{}, gameFiles.LoaderFiles...), mandated...)

	workDir := filepath.Join(filepath.Dir(project.Version.FilePath(s.storagePath)), "output-"+uuid.NewString())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			s.log.Warnw("Failed to remove work dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	start := time.Now()
	out, err := s.runTransformer(ctx, transformer, workDir, sources, gameFiles.CleanFile, classpath, gameVersion)
	metrics.TransformationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TransformationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if out.Success {
		metrics.TransformationsTotal.WithLabelValues("passed").Inc()
	} else {
		metrics.TransformationsTotal.WithLabelValues("failed").Inc()
	}

	return &Result{
		ProjectID:            project.Version.ProjectID,
		VersionID:            project.Version.VersionID,
		DependencyProjectIDs: depIDs,
		Success:              out.Success,
		PrimaryModID:         out.PrimaryModID,
	}, nil
}

func (s *Service) mandatedLibraries(ctx context.Context, gameVersion string) ([]string, error) {
	ffapi, err := s.libraries.ResolveProjectVersion(ctx, platform.Modrinth, platform.ForgifiedFabricAPIID, gameVersion, platform.LoaderNeoForge)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve required library %s: %w", platform.ForgifiedFabricAPIID, err)
	}
	return []string{ffapi.FilePath(s.storagePath)}, nil
}

// buildArgs returns the transformer command line after the java executable.
func buildArgs(transformer, workDir string, sources []string, cleanFile string, classpath []string, gameVersion string) []string {
	args := []string{
		"--add-opens", "java.base/java.lang.invoke=ALL-UNNAMED",
		"-jar", transformer,
		"--clean", cleanFile,
		"--game-version", gameVersion,
		"--work-dir", workDir,
	}
	for _, src := range sources {
		args = append(args, "--source", src)
	}
	for _, cp := range classpath {
		args = append(args, "--classpath", cp)
	}
	return args
}

func (s *Service) runTransformer(ctx context.Context, transformer, workDir string, sources []string, cleanFile string, classpath []string, gameVersion string) (*output, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	absolute := func(paths []string) []string {
		out := make([]string, len(paths))
		for i, p := range paths {
			out[i] = absPath(p)
		}
		return out
	}

	cmd := exec.CommandContext(ctx, s.javaPath, buildArgs(
		absPath(transformer), absPath(workDir), absolute(sources), absPath(cleanFile), absolute(classpath), gameVersion)...)
	cmd.Dir = workDir
	processLog := &zapio.Writer{Log: s.log.Desugar().With(zap.String("process", "transformer")), Level: zap.DebugLevel}
	defer processLog.Close()
	cmd.Stdout = processLog
	cmd.Stderr = processLog
	cmd.WaitDelay = 10 * time.Second

	s.log.Infow("Launching transformer", zap.Int("sources", len(sources)), zap.String("game_version", gameVersion))
	err := cmd.Run()
	s.log.Infow("Finished transformer", zap.Error(err))

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTransformerTimeout, s.timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ProcessError{ExitCode: exitErr.ExitCode(), Err: err}
		}
		return nil, fmt.Errorf("failed to run transformer: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(workDir, outputFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	var out output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return &out, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
