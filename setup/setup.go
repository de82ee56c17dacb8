// Package setup installs the toolchain a transformation needs: the
// transformer, the loader libraries and the game files produced by the
// loader's runtime tool.
package setup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"compat-probe/cache"
	"compat-probe/flight"
	"compat-probe/transform"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// ErrUnsupportedGameVersion is returned for game versions that are not configured.
var ErrUnsupportedGameVersion = errors.New("unsupported game version")

// Downloader fetches a file to a local path. *modrinth.Client implements it.
type Downloader interface {
	DownloadFile(ctx context.Context, downloadURL, destinationPath string) error
}

// ResolvedLibrary is a downloaded library jar.
type ResolvedLibrary struct {
	Path    string
	Version string
}

// LibraryUpdate reports the outcome of re-resolving one library.
type LibraryUpdate struct {
	Library     string `json:"library"`
	GameVersion string `json:"game_version"`
	Previous    string `json:"previous"`
	Current     string `json:"current"`
}

// Upgraded reports whether the library changed version.
func (u LibraryUpdate) Upgraded() bool { return u.Previous != u.Current }

type Options struct {
	BaseDir        string
	GameVersions   []string
	RuntimeVersion string // Pinned runtime tool version, newest when empty
	UseLocalCache  bool
	JavaPath       string
	Timeout        time.Duration
	UserAgent      string
	Verbose        bool
	// Repository replaces the maven repository of every library when set.
	Repository string
}

type Service struct {
	opts       Options
	cache      cache.Store
	downloader Downloader
	http       *http.Client
	log        *zap.SugaredLogger
	installs   *flight.Group[string, transform.GameFiles]
}

var _ transform.Toolchain = (*Service)(nil)

func NewService(opts Options, store cache.Store, downloader Downloader, log *zap.SugaredLogger) *Service {
	if opts.JavaPath == "" {
		opts.JavaPath = "java"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Minute
	}
	return &Service{
		opts:       opts,
		cache:      store,
		downloader: downloader,
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        log,
		installs:   flight.New[string, transform.GameFiles](nil),
	}
}

func (s *Service) GameVersions() []string {
	return slices.Clone(s.opts.GameVersions)
}

func (s *Service) HasGameVersion(gameVersion string) bool {
	return slices.Contains(s.opts.GameVersions, gameVersion)
}

func (s *Service) validateGameVersion(gameVersion string) error {
	if !s.HasGameVersion(gameVersion) {
		return fmt.Errorf("%w: %s", ErrUnsupportedGameVersion, gameVersion)
	}
	return nil
}

func libraryKey(l Library, gameVersion string) string {
	return "probe:library:" + l.Name + ":game:" + gameVersion
}

// library returns the library jar for gameVersion. The chosen version is
// cached; pinned overrides the lookup.
func (s *Service) library(ctx context.Context, l Library, gameVersion, pinned string) (*ResolvedLibrary, error) {
	if s.opts.Repository != "" {
		l.Repository = s.opts.Repository
	}
	version := pinned
	if version == "" {
		key := libraryKey(l, gameVersion)
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warnw("Library cache lookup failed", zap.String("library", l.Name), zap.Error(err))
		}
		if ok {
			version = cached
		} else {
			versions, err := fetchVersions(ctx, s.http, s.opts.UserAgent, l)
			if err != nil {
				return nil, err
			}
			picked, found := selectVersion(l, gameVersion, versions)
			if !found {
				return nil, fmt.Errorf("could not find a version of '%s' for %s", l.Name, gameVersion)
			}
			version = picked
			if err := s.cache.Set(ctx, key, version); err != nil {
				s.log.Warnw("Failed to cache library version", zap.String("library", l.Name), zap.Error(err))
			}
		}
	}

	mavenPath := l.MavenPath(version)
	dest := filepath.Join(s.opts.BaseDir, "maven", filepath.FromSlash(mavenPath))
	if err := s.downloader.DownloadFile(ctx, l.Repository+"/"+mavenPath, dest); err != nil {
		return nil, fmt.Errorf("failed to download library %s: %w", l.Name, err)
	}
	return &ResolvedLibrary{Path: dest, Version: version}, nil
}

// TransformerLibrary returns the transformer jar; its version is the
// toolchain version of a test environment.
func (s *Service) TransformerLibrary(ctx context.Context, gameVersion string) (*ResolvedLibrary, error) {
	if err := s.validateGameVersion(gameVersion); err != nil {
		return nil, err
	}
	return s.library(ctx, TransformerLibrary, gameVersion, "")
}

func (s *Service) TransformerPath(ctx context.Context, gameVersion string) (string, error) {
	lib, err := s.TransformerLibrary(ctx, gameVersion)
	if err != nil {
		return "", err
	}
	return lib.Path, nil
}

// LoaderVersion returns the loader version the game files are built with.
func (s *Service) LoaderVersion(ctx context.Context, gameVersion string) (string, error) {
	if err := s.validateGameVersion(gameVersion); err != nil {
		return "", err
	}
	lib, err := s.library(ctx, LoaderLibrary, gameVersion, "")
	if err != nil {
		return "", err
	}
	return lib.Version, nil
}

// GameFiles installs the game files for gameVersion if needed.
func (s *Service) GameFiles(ctx context.Context, gameVersion string) (*transform.GameFiles, error) {
	if err := s.validateGameVersion(gameVersion); err != nil {
		return nil, err
	}
	files, err := s.installs.Do(ctx, gameVersion, func(ctx context.Context) (transform.GameFiles, error) {
		return s.installGameFiles(ctx, gameVersion)
	})
	if err != nil {
		return nil, err
	}
	return &files, nil
}

// InstallDependencies installs the game files of every configured game version.
func (s *Service) InstallDependencies(ctx context.Context) error {
	for _, gv := range s.opts.GameVersions {
		s.log.Infow("Installing game files", zap.String("game_version", gv))
		if _, err := s.GameFiles(ctx, gv); err != nil {
			return fmt.Errorf("install game files for %s: %w", gv, err)
		}
	}
	return nil
}

// UpdateLibraries drops the cached library versions, resolves them again and
// reinstalls the game files.
func (s *Service) UpdateLibraries(ctx context.Context) ([]LibraryUpdate, error) {
	s.log.Info("Updating libraries")

	var updates []LibraryUpdate
	for _, gv := range s.opts.GameVersions {
		for _, l := range Libraries {
			key := libraryKey(l, gv)
			previous, _, err := s.cache.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if l.Name == RuntimeLibrary.Name && s.opts.RuntimeVersion != "" {
				previous = s.opts.RuntimeVersion
			}
			if err := s.cache.Delete(ctx, key); err != nil {
				return nil, err
			}
			updates = append(updates, LibraryUpdate{Library: l.Name, GameVersion: gv, Previous: previous})
		}
	}

	if err := s.InstallDependencies(ctx); err != nil {
		return nil, err
	}

	for i, u := range updates {
		current, _, err := s.cache.Get(ctx, libraryKey(Library{Name: u.Library}, u.GameVersion))
		if err != nil {
			return nil, err
		}
		if current == "" && u.Library == RuntimeLibrary.Name {
			current = s.opts.RuntimeVersion
		}
		updates[i].Current = current

		switch {
		case u.Previous == "":
			s.log.Infow("Installed library", zap.String("library", u.Library), zap.String("game_version", u.GameVersion), zap.String("version", current))
		case u.Previous == current:
			s.log.Infow("Library already up to date", zap.String("library", u.Library), zap.String("game_version", u.GameVersion), zap.String("version", current))
		default:
			s.log.Infow("Upgraded library", zap.String("library", u.Library), zap.String("game_version", u.GameVersion),
				zap.String("from", u.Previous), zap.String("to", current))
		}
	}
	return updates, nil
}

func (s *Service) installGameFiles(ctx context.Context, gameVersion string) (transform.GameFiles, error) {
	outputDir := filepath.Join(s.opts.BaseDir, "neoforge", gameVersion)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return transform.GameFiles{}, err
	}
	clean := filepath.Join(outputDir, "clean.jar")
	compiled := filepath.Join(outputDir, "compiled.jar")
	marker := filepath.Join(outputDir, "loader.version")

	loader, err := s.library(ctx, LoaderLibrary, gameVersion, "")
	if err != nil {
		return transform.GameFiles{}, err
	}

	if !isInstalled(marker, loader.Version, clean, compiled) {
		if err := s.runRuntime(ctx, gameVersion, loader.Version, outputDir, clean, compiled); err != nil {
			return transform.GameFiles{}, err
		}
		if err := os.WriteFile(marker, []byte(loader.Version), 0644); err != nil {
			return transform.GameFiles{}, err
		}
	}

	// Make sure the transformer is present before the first transformation
	if _, err := s.library(ctx, TransformerLibrary, gameVersion, ""); err != nil {
		return transform.GameFiles{}, err
	}

	return transform.GameFiles{CleanFile: clean, LoaderFiles: []string{loader.Path, compiled}}, nil
}

func isInstalled(marker, version string, files ...string) bool {
	data, err := os.ReadFile(marker)
	if err != nil || strings.TrimSpace(string(data)) != version {
		return false
	}
	for _, f := range files {
		if info, err := os.Stat(f); err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

func (s *Service) runRuntime(ctx context.Context, gameVersion, loaderVersion, outputDir, clean, compiled string) error {
	runtime, err := s.library(ctx, RuntimeLibrary, gameVersion, s.opts.RuntimeVersion)
	if err != nil {
		return err
	}

	workDir := filepath.Join(s.opts.BaseDir, ".temp")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return err
	}

	args := []string{
		"-jar", runtime.Path,
		"run", "--neoforge", "net.neoforged:neoforge:" + loaderVersion + ":userdev", "--dist", "joined",
		"--write-result=compiled:" + filepath.Base(compiled),
		"--write-result=vanillaDeobfuscated:" + filepath.Base(clean),
		"--work-dir", workDir,
	}
	if s.opts.UseLocalCache {
		home := filepath.Join(s.opts.BaseDir, ".neoformruntime")
		if err := os.MkdirAll(home, 0755); err != nil {
			return err
		}
		args = append(args, "--home-dir", home)
	}
	if s.opts.Verbose {
		args = append(args, "--verbose")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.opts.JavaPath, args...)
	cmd.Dir = outputDir
	processLog := &zapio.Writer{Log: s.log.Desugar().With(zap.String("process", "runtime")), Level: zap.DebugLevel}
	defer processLog.Close()
	cmd.Stdout = processLog
	cmd.Stderr = processLog
	cmd.WaitDelay = 10 * time.Second

	s.log.Infow("Running game file setup", zap.String("game_version", gameVersion), zap.String("loader", loaderVersion))
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("game file setup for %s timed out after %s", gameVersion, s.opts.Timeout)
		}
		return fmt.Errorf("game file setup for %s failed: %w", gameVersion, err)
	}
	for _, f := range []string{clean, compiled} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("game file setup for %s did not produce %s", gameVersion, filepath.Base(f))
		}
	}
	return nil
}
