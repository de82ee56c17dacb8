// Package platform resolves mod projects hosted on a registry into trees of
// downloaded artifacts.
//
// A Resolver serves one registry. Global routes calls to the resolver that
// owns a project's platform.
package platform

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Platform identifies the registry a project is hosted on.
type Platform string

const (
	Modrinth Platform = "modrinth"
)

// ParsePlatform accepts a platform name in any case.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case Modrinth:
		return Modrinth, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, s)
	}
}

const (
	LoaderFabric   = "fabric"
	LoaderNeoForge = "neoforge"
)

var (
	// ErrNotFound means the registry does not know the project or version.
	ErrNotFound = errors.New("project not found")
	// ErrInvalidProjectID is returned before any cache or network access when
	// an id does not have the registry's id format.
	ErrInvalidProjectID = errors.New("invalid project id")
	// ErrNoCompatibleVersion means no version matches the requested game
	// versions and loaders.
	ErrNoCompatibleVersion = errors.New("no compatible version")
	// ErrUnsupportedPlatform is returned for platforms without a resolver.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// UnresolvedDependencyError reports a required dependency that could not be
// resolved. It fails the whole resolution.
type UnresolvedDependencyError struct {
	ProjectID    string
	DependencyID string
	Err          error
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("failed to resolve dependency %s of project %s: %v", e.DependencyID, e.ProjectID, e.Err)
}

func (e *UnresolvedDependencyError) Unwrap() error { return e.Err }

// Project is a registry project. It does not change once fetched.
type Project struct {
	ID       string   `json:"id"`
	Slug     string   `json:"slug"`
	Name     string   `json:"name"`
	IconURL  string   `json:"icon_url,omitempty"`
	URL      string   `json:"url"`
	Platform Platform `json:"platform"`
}

// ProjectVersion is a version with its required dependency project ids.
type ProjectVersion struct {
	ProjectID     string   `json:"project_id"`
	VersionID     string   `json:"version_id"`
	VersionNumber string   `json:"version_number"`
	Dependencies  []string `json:"dependencies"`
}

// ResolvedVersion is a version whose artifact has been downloaded. Path is
// relative to the resolver's storage root.
type ResolvedVersion struct {
	ProjectID     string   `json:"project_id"`
	VersionID     string   `json:"version_id"`
	VersionNumber string   `json:"version_number"`
	Path          string   `json:"path"`
	Dependencies  []string `json:"dependencies"`
}

// FilePath returns the artifact location under basePath.
func (v ResolvedVersion) FilePath(basePath string) string {
	return filepath.Join(basePath, v.Path)
}

// ResolvedProject is a resolved version and its resolved required dependencies.
type ResolvedProject struct {
	Version      ResolvedVersion    `json:"version"`
	Dependencies []*ResolvedProject `json:"dependencies"`
}

// SearchQuery selects projects for a loader and game version.
type SearchQuery struct {
	Limit         int
	Offset        int
	GameVersion   string
	Loader        string
	ExcludeLoader string
}

type SearchResult struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	IconURL   string `json:"icon_url,omitempty"`
	Slug      string `json:"slug"`
	VersionID string `json:"version_id"`
}

// Resolver resolves projects hosted on a single platform.
type Resolver interface {
	// GetProject looks up a project by id or slug.
	GetProject(ctx context.Context, slugOrID string) (*Project, error)
	// GetVersion returns version metadata without downloading the artifact.
	GetVersion(ctx context.Context, projectID, versionID string) (*ProjectVersion, error)
	GetResolvedVersion(ctx context.Context, projectID, versionID string) (*ResolvedVersion, error)
	// IsNeoForgeAvailable reports whether the project ships a native NeoForge
	// build for gameVersion.
	IsNeoForgeAvailable(ctx context.Context, project *Project, gameVersion string) (bool, error)
	// ResolveProject resolves the project tree for a single game version using
	// the primary loader.
	ResolveProject(ctx context.Context, project *Project, gameVersion string) (*ResolvedProject, error)
	// ResolveProjectPrioritized resolves the project tree for the first
	// matching entry of gameVersions. With fallbackLoader the root prefers a
	// NeoForge build before the primary loader.
	ResolveProjectPrioritized(ctx context.Context, project *Project, gameVersions []string, fallbackLoader bool) (*ResolvedProject, error)
	// ResolveProjectVersion resolves a single project without dependencies.
	ResolveProjectVersion(ctx context.Context, projectID, gameVersion, loader string) (*ResolvedVersion, error)
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
}
