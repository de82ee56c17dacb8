package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"compat-probe/cache"
	"compat-probe/flight"
	"compat-probe/metrics"
	"compat-probe/modrinth"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// FabricAPIID is never resolved as a dependency; the host environment
	// ships its own implementation.
	FabricAPIID = "P7dR8mSH"
	// ForgifiedFabricAPIID is the library every transformation runs with.
	ForgifiedFabricAPIID = "Aqlf1Shp"

	projectIDLength = 8
)

// Registry is the subset of the Modrinth API the resolver uses.
type Registry interface {
	GetProject(ctx context.Context, idOrSlug string) (*modrinth.Project, error)
	GetVersion(ctx context.Context, versionID string) (*modrinth.Version, error)
	GetProjectVersions(ctx context.Context, projectID string, loaders, gameVersions []string) ([]modrinth.Version, error)
	Search(ctx context.Context, p modrinth.SearchParams) (*modrinth.SearchResults, error)
	DownloadFile(ctx context.Context, downloadURL, destinationPath string) error
}

// ModrinthPlatform resolves Modrinth projects. Lookups go through the cache
// first; artifacts are stored below storagePath.
type ModrinthPlatform struct {
	storagePath string
	cache       cache.Store
	api         Registry
	log         *zap.SugaredLogger
	versions    *flight.Group[string, ResolvedVersion]
}

func NewModrinthPlatform(storagePath string, store cache.Store, api Registry, log *zap.SugaredLogger) *ModrinthPlatform {
	return &ModrinthPlatform{
		storagePath: storagePath,
		cache:       store,
		api:         api,
		log:         log,
		versions:    flight.New[string, ResolvedVersion](nil),
	}
}

var _ Resolver = (*ModrinthPlatform)(nil)

func slugKey(slug string) string  { return "modrinth:slug:" + slug }
func projectKey(id string) string { return "modrinth:project:" + id }
func versionKey(id string) string { return "modrinth:version:" + id }
func neoForgeKey(id, gameVersion string) string {
	return "modrinth:project:" + id + ":neoforge:" + gameVersion
}
// resolutionKey covers the whole ordered game version list, so a prioritized
// resolution never answers a lookup for a single game version.
func resolutionKey(id string, gameVersions, loaders []string) string {
	return "modrinth:project:" + id + ":game:" + strings.Join(gameVersions, ",") + ":loader:" + strings.Join(loaders, ",")
}

func validateProjectID(id string) error {
	if len(id) != projectIDLength {
		return fmt.Errorf("%w: %q", ErrInvalidProjectID, id)
	}
	return nil
}

// StoragePath is the root that ResolvedVersion paths are relative to.
func (m *ModrinthPlatform) StoragePath() string { return m.storagePath }

func (m *ModrinthPlatform) GetProject(ctx context.Context, slugOrID string) (*Project, error) {
	// The argument may already be an id
	if p, ok := m.cachedProject(ctx, slugOrID); ok {
		return p, nil
	}
	if id, ok, err := m.cache.Get(ctx, slugKey(slugOrID)); err == nil && ok {
		if p, ok := m.cachedProject(ctx, id); ok {
			return p, nil
		}
	}

	mp, err := m.api.GetProject(ctx, slugOrID)
	if errors.Is(err, modrinth.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slugOrID)
	}
	if err != nil {
		return nil, err
	}

	project := toProject(mp.ID, mp.Slug, mp.Title, mp.IconURL)
	m.storeProject(ctx, project, false)
	if slugOrID != project.ID && slugOrID != project.Slug {
		m.setCache(ctx, slugKey(slugOrID), project.ID)
	}
	return project, nil
}

func toProject(id, slug, name, iconURL string) *Project {
	return &Project{
		ID:       id,
		Slug:     slug,
		Name:     name,
		IconURL:  iconURL,
		URL:      "https://modrinth.com/mod/" + slug,
		Platform: Modrinth,
	}
}

func (m *ModrinthPlatform) cachedProject(ctx context.Context, id string) (*Project, bool) {
	p, ok, err := cache.GetObject[Project](ctx, m.cache, projectKey(id))
	if err != nil {
		m.log.Warnw("Project cache lookup failed", zap.String("id", id), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &p, true
}

// storeProject writes both project indices. With onlyMissing, existing
// entries are left untouched.
func (m *ModrinthPlatform) storeProject(ctx context.Context, p *Project, onlyMissing bool) {
	sk, pk := slugKey(p.Slug), projectKey(p.ID)
	if !onlyMissing || !m.exists(ctx, sk) {
		m.setCache(ctx, sk, p.ID)
	}
	if !onlyMissing || !m.exists(ctx, pk) {
		if err := cache.SetObject(ctx, m.cache, pk, p); err != nil {
			m.log.Warnw("Failed to cache project", zap.String("id", p.ID), zap.Error(err))
		}
	}
}

func (m *ModrinthPlatform) exists(ctx context.Context, key string) bool {
	ok, err := m.cache.Exists(ctx, key)
	return err == nil && ok
}

func (m *ModrinthPlatform) setCache(ctx context.Context, key, value string) {
	if err := m.cache.Set(ctx, key, value); err != nil {
		m.log.Warnw("Failed to write cache entry", zap.String("key", key), zap.Error(err))
	}
}

// getCachedVersion returns the raw registry version, fetching it once.
func (m *ModrinthPlatform) getCachedVersion(ctx context.Context, versionID string) (*modrinth.Version, error) {
	key := versionKey(versionID)
	if v, ok, err := cache.GetObject[modrinth.Version](ctx, m.cache, key); err == nil && ok {
		return &v, nil
	}

	m.log.Infow("Fetching version", zap.String("version", versionID))
	v, err := m.api.GetVersion(ctx, versionID)
	if errors.Is(err, modrinth.ErrNotFound) {
		return nil, fmt.Errorf("%w: version %s", ErrNotFound, versionID)
	}
	if err != nil {
		return nil, err
	}
	if err := cache.SetObject(ctx, m.cache, key, v); err != nil {
		m.log.Warnw("Failed to cache version", zap.String("version", versionID), zap.Error(err))
	}
	return v, nil
}

func (m *ModrinthPlatform) GetVersion(ctx context.Context, projectID, versionID string) (*ProjectVersion, error) {
	v, err := m.getCachedVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("version %s of %s: %w", versionID, projectID, err)
	}
	deps, err := m.requiredDependencies(ctx, v)
	if err != nil {
		return nil, err
	}
	return &ProjectVersion{
		ProjectID:     v.ProjectID,
		VersionID:     v.ID,
		VersionNumber: v.VersionNumber,
		Dependencies:  deps,
	}, nil
}

func (m *ModrinthPlatform) GetResolvedVersion(ctx context.Context, projectID, versionID string) (*ResolvedVersion, error) {
	v, err := m.getCachedVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("version %s of %s: %w", versionID, projectID, err)
	}
	return m.downloadVersionFile(ctx, v)
}

func (m *ModrinthPlatform) IsNeoForgeAvailable(ctx context.Context, project *Project, gameVersion string) (bool, error) {
	key := neoForgeKey(project.ID, gameVersion)
	if raw, ok, err := m.cache.Get(ctx, key); err == nil && ok {
		if available, err := strconv.ParseBool(raw); err == nil {
			return available, nil
		}
	}

	versions, err := m.api.GetProjectVersions(ctx, project.ID, []string{LoaderNeoForge}, []string{gameVersion})
	if err != nil && !errors.Is(err, modrinth.ErrNotFound) {
		return false, err
	}
	available := selectCandidate(versions, []string{gameVersion}) != nil
	m.setCache(ctx, key, strconv.FormatBool(available))
	return available, nil
}

func (m *ModrinthPlatform) ResolveProject(ctx context.Context, project *Project, gameVersion string) (*ResolvedProject, error) {
	return m.ResolveProjectPrioritized(ctx, project, []string{gameVersion}, false)
}

func (m *ModrinthPlatform) ResolveProjectPrioritized(ctx context.Context, project *Project, gameVersions []string, fallbackLoader bool) (*ResolvedProject, error) {
	if len(gameVersions) == 0 {
		return nil, fmt.Errorf("%w: no game versions given", ErrNoCompatibleVersion)
	}
	start := time.Now()
	defer func() { metrics.ResolutionDuration.Observe(time.Since(start).Seconds()) }()

	return m.resolveTree(ctx, project.ID, gameVersions, fallbackLoader, nil)
}

func (m *ModrinthPlatform) ResolveProjectVersion(ctx context.Context, projectID, gameVersion, loader string) (*ResolvedVersion, error) {
	return m.getOrComputeVersion(ctx, projectID, []string{gameVersion}, loader, false)
}

func (m *ModrinthPlatform) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	res, err := m.api.Search(ctx, modrinth.SearchParams{
		Loader:        q.Loader,
		ExcludeLoader: q.ExcludeLoader,
		GameVersion:   q.GameVersion,
		Limit:         q.Limit,
		Offset:        q.Offset,
	})
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		m.storeProject(ctx, toProject(hit.ProjectID, hit.Slug, hit.Title, hit.IconURL), true)
		out = append(out, SearchResult{
			ProjectID: hit.ProjectID,
			Name:      hit.Title,
			IconURL:   hit.IconURL,
			Slug:      hit.Slug,
			VersionID: hit.LatestVersion,
		})
	}
	return out, nil
}

// resolveTree resolves projectID and, concurrently, its required
// dependencies. ancestors holds the project ids on the path from the root;
// a dependency already on that path is skipped.
func (m *ModrinthPlatform) resolveTree(ctx context.Context, projectID string, allowed []string, fallbackLoader bool, ancestors map[string]bool) (*ResolvedProject, error) {
	ver, err := m.getOrComputeVersion(ctx, projectID, allowed, LoaderFabric, fallbackLoader)
	if err != nil {
		return nil, err
	}

	branch := make(map[string]bool, len(ancestors)+1)
	for id := range ancestors {
		branch[id] = true
	}
	branch[projectID] = true

	children := make([]*ResolvedProject, len(ver.Dependencies))
	g, gctx := errgroup.WithContext(ctx)
	for i, dep := range ver.Dependencies {
		if branch[dep] {
			m.log.Warnw("Skipping cyclic dependency", zap.String("project", projectID), zap.String("dependency", dep))
			continue
		}
		g.Go(func() error {
			child, err := m.resolveTree(gctx, dep, allowed, true, branch)
			if err != nil {
				var unresolved *UnresolvedDependencyError
				if errors.As(err, &unresolved) {
					return err
				}
				return &UnresolvedDependencyError{ProjectID: projectID, DependencyID: dep, Err: err}
			}
			children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ResolvedProject{
		Version:      *ver,
		Dependencies: slices.DeleteFunc(children, func(c *ResolvedProject) bool { return c == nil }),
	}, nil
}

// loaderOrder lists the loaders to try, most preferred first.
func loaderOrder(loader string, fallbackLoader bool) []string {
	if fallbackLoader && loader != LoaderNeoForge {
		return []string{LoaderNeoForge, loader}
	}
	if fallbackLoader {
		return []string{LoaderNeoForge}
	}
	return []string{loader}
}

// getOrComputeVersion returns the cached resolution for the project or
// resolves it over the network. A cached entry whose artifact has vanished
// is dropped and resolved again. Concurrent callers for the same key share
// one lookup and download.
func (m *ModrinthPlatform) getOrComputeVersion(ctx context.Context, projectID string, allowed []string, loader string, fallbackLoader bool) (*ResolvedVersion, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}
	loaders := loaderOrder(loader, fallbackLoader)
	key := resolutionKey(projectID, allowed, loaders)

	if v, ok := m.cachedResolution(ctx, key); ok {
		return v, nil
	}

	v, err := m.versions.Do(ctx, key, func(ctx context.Context) (ResolvedVersion, error) {
		if v, ok := m.cachedResolution(ctx, key); ok {
			return *v, nil
		}
		res, err := m.computeVersion(ctx, projectID, allowed, loaders)
		if err != nil {
			return ResolvedVersion{}, err
		}
		if err := cache.SetObject(ctx, m.cache, key, res); err != nil {
			m.log.Warnw("Failed to cache resolved version", zap.String("key", key), zap.Error(err))
		}
		return *res, nil
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (m *ModrinthPlatform) cachedResolution(ctx context.Context, key string) (*ResolvedVersion, bool) {
	v, ok, err := cache.GetObject[ResolvedVersion](ctx, m.cache, key)
	if err != nil {
		m.log.Warnw("Resolution cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	if info, err := os.Stat(v.FilePath(m.storagePath)); err != nil || !info.Mode().IsRegular() {
		m.log.Infow("Cached artifact is missing, resolving again", zap.String("key", key), zap.String("path", v.Path))
		if err := m.cache.Delete(ctx, key); err != nil {
			m.log.Warnw("Failed to drop stale cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return &v, true
}

func (m *ModrinthPlatform) computeVersion(ctx context.Context, projectID string, allowed, loaders []string) (*ResolvedVersion, error) {
	m.log.Infow("Fetching version for project", zap.String("project", projectID), zap.Strings("loaders", loaders))

	var candidate *modrinth.Version
	for _, loader := range loaders {
		versions, err := m.api.GetProjectVersions(ctx, projectID, []string{loader}, allowed)
		if errors.Is(err, modrinth.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, projectID)
		}
		if err != nil {
			return nil, err
		}
		if candidate = selectCandidate(versions, allowed); candidate != nil {
			break
		}
	}
	if candidate == nil {
		return nil, fmt.Errorf("%w: project %s for %v", ErrNoCompatibleVersion, projectID, allowed)
	}

	res, err := m.downloadVersionFile(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if err := cache.SetObject(ctx, m.cache, versionKey(candidate.ID), candidate); err != nil {
		m.log.Warnw("Failed to cache version", zap.String("version", candidate.ID), zap.Error(err))
	}
	return res, nil
}

// selectCandidate picks the version supporting the earliest entry of
// allowed. Game versions outside allowed are ignored; ties keep registry
// order. It returns nil if nothing matches.
func selectCandidate(versions []modrinth.Version, allowed []string) *modrinth.Version {
	best, bestRank := -1, len(allowed)
	for i, v := range versions {
		for _, gv := range v.GameVersions {
			if rank := slices.Index(allowed, gv); rank >= 0 && rank < bestRank {
				best, bestRank = i, rank
			}
		}
	}
	if best < 0 {
		return nil
	}
	return &versions[best]
}

func (m *ModrinthPlatform) downloadVersionFile(ctx context.Context, v *modrinth.Version) (*ResolvedVersion, error) {
	file, ok := v.PrimaryFile()
	if !ok {
		return nil, fmt.Errorf("version %s of %s has no files", v.ID, v.ProjectID)
	}
	project, err := m.GetProject(ctx, v.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("project of version %s: %w", v.ID, err)
	}
	deps, err := m.requiredDependencies(ctx, v)
	if err != nil {
		return nil, err
	}

	rel := filepath.Join(project.Slug+"-"+project.ID, project.Slug+"-"+v.ID+".jar")
	if err := m.api.DownloadFile(ctx, file.URL, filepath.Join(m.storagePath, rel)); err != nil {
		return nil, err
	}

	return &ResolvedVersion{
		ProjectID:     v.ProjectID,
		VersionID:     v.ID,
		VersionNumber: v.VersionNumber,
		Path:          rel,
		Dependencies:  deps,
	}, nil
}

// requiredDependencies lists the required dependency project ids of v.
// Dependencies pinned only by version id are mapped to their project.
func (m *ModrinthPlatform) requiredDependencies(ctx context.Context, v *modrinth.Version) ([]string, error) {
	deps := []string{}
	for _, dep := range v.Dependencies {
		if dep.DependencyType != modrinth.DependencyRequired {
			continue
		}
		id := dep.ProjectID
		if id == "" && dep.VersionID != "" {
			depVersion, err := m.getCachedVersion(ctx, dep.VersionID)
			if err != nil {
				return nil, &UnresolvedDependencyError{ProjectID: v.ProjectID, DependencyID: dep.VersionID, Err: err}
			}
			id = depVersion.ProjectID
		}
		if id == "" || id == FabricAPIID || slices.Contains(deps, id) {
			continue
		}
		deps = append(deps, id)
	}
	return deps, nil
}
