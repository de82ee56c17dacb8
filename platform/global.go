package platform

import (
	"context"
	"fmt"
)

// Global routes platform-scoped calls to the resolver of that platform.
type Global struct {
	resolvers map[Platform]Resolver
}

func NewGlobal(resolvers map[Platform]Resolver) *Global {
	return &Global{resolvers: resolvers}
}

func (g *Global) resolver(p Platform) (Resolver, error) {
	r, ok := g.resolvers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
	return r, nil
}

// Supports reports whether a resolver is registered for p.
func (g *Global) Supports(p Platform) bool {
	_, ok := g.resolvers[p]
	return ok
}

func (g *Global) GetProject(ctx context.Context, p Platform, slugOrID string) (*Project, error) {
	r, err := g.resolver(p)
	if err != nil {
		return nil, err
	}
	return r.GetProject(ctx, slugOrID)
}

func (g *Global) IsNeoForgeAvailable(ctx context.Context, project *Project, gameVersion string) (bool, error) {
	r, err := g.resolver(project.Platform)
	if err != nil {
		return false, err
	}
	return r.IsNeoForgeAvailable(ctx, project, gameVersion)
}

func (g *Global) GetVersion(ctx context.Context, project *Project, versionID string) (*ProjectVersion, error) {
	r, err := g.resolver(project.Platform)
	if err != nil {
		return nil, err
	}
	return r.GetVersion(ctx, project.ID, versionID)
}

func (g *Global) GetResolvedVersion(ctx context.Context, project *Project, versionID string) (*ResolvedVersion, error) {
	r, err := g.resolver(project.Platform)
	if err != nil {
		return nil, err
	}
	return r.GetResolvedVersion(ctx, project.ID, versionID)
}

func (g *Global) ResolveProject(ctx context.Context, project *Project, gameVersion string) (*ResolvedProject, error) {
	r, err := g.resolver(project.Platform)
	if err != nil {
		return nil, err
	}
	return r.ResolveProject(ctx, project, gameVersion)
}

func (g *Global) ResolveProjectPrioritized(ctx context.Context, project *Project, gameVersions []string, fallbackLoader bool) (*ResolvedProject, error) {
	r, err := g.resolver(project.Platform)
	if err != nil {
		return nil, err
	}
	return r.ResolveProjectPrioritized(ctx, project, gameVersions, fallbackLoader)
}

func (g *Global) ResolveProjectVersion(ctx context.Context, p Platform, projectID, gameVersion, loader string) (*ResolvedVersion, error) {
	r, err := g.resolver(p)
	if err != nil {
		return nil, err
	}
	return r.ResolveProjectVersion(ctx, projectID, gameVersion, loader)
}

func (g *Global) Search(ctx context.Context, p Platform, q SearchQuery) ([]SearchResult, error) {
	r, err := g.resolver(p)
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, q)
}
