package platform

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"compat-probe/modrinth"
)

// fakeRegistry serves projects and versions from memory and counts calls.
type fakeRegistry struct {
	mu            sync.Mutex
	projects      []modrinth.Project
	versions      []modrinth.Version
	calls         map[string]int
	downloadDelay time.Duration
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{calls: make(map[string]int)}
}

func (f *fakeRegistry) addProject(id, slug string) {
	f.projects = append(f.projects, modrinth.Project{ID: id, Slug: slug, Title: slug})
}

func (f *fakeRegistry) addVersion(projectID, versionID, loader string, gameVersions []string, deps ...string) {
	v := modrinth.Version{
		ID:            versionID,
		ProjectID:     projectID,
		VersionNumber: "1.0.0+" + versionID,
		GameVersions:  gameVersions,
		Loaders:       []string{loader},
		Files:         []modrinth.File{{Filename: versionID + ".jar", URL: "https://cdn.example/" + versionID + ".jar", Primary: true}},
	}
	for _, d := range deps {
		v.Dependencies = append(v.Dependencies, modrinth.Dependency{ProjectID: d, DependencyType: modrinth.DependencyRequired})
	}
	f.versions = append(f.versions, v)
}

func (f *fakeRegistry) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRegistry) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeRegistry) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeRegistry) GetProject(_ context.Context, idOrSlug string) (*modrinth.Project, error) {
	f.record("project")
	for _, p := range f.projects {
		if p.ID == idOrSlug || p.Slug == idOrSlug {
			return &p, nil
		}
	}
	return nil, modrinth.ErrNotFound
}

func (f *fakeRegistry) GetVersion(_ context.Context, versionID string) (*modrinth.Version, error) {
	f.record("version")
	for _, v := range f.versions {
		if v.ID == versionID {
			return &v, nil
		}
	}
	return nil, modrinth.ErrNotFound
}

func (f *fakeRegistry) GetProjectVersions(_ context.Context, projectID string, loaders, gameVersions []string) ([]modrinth.Version, error) {
	f.record("project_versions")
	found := false
	var out []modrinth.Version
	for _, p := range f.projects {
		found = found || p.ID == projectID
	}
	if !found {
		return nil, modrinth.ErrNotFound
	}
	for _, v := range f.versions {
		if v.ProjectID != projectID || !slices.Contains(v.Loaders, loaders[0]) {
			continue
		}
		if slices.ContainsFunc(v.GameVersions, func(gv string) bool { return slices.Contains(gameVersions, gv) }) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeRegistry) Search(_ context.Context, p modrinth.SearchParams) (*modrinth.SearchResults, error) {
	f.record("search")
	res := &modrinth.SearchResults{}
	for _, proj := range f.projects {
		res.Hits = append(res.Hits, modrinth.SearchHit{ProjectID: proj.ID, Slug: proj.Slug, Title: proj.Title})
	}
	return res, nil
}

func (f *fakeRegistry) DownloadFile(_ context.Context, downloadURL, destinationPath string) error {
	if info, err := os.Stat(destinationPath); err == nil && info.Mode().IsRegular() {
		return nil
	}
	f.record("download")
	if f.downloadDelay > 0 {
		time.Sleep(f.downloadDelay)
	}
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(destinationPath, []byte(downloadURL), 0644)
}
