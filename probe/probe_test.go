package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"compat-probe/cache"
	"compat-probe/db"
	"compat-probe/modrinth"
	"compat-probe/persistence"
	"compat-probe/platform"
	"compat-probe/runner"
	"compat-probe/setup"
	"compat-probe/transform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	sodiumID  = "AANobbMI"
	indiumID  = "Orvt0mRa"
	nativeID  = "NativeM1"
	missingID = "Missing1"
)

type countingRegistry struct {
	mu       sync.Mutex
	projects []modrinth.Project
	versions []modrinth.Version
	calls    int
}

func (r *countingRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *countingRegistry) hit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
}

func (r *countingRegistry) addProject(id, slug string) {
	r.projects = append(r.projects, modrinth.Project{ID: id, Slug: slug, Title: slug})
}

func (r *countingRegistry) addVersion(projectID, versionID, loader string, deps ...string) {
	v := modrinth.Version{
		ID:            versionID,
		ProjectID:     projectID,
		VersionNumber: "1.0." + versionID,
		GameVersions:  []string{"1.21.1"},
		Loaders:       []string{loader},
		Files:         []modrinth.File{{Filename: versionID + ".jar", URL: "https://cdn.example/" + versionID + ".jar", Primary: true}},
	}
	for _, d := range deps {
		v.Dependencies = append(v.Dependencies, modrinth.Dependency{ProjectID: d, DependencyType: modrinth.DependencyRequired})
	}
	r.versions = append(r.versions, v)
}

func (r *countingRegistry) GetProject(_ context.Context, idOrSlug string) (*modrinth.Project, error) {
	r.hit()
	for _, p := range r.projects {
		if p.ID == idOrSlug || p.Slug == idOrSlug {
			return &p, nil
		}
	}
	return nil, modrinth.ErrNotFound
}

func (r *countingRegistry) GetVersion(_ context.Context, versionID string) (*modrinth.Version, error) {
	r.hit()
	for _, v := range r.versions {
		if v.ID == versionID {
			return &v, nil
		}
	}
	return nil, modrinth.ErrNotFound
}

func (r *countingRegistry) GetProjectVersions(_ context.Context, projectID string, loaders, gameVersions []string) ([]modrinth.Version, error) {
	r.hit()
	var out []modrinth.Version
	for _, v := range r.versions {
		if v.ProjectID == projectID && slices.Contains(v.Loaders, loaders[0]) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *countingRegistry) Search(context.Context, modrinth.SearchParams) (*modrinth.SearchResults, error) {
	r.hit()
	return &modrinth.SearchResults{}, nil
}

func (r *countingRegistry) DownloadFile(_ context.Context, url, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	r.hit()
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(url), 0644)
}

type stubToolchain struct {
	loader  string
	updates atomic.Int32
}

func (s *stubToolchain) GameVersions() []string { return []string{"1.21.1"} }

func (s *stubToolchain) HasGameVersion(gv string) bool { return gv == "1.21.1" }

func (s *stubToolchain) TransformerLibrary(context.Context, string) (*setup.ResolvedLibrary, error) {
	return &setup.ResolvedLibrary{Path: "/setup/transformer.jar", Version: "2.0.1+1.21.1"}, nil
}

func (s *stubToolchain) LoaderVersion(context.Context, string) (string, error) {
	return s.loader, nil
}

func (s *stubToolchain) UpdateLibraries(context.Context) ([]setup.LibraryUpdate, error) {
	s.updates.Add(1)
	return []setup.LibraryUpdate{{Library: "neoforge", GameVersion: "1.21.1", Previous: "21.1.77", Current: "21.1.77"}}, nil
}

type stubTransformer struct {
	calls   atomic.Int32
	passing bool
}

func (s *stubTransformer) RunTransformation(_ context.Context, project *platform.ResolvedProject, _ string) (*transform.Result, error) {
	s.calls.Add(1)
	return &transform.Result{
		ProjectID:            project.Version.ProjectID,
		VersionID:            project.Version.VersionID,
		DependencyProjectIDs: project.DependencyProjectIDs(),
		Success:              s.passing,
		PrimaryModID:         "sodium",
	}, nil
}

type harness struct {
	svc         *Service
	registry    *countingRegistry
	transformer *stubTransformer
	toolchain   *stubToolchain
	results     *persistence.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zap.NewNop().Sugar()
	reg := &countingRegistry{}
	reg.addProject(sodiumID, "sodium")
	reg.addProject(indiumID, "indium")
	reg.addProject(nativeID, "native-mod")
	reg.addProject(missingID, "needs-missing")
	reg.addVersion(sodiumID, "SodVer01", platform.LoaderFabric, indiumID, platform.FabricAPIID)
	reg.addVersion(indiumID, "IndVer01", platform.LoaderFabric)
	reg.addVersion(nativeID, "NatVer01", platform.LoaderNeoForge)
	reg.addVersion(missingID, "MisVer01", platform.LoaderFabric, "Unknown1")

	store := cache.NewMemoryStore()
	modrinthPlatform := platform.NewModrinthPlatform(t.TempDir(), store, reg, log)
	global := platform.NewGlobal(map[platform.Platform]platform.Resolver{platform.Modrinth: modrinthPlatform})

	gdb, err := db.Open(filepath.Join(t.TempDir(), "probe.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(gdb) })
	results := persistence.NewService(db.NewRepository(gdb), log)

	transformer := &stubTransformer{passing: true}
	toolchain := &stubToolchain{loader: "21.1.77"}
	r := runner.New(transformer, results, 2, log)

	return &harness{
		svc:         NewService(global, toolchain, results, r, store, log),
		registry:    reg,
		transformer: transformer,
		toolchain:   toolchain,
		results:     results,
	}
}

func TestTestModEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := TestRequest{Platform: "modrinth", ID: "sodium", GameVersion: "1.21.1"}

	first, err := h.svc.TestMod(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ResultTested, first.Type)
	assert.Equal(t, "sodium", first.Project.Slug)
	assert.Equal(t, "SodVer01", first.VersionID)
	assert.Equal(t, "1.0.SodVer01", first.VersionNumber)
	require.NotNil(t, first.Passing)
	assert.True(t, *first.Passing)
	require.NotNil(t, first.ModID)
	assert.Equal(t, "sodium", *first.ModID)
	assert.Equal(t, &EnvironmentInfo{ToolchainVersion: "2.0.1+1.21.1", GameVersion: "1.21.1", LoaderVersion: "21.1.77"}, first.Environment)

	calls := h.registry.count()
	second, err := h.svc.TestMod(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, calls, h.registry.count(), "second request must be served from caches")
	assert.Equal(t, int32(1), h.transformer.calls.Load())
	assert.Equal(t, first.VersionID, second.VersionID)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
}

func TestNewLoaderVersionRunsAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := TestRequest{Platform: "modrinth", ID: sodiumID, GameVersion: "1.21.1"}

	_, err := h.svc.TestMod(ctx, req)
	require.NoError(t, err)
	h.toolchain.loader = "21.1.80"
	resp, err := h.svc.TestMod(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "21.1.80", resp.Environment.LoaderVersion)
	assert.Equal(t, int32(2), h.transformer.calls.Load())
}

func TestNativeShortCircuit(t *testing.T) {
	h := newHarness(t)
	resp, err := h.svc.TestMod(context.Background(), TestRequest{Platform: "Modrinth", ID: "native-mod", GameVersion: "1.21.1"})
	require.NoError(t, err)
	assert.Equal(t, ResultNative, resp.Type)
	assert.Equal(t, platform.LoaderNeoForge, resp.Loader)
	assert.Nil(t, resp.Passing)
	assert.Zero(t, h.transformer.calls.Load())
}

func TestUnavailableWhenNoCompatibleVersion(t *testing.T) {
	h := newHarness(t)
	h.registry.addProject("Unported", "unported")
	resp, err := h.svc.TestMod(context.Background(), TestRequest{Platform: "modrinth", ID: "unported", GameVersion: "1.21.1"})
	require.NoError(t, err)
	assert.Equal(t, ResultUnavailable, resp.Type)
	assert.Equal(t, platform.LoaderFabric, resp.Loader)
	assert.Zero(t, h.transformer.calls.Load())
}

func TestTestModErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.TestMod(ctx, TestRequest{Platform: "curseforge", ID: "sodium", GameVersion: "1.21.1"})
	assert.ErrorIs(t, err, platform.ErrUnsupportedPlatform)

	_, err = h.svc.TestMod(ctx, TestRequest{Platform: "modrinth", ID: "sodium", GameVersion: "1.12.2"})
	assert.ErrorIs(t, err, ErrUnsupportedGameVersion)

	_, err = h.svc.TestMod(ctx, TestRequest{Platform: "modrinth", ID: "does-not-exist", GameVersion: "1.21.1"})
	assert.ErrorIs(t, err, platform.ErrNotFound)

	_, err = h.svc.TestMod(ctx, TestRequest{Platform: "modrinth", ID: "needs-missing", GameVersion: "1.21.1"})
	var unresolved *platform.UnresolvedDependencyError
	require.True(t, errors.As(err, &unresolved), "got %v", err)
	assert.Equal(t, "Unknown1", unresolved.DependencyID)
	assert.Zero(t, h.transformer.calls.Load())
}

func TestTopRequested(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, id := range []string{"sodium", "native-mod", "sodium", "indium", "sodium", "native-mod"} {
		_, err := h.svc.TestMod(ctx, TestRequest{Platform: "modrinth", ID: id, GameVersion: "1.21.1"})
		require.NoError(t, err)
	}

	top, err := h.svc.TopRequested(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []RequestStat{{Slug: "sodium", Count: 3}, {Slug: "native-mod", Count: 2}}, top)

	all, err := h.svc.TopRequested(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestImportReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	report := &Report{
		Environment: ReportEnvironment{TransformerVersion: "2.0.1+1.21.1", GameVersion: "1.21.1", LoaderVersion: "21.1.77"},
		Results: []ReportEntry{
			{Project: ReportProject{Slug: "sodium", VersionID: "SodVer01"}, Result: passingResult("sodium")},
			{Project: ReportProject{Slug: "indium", VersionID: "IndVer01"}},
			{Project: ReportProject{Slug: "not-on-registry", VersionID: "Nope0001"}, Result: passingResult("nope")},
		},
	}
	summary, err := h.svc.ImportReport(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, &ImportSummary{Imported: 1, Skipped: 1, Failed: 1}, summary)

	// The imported verdict answers the next request without a transformation
	resp, err := h.svc.TestMod(ctx, TestRequest{Platform: "modrinth", ID: "sodium", GameVersion: "1.21.1"})
	require.NoError(t, err)
	assert.Equal(t, ResultTested, resp.Type)
	assert.Zero(t, h.transformer.calls.Load())

	_, err = h.svc.ImportReport(ctx, &Report{})
	assert.ErrorIs(t, err, ErrInvalidReport)
}

func passingResult(modID string) *ReportResult {
	r := &ReportResult{}
	r.Output.Success = true
	r.Output.PrimaryModID = modID
	return r
}

func TestUpdateLibraries(t *testing.T) {
	h := newHarness(t)
	updates, err := h.svc.UpdateLibraries(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.False(t, updates[0].Upgraded())
	assert.Equal(t, int32(1), h.toolchain.updates.Load())
}
