package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"compat-probe/cache"
	"compat-probe/config"
	"compat-probe/db"
	"compat-probe/platform"
	"compat-probe/setup"

	"go.uber.org/zap"
)

func TestFormatLibraryUpdate(t *testing.T) {
	tests := []struct {
		update setup.LibraryUpdate
		want   string
	}{
		{setup.LibraryUpdate{Library: "neoforge", GameVersion: "1.21.1", Current: "21.1.77"}, "installed 21.1.77"},
		{setup.LibraryUpdate{Library: "neoforge", GameVersion: "1.21.1", Previous: "21.1.77", Current: "21.1.80"}, "upgraded 21.1.77 -> 21.1.80"},
		{setup.LibraryUpdate{Library: "transformer", GameVersion: "1.21.1", Previous: "2.0.1", Current: "2.0.1"}, "already up to date at 2.0.1"},
	}
	for _, tt := range tests {
		got := formatLibraryUpdate(tt.update)
		if !strings.Contains(got, tt.want) || !strings.Contains(got, tt.update.Library+" (1.21.1)") {
			t.Errorf("formatLibraryUpdate(%+v) = %q, want it to contain %q", tt.update, got, tt.want)
		}
	}
}

func TestReadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	content := `{
		"environment": {"transformer_version": "2.0.1+1.21.1", "game_version": "1.21.1", "neoforge_version": "21.1.77"},
		"results": [
			{"project": {"id": "AANobbMI", "slug": "sodium", "version_id": "SodVer01"}, "result": {"output": {"success": true, "primaryModid": "sodium"}, "errors": false}},
			{"project": {"id": "gvQqBUqZ", "slug": "lithium", "version_id": "LitVer01"}, "result": null}
		]
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := readReport(path)
	if err != nil {
		t.Fatalf("readReport: %v", err)
	}
	if report.Environment.LoaderVersion != "21.1.77" {
		t.Errorf("LoaderVersion = %q", report.Environment.LoaderVersion)
	}
	if len(report.Results) != 2 || report.Results[1].Result != nil {
		t.Fatalf("unexpected results %+v", report.Results)
	}
	if !report.Results[0].Result.Output.Success || report.Results[0].Result.Output.PrimaryModID != "sodium" {
		t.Errorf("unexpected first result %+v", report.Results[0].Result)
	}

	if _, err := readReport(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

type lookupFunc func(ctx context.Context, p platform.Platform, slugOrID string) (*platform.Project, error)

func (f lookupFunc) GetProject(ctx context.Context, p platform.Platform, slugOrID string) (*platform.Project, error) {
	return f(ctx, p, slugOrID)
}

func TestKeepSet(t *testing.T) {
	lookup := lookupFunc(func(_ context.Context, _ platform.Platform, id string) (*platform.Project, error) {
		if id == "AANobbMI" {
			return &platform.Project{ID: id, Slug: "sodium"}, nil
		}
		return nil, platform.ErrNotFound
	})
	keep := keepSet(context.Background(), lookup, []db.TestedVersion{
		{Platform: "modrinth", ProjectID: "AANobbMI", VersionID: "SodVer01"},
		{Platform: "modrinth", ProjectID: "Vanished", VersionID: "GoneVer1"},
	})
	want := []platform.Coordinates{{ID: "AANobbMI", Slug: "sodium", VersionID: "SodVer01"}}
	if len(keep) != 1 || keep[0] != want[0] {
		t.Errorf("keepSet() = %+v, want %+v", keep, want)
	}
}

func TestNewAppWithoutRedis(t *testing.T) {
	storage := t.TempDir()
	cfg := config.Config{
		StoragePath:      storage,
		DatabasePath:     filepath.Join(storage, "probe.db"),
		UserAgent:        "test",
		ModrinthAPIURL:   "http://127.0.0.1:0",
		GameVersions:     []string{"1.21.1"},
		JavaPath:         "java",
		TransformWorkers: 1,
	}

	a, err := newApp(context.Background(), cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	if _, ok := a.store.(*cache.MemoryStore); !ok {
		t.Errorf("expected an in-memory store, got %T", a.store)
	}
	if got := a.probe.GameVersions(); len(got) != 1 || got[0] != "1.21.1" {
		t.Errorf("GameVersions() = %v", got)
	}
	if n, err := a.repo.ResultCount(context.Background()); err != nil || n != 0 {
		t.Errorf("ResultCount() = %d, %v", n, err)
	}
}

func TestFormatSearchResult(t *testing.T) {
	got := formatSearchResult(3, platform.SearchResult{ProjectID: "AANobbMI", Name: "Sodium", Slug: "sodium", VersionID: "SodVer01"})
	for _, want := range []string{"  3.", "sodium", "Sodium (AANobbMI)"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatSearchResult() = %q, want it to contain %q", got, want)
		}
	}
}
