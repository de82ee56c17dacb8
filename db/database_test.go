package db

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *Repository {
	t.Helper()
	gdb, err := Open(filepath.Join(t.TempDir(), "probe.db"), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { Close(gdb) })
	return NewRepository(gdb)
}

func TestLatestResultForMod(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	modID := "sodium"
	mod := &Mod{ModID: &modID}
	if err := repo.CreateMod(ctx, mod); err != nil {
		t.Fatal(err)
	}
	env := &TestEnvironment{ToolchainVersion: "2.0.0", GameVersion: "1.21.1", LoaderVersion: "21.1.0"}
	if err := repo.CreateTestEnvironment(ctx, env); err != nil {
		t.Fatal(err)
	}
	project := &Project{Platform: "modrinth", ProjectID: "AANobbMI", ModRef: mod.ID}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatal(err)
	}

	if got, err := repo.LatestResultForMod(ctx, mod.ID, env.ID); err != nil || got != nil {
		t.Fatalf("Expected no result, got %+v, %v", got, err)
	}

	for _, v := range []string{"v1", "v2"} {
		if err := repo.CreateTestResult(ctx, &TestResult{ProjectRef: project.ID, VersionID: v, Passing: v == "v2", TestEnvironmentRef: env.ID}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.LatestResultForMod(ctx, mod.ID, env.ID)
	if err != nil {
		t.Fatalf("LatestResultForMod: %v", err)
	}
	if got == nil || got.VersionID != "v2" || !got.Passing {
		t.Fatalf("Expected newest result v2, got %+v", got)
	}
	if got.Project.ProjectID != "AANobbMI" {
		t.Errorf("Joined project not loaded: %+v", got.Project)
	}

	other := &TestEnvironment{ToolchainVersion: "2.0.1", GameVersion: "1.21.1", LoaderVersion: "21.1.0"}
	if err := repo.CreateTestEnvironment(ctx, other); err != nil {
		t.Fatal(err)
	}
	if got, _ := repo.LatestResultForMod(ctx, mod.ID, other.ID); got != nil {
		t.Errorf("Results must not leak across environments, got %+v", got)
	}
}

func TestTestEnvironmentIsUnique(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	if err := repo.CreateTestEnvironment(ctx, &TestEnvironment{ToolchainVersion: "a", GameVersion: "b", LoaderVersion: "c"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateTestEnvironment(ctx, &TestEnvironment{ToolchainVersion: "a", GameVersion: "b", LoaderVersion: "c"}); err == nil {
		t.Error("Expected unique constraint violation")
	}
	found, err := repo.FindTestEnvironment(ctx, "a", "b", "c")
	if err != nil || found == nil {
		t.Fatalf("FindTestEnvironment = %+v, %v", found, err)
	}
}

func TestTestedVersions(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	mod := &Mod{}
	if err := repo.CreateMod(ctx, mod); err != nil {
		t.Fatal(err)
	}
	env := &TestEnvironment{ToolchainVersion: "2.0.0", GameVersion: "1.21.1", LoaderVersion: "21.1.0"}
	if err := repo.CreateTestEnvironment(ctx, env); err != nil {
		t.Fatal(err)
	}
	project := &Project{Platform: "modrinth", ProjectID: "AANobbMI", ModRef: mod.ID}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"sodv0001", "sodv0002", "sodv0002"} {
		if err := repo.CreateTestResult(ctx, &TestResult{ProjectRef: project.ID, VersionID: v, TestEnvironmentRef: env.ID}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.TestedVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []TestedVersion{
		{Platform: "modrinth", ProjectID: "AANobbMI", VersionID: "sodv0001"},
		{Platform: "modrinth", ProjectID: "AANobbMI", VersionID: "sodv0002"},
	}
	if len(got) != len(want) {
		t.Fatalf("TestedVersions() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TestedVersions()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if n, err := repo.ResultCount(ctx); err != nil || n != 3 {
		t.Errorf("ResultCount() = %d, %v", n, err)
	}
	if n, err := repo.ProjectCount(ctx); err != nil || n != 1 {
		t.Errorf("ProjectCount() = %d, %v", n, err)
	}
}
