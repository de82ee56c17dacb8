package transform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"compat-probe/platform"

	"go.uber.org/zap"
)

type fakeToolchain struct {
	dir string
}

func (f fakeToolchain) GameFiles(context.Context, string) (*GameFiles, error) {
	return &GameFiles{
		CleanFile:   filepath.Join(f.dir, "clean.jar"),
		LoaderFiles: []string{filepath.Join(f.dir, "neoforge-universal.jar"), filepath.Join(f.dir, "compiled.jar")},
	}, nil
}

func (f fakeToolchain) TransformerPath(context.Context, string) (string, error) {
	return filepath.Join(f.dir, "transformer.jar"), nil
}

type fakeLibraries struct {
	err error
}

func (f fakeLibraries) ResolveProjectVersion(_ context.Context, _ platform.Platform, projectID, _, _ string) (*platform.ResolvedVersion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &platform.ResolvedVersion{ProjectID: projectID, VersionID: "ffapi001", Path: "ffapi-" + projectID + "/ffapi-ffapi001.jar"}, nil
}

// writeScript creates a shell script standing in for the java executable.
// It records its arguments in args.txt next to itself and then runs body
// with $WORK set to the --work-dir argument.
func writeScript(t *testing.T, body string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := "#!/bin/sh\n" +
		"for a in \"$@\"; do echo \"$a\" >> '" + argsFile + "'; done\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"--work-dir\" ]; then WORK=\"$2\"; fi\n" +
		"  shift\n" +
		"done\n" +
		body + "\n"
	path := filepath.Join(dir, "java")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path, argsFile
}

func resolvedTree() *platform.ResolvedProject {
	v := func(id string) platform.ResolvedVersion {
		return platform.ResolvedVersion{ProjectID: id, VersionID: id + "-v", Path: id + "/" + id + "-v.jar"}
	}
	shared := &platform.ResolvedProject{Version: v("DDDDDDDD")}
	return &platform.ResolvedProject{
		Version: v("AAAAAAAA"),
		Dependencies: []*platform.ResolvedProject{
			{Version: v("BBBBBBBB"), Dependencies: []*platform.ResolvedProject{shared}},
			{Version: v("CCCCCCCC"), Dependencies: []*platform.ResolvedProject{shared}},
		},
	}
}

func newService(t *testing.T, javaPath string, timeout time.Duration) (*Service, string) {
	storage := t.TempDir()
	return NewService(storage, fakeLibraries{}, fakeToolchain{dir: t.TempDir()}, javaPath, timeout, zap.NewNop().Sugar()), storage
}

func TestRunTransformationSuccess(t *testing.T) {
	script, argsFile := writeScript(t, `echo '{"success":true,"primaryModid":"sodium"}' > "$WORK/output.json"`)
	s, storage := newService(t, script, time.Minute)

	res, err := s.RunTransformation(context.Background(), resolvedTree(), "1.21.1")
	if err != nil {
		t.Fatalf("RunTransformation: %v", err)
	}
	if !res.Success || res.PrimaryModID != "sodium" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.ProjectID != "AAAAAAAA" || res.VersionID != "AAAAAAAA-v" {
		t.Errorf("unexpected project in result %+v", res)
	}
	if got := strings.Join(res.DependencyProjectIDs, ","); got != "BBBBBBBB,CCCCCCCC,DDDDDDDD" {
		t.Errorf("DependencyProjectIDs = %s", got)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	args := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if args[0] != "--add-opens" || args[1] != "java.base/java.lang.invoke=ALL-UNNAMED" || args[2] != "-jar" {
		t.Errorf("unexpected leading args %v", args[:3])
	}
	countFlag := func(flag string) int {
		n := 0
		for _, a := range args {
			if a == flag {
				n++
			}
		}
		return n
	}
	if n := countFlag("--source"); n != 4 {
		t.Errorf("Expected 4 sources (root + 3 deduplicated deps), got %d", n)
	}
	if n := countFlag("--classpath"); n != 3 {
		t.Errorf("Expected 3 classpath entries, got %d", n)
	}
	if !strings.Contains(string(raw), filepath.Join(storage, "ffapi-Aqlf1Shp")) {
		t.Error("Mandated library missing from the classpath")
	}

	assertNoWorkDirs(t, storage)
}

func TestRunTransformationNonZeroExit(t *testing.T) {
	script, _ := writeScript(t, `exit 3`)
	s, storage := newService(t, script, time.Minute)

	_, err := s.RunTransformation(context.Background(), resolvedTree(), "1.21.1")
	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("Expected ProcessError, got %v", err)
	}
	if procErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", procErr.ExitCode)
	}
	assertNoWorkDirs(t, storage)
}

func TestRunTransformationMissingOutput(t *testing.T) {
	script, _ := writeScript(t, `exit 0`)
	s, _ := newService(t, script, time.Minute)

	_, err := s.RunTransformation(context.Background(), resolvedTree(), "1.21.1")
	if !errors.Is(err, ErrInvalidOutput) {
		t.Fatalf("Expected ErrInvalidOutput, got %v", err)
	}
}

func TestRunTransformationMalformedOutput(t *testing.T) {
	script, _ := writeScript(t, `echo 'not json' > "$WORK/output.json"`)
	s, _ := newService(t, script, time.Minute)

	_, err := s.RunTransformation(context.Background(), resolvedTree(), "1.21.1")
	if !errors.Is(err, ErrInvalidOutput) {
		t.Fatalf("Expected ErrInvalidOutput, got %v", err)
	}
}

func TestRunTransformationTimeout(t *testing.T) {
	script, _ := writeScript(t, `exec sleep 5`)
	s, storage := newService(t, script, 100*time.Millisecond)

	start := time.Now()
	_, err := s.RunTransformation(context.Background(), resolvedTree(), "1.21.1")
	if !errors.Is(err, ErrTransformerTimeout) {
		t.Fatalf("Expected ErrTransformerTimeout, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("Transformer was not killed at the deadline")
	}
	assertNoWorkDirs(t, storage)
}

func TestRunTransformationMandatedLibraryMissing(t *testing.T) {
	script, argsFile := writeScript(t, `exit 0`)
	storage := t.TempDir()
	s := NewService(storage, fakeLibraries{err: platform.ErrNoCompatibleVersion}, fakeToolchain{dir: t.TempDir()}, script, time.Minute, zap.NewNop().Sugar())

	_, err := s.RunTransformation(context.Background(), resolvedTree(), "1.21.1")
	if !errors.Is(err, platform.ErrNoCompatibleVersion) {
		t.Fatalf("Expected library resolution error, got %v", err)
	}
	if _, err := os.Stat(argsFile); !os.IsNotExist(err) {
		t.Error("Transformer must not run without its mandated libraries")
	}
}

func assertNoWorkDirs(t *testing.T, storage string) {
	t.Helper()
	matches, _ := filepath.Glob(filepath.Join(storage, "AAAAAAAA", "output-*"))
	if len(matches) != 0 {
		t.Errorf("Work directories left behind: %v", matches)
	}
}
