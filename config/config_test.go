package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestProcessConfigDefaults(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		viper.Reset()
		cfg := Config{}
		processConfigDefaults(&cfg)

		if cfg.UserAgent != DefaultUserAgent {
			t.Errorf("Expected default UserAgent, got %s", cfg.UserAgent)
		}
		if !reflect.DeepEqual(cfg.GameVersions, []string{DefaultGameVersion}) {
			t.Errorf("Expected default game versions, got %v", cfg.GameVersions)
		}
		if cfg.TransformWorkers < 1 {
			t.Errorf("Expected at least one transform worker, got %d", cfg.TransformWorkers)
		}
		if cfg.TransformTimeout != DefaultTransformTimeout {
			t.Errorf("Expected TransformTimeout %v, got %v", DefaultTransformTimeout, cfg.TransformTimeout)
		}
		if cfg.JavaPath != "java" {
			t.Errorf("Expected JavaPath to be java, got %s", cfg.JavaPath)
		}
	})

	t.Run("respects existing values", func(t *testing.T) {
		viper.Reset()
		cfg := Config{
			UserAgent:        "custom-agent",
			GameVersions:     []string{"1.20.1"},
			TransformWorkers: 7,
			TransformTimeout: time.Minute,
			ListenAddr:       ":9000",
		}
		processConfigDefaults(&cfg)

		if cfg.UserAgent != "custom-agent" {
			t.Errorf("Expected UserAgent to stay custom-agent, got %s", cfg.UserAgent)
		}
		if !reflect.DeepEqual(cfg.GameVersions, []string{"1.20.1"}) {
			t.Errorf("Expected game versions to stay, got %v", cfg.GameVersions)
		}
		if cfg.TransformWorkers != 7 {
			t.Errorf("Expected TransformWorkers to stay 7, got %d", cfg.TransformWorkers)
		}
		if cfg.ListenAddr != ":9000" {
			t.Errorf("Expected ListenAddr to stay :9000, got %s", cfg.ListenAddr)
		}
	})
}

func TestValidateAndEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("missing storage path", func(t *testing.T) {
		cfg := Config{StoragePath: ""}
		if err := validateAndEnsureDirectories(&cfg); err == nil {
			t.Error("Expected error for missing StoragePath")
		}
	})

	t.Run("creates directories", func(t *testing.T) {
		storage := filepath.Join(tmpDir, "storage")
		cfg := Config{StoragePath: storage}
		if err := validateAndEnsureDirectories(&cfg); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		for _, sub := range []string{"mods", ".setup"} {
			if _, err := os.Stat(filepath.Join(storage, sub)); os.IsNotExist(err) {
				t.Errorf("Directory %s was not created", sub)
			}
		}
		if cfg.DatabasePath != filepath.Join(storage, "probe.db") {
			t.Errorf("Unexpected derived DatabasePath %s", cfg.DatabasePath)
		}
	})

	t.Run("keeps explicit database path", func(t *testing.T) {
		cfg := Config{StoragePath: tmpDir, DatabasePath: "/var/lib/probe.db"}
		if err := validateAndEnsureDirectories(&cfg); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if cfg.DatabasePath != "/var/lib/probe.db" {
			t.Errorf("DatabasePath was overwritten: %s", cfg.DatabasePath)
		}
	})
}

func TestParseList(t *testing.T) {
	got := parseList(" 1.21.1, 1.21 ,,1.20.1")
	want := []string{"1.21.1", "1.21", "1.20.1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseList() = %v, want %v", got, want)
	}
	if parseList("") != nil {
		t.Error("parseList(\"\") should be nil")
	}
}
