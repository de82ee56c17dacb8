package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultUserAgent        = "compat-probe/dev (unknown-user)"
	DefaultModrinthAPIURL   = "https://api.modrinth.com/v2"
	DefaultListenAddr       = ":8080"
	DefaultGameVersion      = "1.21.1"
	DefaultTransformTimeout = 60 * time.Minute
)

// Config holds all configuration for the application.
// Values are loaded by Viper from a config file and/or environment variables.
type Config struct {
	StoragePath      string        `mapstructure:"STORAGE_PATH"`
	DatabasePath     string        `mapstructure:"DATABASE_PATH"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	ModrinthAPIKey   string        `mapstructure:"MODRINTH_API_KEY"`
	ModrinthAPIURL   string        `mapstructure:"MODRINTH_API_URL"`
	UserAgent        string        `mapstructure:"USERAGENT"`
	GameVersions     []string      `mapstructure:"-"` // Parsed from GAME_VERSIONS
	NFRTVersion      string        `mapstructure:"NFRT_VERSION"`
	JavaPath         string        `mapstructure:"JAVA_PATH"`
	TransformWorkers int           `mapstructure:"TRANSFORM_WORKERS"`
	TransformTimeout time.Duration `mapstructure:"TRANSFORM_TIMEOUT"`
	ListenAddr       string        `mapstructure:"LISTEN_ADDR"`
	APIKey           string        `mapstructure:"API_KEY"`
	UseLocalCache    bool          `mapstructure:"USE_LOCAL_CACHE"`
	LogFile          string        `mapstructure:"LOG_FILE"`
}

var envKeys = []string{
	"STORAGE_PATH",
	"DATABASE_PATH",
	"REDIS_URL",
	"MODRINTH_API_KEY",
	"MODRINTH_API_URL",
	"USERAGENT",
	"GAME_VERSIONS",
	"NFRT_VERSION",
	"JAVA_PATH",
	"TRANSFORM_WORKERS",
	"TRANSFORM_TIMEOUT",
	"LISTEN_ADDR",
	"API_KEY",
	"USE_LOCAL_CACHE",
	"LOG_FILE",
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	vipErr := viper.ReadInConfig()
	if _, ok := vipErr.(viper.ConfigFileNotFoundError); ok {
		slog.Info("Config file (.env) not found, relying on environment variables.")
	} else if vipErr != nil {
		return Config{}, fmt.Errorf("fatal error config file: %w", vipErr)
	}

	viper.AutomaticEnv()
	for _, key := range envKeys {
		if err := viper.BindEnv(strings.ToLower(key), key); err != nil {
			slog.Warn("Unable to bind env var", "key", key, "error", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %w", err)
	}
	config.GameVersions = parseList(viper.GetString("GAME_VERSIONS"))

	processConfigDefaults(&config)

	if err := validateAndEnsureDirectories(&config); err != nil {
		return Config{}, err
	}

	return config, nil
}

// processConfigDefaults fills every optional value that was left empty.
func processConfigDefaults(config *Config) {
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
		slog.Warn("USERAGENT not set in config or environment, using default.")
	}
	if config.ModrinthAPIURL == "" {
		config.ModrinthAPIURL = DefaultModrinthAPIURL
	}
	if len(config.GameVersions) == 0 {
		config.GameVersions = []string{DefaultGameVersion}
	}
	if config.JavaPath == "" {
		config.JavaPath = "java"
	}
	if config.TransformWorkers <= 0 {
		// GOMAXPROCS is container-aware thanks to automaxprocs
		config.TransformWorkers = max(runtime.GOMAXPROCS(0)/2, 1)
	}
	if config.TransformTimeout <= 0 {
		config.TransformTimeout = DefaultTransformTimeout
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
}

// validateAndEnsureDirectories checks required paths and creates the storage layout.
func validateAndEnsureDirectories(config *Config) error {
	if config.StoragePath == "" {
		slog.Error("STORAGE_PATH is not set")
		return fmt.Errorf("STORAGE_PATH is required")
	}

	dirs := []string{
		config.StoragePath,
		filepath.Join(config.StoragePath, "mods"),
		filepath.Join(config.StoragePath, ".setup"),
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			slog.Info("Directory does not exist, creating it", "path", dir)
			if err := os.MkdirAll(dir, 0755); err != nil {
				slog.Error("Failed to create directory", "path", dir, "error", err)
				return err
			}
		} else if err != nil {
			slog.Error("Failed to check directory", "path", dir, "error", err)
			return err
		}
	}

	if config.DatabasePath == "" {
		config.DatabasePath = filepath.Join(config.StoragePath, "probe.db")
	}
	return nil
}

// ModsPath is where resolved mod artifacts are stored.
func (c Config) ModsPath() string {
	return filepath.Join(c.StoragePath, "mods")
}

// SetupPath is where game files and toolchain libraries are installed.
func (c Config) SetupPath() string {
	return filepath.Join(c.StoragePath, ".setup")
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
