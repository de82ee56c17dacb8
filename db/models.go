package db

import (
	"gorm.io/gorm"
)

// Mod groups the platform projects that produce the same mod id.
type Mod struct {
	gorm.Model
	ModID    *string   `gorm:"uniqueIndex"` // Primary mod id reported by the transformer, unknown until a run succeeds
	Projects []Project `gorm:"foreignKey:ModRef"`
}

// Project is a registry project owned by a Mod.
type Project struct {
	gorm.Model
	Platform  string `gorm:"uniqueIndex:idx_platform_project"`
	ProjectID string `gorm:"uniqueIndex:idx_platform_project"` // Registry project id
	ModRef    uint   `gorm:"index"`
}

// TestEnvironment is a distinct toolchain, game and loader version triple.
type TestEnvironment struct {
	gorm.Model
	ToolchainVersion string `gorm:"uniqueIndex:idx_env"`
	GameVersion      string `gorm:"uniqueIndex:idx_env"`
	LoaderVersion    string `gorm:"uniqueIndex:idx_env"`
}

// TestResult is one transformer verdict for a project version. Rows are
// never updated; the newest row per mod and environment is current.
type TestResult struct {
	gorm.Model
	ProjectRef         uint    `gorm:"index"`
	Project            Project `gorm:"foreignKey:ProjectRef"`
	VersionID          string
	Passing            bool
	TestEnvironmentRef uint `gorm:"index"`
}
