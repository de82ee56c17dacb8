package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository is the gorm-backed store for mods, projects, test environments
// and test results. Lookups return (nil, nil) when no row matches.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func first[T any](tx *gorm.DB) (*T, error) {
	var row T
	err := tx.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) FindTestEnvironment(ctx context.Context, toolchainVersion, gameVersion, loaderVersion string) (*TestEnvironment, error) {
	return first[TestEnvironment](r.db.WithContext(ctx).
		Where("toolchain_version = ? AND game_version = ? AND loader_version = ?", toolchainVersion, gameVersion, loaderVersion))
}

func (r *Repository) CreateTestEnvironment(ctx context.Context, env *TestEnvironment) error {
	return r.db.WithContext(ctx).Create(env).Error
}

func (r *Repository) FindProject(ctx context.Context, platform, projectID string) (*Project, error) {
	return first[Project](r.db.WithContext(ctx).Where("platform = ? AND project_id = ?", platform, projectID))
}

func (r *Repository) CreateProject(ctx context.Context, project *Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

// AssignProjectToMod moves a project to another mod.
func (r *Repository) AssignProjectToMod(ctx context.Context, projectRef, modRef uint) error {
	return r.db.WithContext(ctx).Model(&Project{}).Where("id = ?", projectRef).Update("mod_ref", modRef).Error
}

func (r *Repository) FindModByID(ctx context.Context, id uint) (*Mod, error) {
	return first[Mod](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *Repository) FindModByModID(ctx context.Context, modID string) (*Mod, error) {
	return first[Mod](r.db.WithContext(ctx).Where("mod_id = ?", modID))
}

func (r *Repository) CreateMod(ctx context.Context, mod *Mod) error {
	return r.db.WithContext(ctx).Create(mod).Error
}

// SetModID records the mod id of a mod that had none.
func (r *Repository) SetModID(ctx context.Context, modRef uint, modID string) error {
	return r.db.WithContext(ctx).Model(&Mod{}).Where("id = ? AND mod_id IS NULL", modRef).Update("mod_id", modID).Error
}

// LatestResultForMod returns the newest result recorded for any project of
// the mod in the given environment.
func (r *Repository) LatestResultForMod(ctx context.Context, modRef, envRef uint) (*TestResult, error) {
	return first[TestResult](r.db.WithContext(ctx).
		Joins("Project").
		Where(`"Project".mod_ref = ? AND test_results.test_environment_ref = ?`, modRef, envRef).
		Order("test_results.created_at DESC, test_results.id DESC"))
}

func (r *Repository) CreateTestResult(ctx context.Context, result *TestResult) error {
	return r.db.WithContext(ctx).Omit("Project").Create(result).Error
}

// ProjectCount and ResultCount back the stats command.
func (r *Repository) ProjectCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Project{}).Count(&n).Error
	return n, err
}

func (r *Repository) ResultCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&TestResult{}).Count(&n).Error
	return n, err
}

// TestedVersion is a project version some result was recorded for.
type TestedVersion struct {
	Platform  string
	ProjectID string
	VersionID string
}

// TestedVersions lists every distinct project version with a result.
func (r *Repository) TestedVersions(ctx context.Context) ([]TestedVersion, error) {
	var rows []TestedVersion
	err := r.db.WithContext(ctx).Model(&TestResult{}).
		Select("DISTINCT projects.platform, projects.project_id, test_results.version_id").
		Joins("JOIN projects ON projects.id = test_results.project_ref").
		Order("projects.project_id, test_results.version_id").
		Scan(&rows).Error
	return rows, err
}
