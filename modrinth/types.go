package modrinth

// Project represents a Modrinth project.
type Project struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IconURL     string `json:"icon_url"`
	ProjectType string `json:"project_type"` // e.g., "mod"
}

// Version represents a Modrinth project version.
type Version struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	Name          string       `json:"name"`
	VersionNumber string       `json:"version_number"`
	GameVersions  []string     `json:"game_versions"`
	Loaders       []string     `json:"loaders"`
	Files         []File       `json:"files"`
	Dependencies  []Dependency `json:"dependencies"`
}

// PrimaryFile returns the file flagged primary, or the first file.
func (v Version) PrimaryFile() (File, bool) {
	for _, f := range v.Files {
		if f.Primary {
			return f, true
		}
	}
	if len(v.Files) > 0 {
		return v.Files[0], true
	}
	return File{}, false
}

// File represents a file within a Modrinth version.
type File struct {
	Filename string            `json:"filename"`
	URL      string            `json:"url"`
	Primary  bool              `json:"primary"`
	Size     int               `json:"size"`
	Hashes   map[string]string `json:"hashes"` // e.g., {"sha512": "...", "sha1": "..."}
}

// Dependency types as reported by the API.
const (
	DependencyRequired     = "required"
	DependencyOptional     = "optional"
	DependencyIncompatible = "incompatible"
	DependencyEmbedded     = "embedded"
)

// Dependency links a version to another project or a specific version of it.
// Either field may be empty.
type Dependency struct {
	VersionID      string `json:"version_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	DependencyType string `json:"dependency_type"`
}

// SearchParams selects mods for one loader and game version.
type SearchParams struct {
	Loader        string
	ExcludeLoader string
	GameVersion   string
	Limit         int
	Offset        int
}

// SearchHit is a single search result.
type SearchHit struct {
	ProjectID     string `json:"project_id"`
	Slug          string `json:"slug"`
	Title         string `json:"title"`
	IconURL       string `json:"icon_url"`
	LatestVersion string `json:"latest_version"`
}

type SearchResults struct {
	Hits      []SearchHit `json:"hits"`
	Offset    int         `json:"offset"`
	Limit     int         `json:"limit"`
	TotalHits int         `json:"total_hits"`
}
