package platform

import (
	"errors"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"
)

// Coordinates identify a stored artifact.
type Coordinates struct {
	ID        string
	Slug      string
	VersionID string
}

// CleanupStorage removes project folders and artifact files under root that
// are not referenced by keep. Entries named in ignore are never touched.
// It returns the removed paths.
func CleanupStorage(log *zap.SugaredLogger, root string, keep []Coordinates, ignore []string) ([]string, error) {
	keepFolders := make(map[string]bool, len(keep))
	keepFiles := make(map[string]bool, len(keep))
	for _, c := range keep {
		keepFolders[c.Slug+"-"+c.ID] = true
		keepFiles[c.Slug+"-"+c.VersionID+".jar"] = true
	}

	var remove []string
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(root, name)
		if slices.Contains(ignore, name) {
			continue
		}
		if !entry.IsDir() {
			if !keepFiles[name] {
				remove = append(remove, path)
			}
			continue
		}
		if !keepFolders[name] {
			remove = append(remove, path)
			continue
		}

		files, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if !slices.Contains(ignore, f.Name()) && !keepFiles[f.Name()] {
				remove = append(remove, filepath.Join(path, f.Name()))
			}
		}
	}

	if len(remove) > 0 {
		log.Infow("Cleaning up unused file paths", zap.Int("count", len(remove)))
	}
	for _, path := range remove {
		log.Infow("Deleting", zap.String("path", path))
		if err := os.RemoveAll(path); err != nil {
			return remove, err
		}
	}
	return remove, nil
}
