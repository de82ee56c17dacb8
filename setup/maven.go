package setup

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	NeoForgeMaven = "https://maven.neoforged.net/releases"
	SinytraMaven  = "https://maven.sinytra.org"
)

// Library is a maven artifact the toolchain depends on. Accept selects the
// versions usable for a game version.
type Library struct {
	Group      string
	Name       string
	Classifier string
	Repository string
	Accept     func(gameVersion, version string) bool
}

var (
	// TransformerLibrary versions carry the game version as build metadata,
	// e.g. 2.0.0+1.21.1.
	TransformerLibrary = Library{
		Group: "org.sinytra.connector", Name: "transformer", Classifier: "all", Repository: SinytraMaven,
		Accept: func(gameVersion, version string) bool {
			_, build, ok := strings.Cut(version, "+")
			return ok && build == gameVersion
		},
	}
	// LoaderLibrary versions drop the leading "1." of the game version,
	// e.g. 21.1.77 for 1.21.1 and 21.0.167 for 1.21.
	LoaderLibrary = Library{
		Group: "net.neoforged", Name: "neoforge", Classifier: "universal", Repository: NeoForgeMaven,
		Accept: func(gameVersion, version string) bool {
			_, qualifier, ok := strings.Cut(gameVersion, ".")
			if !ok {
				return false
			}
			if !strings.Contains(qualifier, ".") {
				qualifier += ".0"
			}
			return strings.HasPrefix(version, qualifier+".")
		},
	}
	RuntimeLibrary = Library{
		Group: "net.neoforged", Name: "neoform-runtime", Classifier: "all", Repository: NeoForgeMaven,
		Accept: func(string, string) bool { return true },
	}
)

// Libraries lists every library the toolchain installs.
var Libraries = []Library{TransformerLibrary, LoaderLibrary, RuntimeLibrary}

// MavenPath returns the repository-relative path of the library jar.
func (l Library) MavenPath(version string) string {
	classifier := ""
	if l.Classifier != "" {
		classifier = "-" + l.Classifier
	}
	return fmt.Sprintf("%s/%s/%s/%s-%s%s.jar", strings.ReplaceAll(l.Group, ".", "/"), l.Name, version, l.Name, version, classifier)
}

func (l Library) metadataURL() string {
	return fmt.Sprintf("%s/%s/%s/maven-metadata.xml", l.Repository, strings.ReplaceAll(l.Group, ".", "/"), l.Name)
}

type mavenMetadata struct {
	Versioning struct {
		Latest   string   `xml:"latest"`
		Release  string   `xml:"release"`
		Versions []string `xml:"versions>version"`
	} `xml:"versioning"`
}

// fetchVersions reads the versions listed in the library's maven metadata.
func fetchVersions(ctx context.Context, client *http.Client, userAgent string, l Library) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.metadataURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s metadata: %w", l.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s metadata: status %d", l.Name, resp.StatusCode)
	}

	var meta mavenMetadata
	if err := xml.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", l.Name, err)
	}
	return meta.Versioning.Versions, nil
}

// selectVersion returns the highest accepted version. Versions that are not
// valid semver only win when no accepted version parses, in which case the
// last accepted one in metadata order is used.
func selectVersion(l Library, gameVersion string, versions []string) (string, bool) {
	var (
		best     *semver.Version
		bestRaw  string
		fallback string
	)
	for _, v := range versions {
		if !l.Accept(gameVersion, v) {
			continue
		}
		fallback = v
		parsed, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if best == nil || parsed.GreaterThan(best) {
			best, bestRaw = parsed, v
		}
	}
	if best != nil {
		return bestRaw, true
	}
	return fallback, fallback != ""
}
