package modrinth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"compat-probe/config"
	"compat-probe/metrics"

	"go.uber.org/zap"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultAttempts  = 3
	defaultRetryWait = time.Second
)

var (
	// ErrNotFound is returned when the registry answers 404.
	ErrNotFound = errors.New("not found")
	// ErrRequest is returned for any other unsuccessful response.
	ErrRequest = errors.New("registry request failed")
)

// Client handles communication with the Modrinth API.
type Client struct {
	BaseURL    string
	APIKey     string
	UserAgent  string
	HTTPClient *http.Client
	// Attempts and RetryWait control retries of network errors and 5xx responses.
	Attempts  int
	RetryWait time.Duration

	log *zap.SugaredLogger
}

// NewClient creates a new Modrinth API client using the provided configuration.
func NewClient(cfg config.Config, log *zap.SugaredLogger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("USERAGENT is not configured")
	}
	baseURL := cfg.ModrinthAPIURL
	if baseURL == "" {
		baseURL = config.DefaultModrinthAPIURL
	}

	return &Client{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		APIKey:    cfg.ModrinthAPIKey,
		UserAgent: cfg.UserAgent,
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
		Attempts:  defaultAttempts,
		RetryWait: defaultRetryWait,
		log:       log,
	}, nil
}

// makeRequest sends a GET to fullURL and decodes a JSON body into target.
// For binary requests target is nil and the open response is returned; the
// caller closes its body.
func (c *Client) makeRequest(ctx context.Context, endpoint, fullURL string, queryParams url.Values, target any, isBinary bool) (*http.Response, error) {
	var resp *http.Response
	err := retry(ctx, c.Attempts, c.RetryWait, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if queryParams != nil {
			req.URL.RawQuery = queryParams.Encode()
		}

		req.Header.Set("User-Agent", c.UserAgent)
		if c.APIKey != "" && !isBinary {
			req.Header.Set("Authorization", c.APIKey)
		}
		if isBinary {
			req.Header.Set("Accept", "application/octet-stream")
		} else {
			req.Header.Set("Accept", "application/json")
		}

		r, err := c.HTTPClient.Do(req)
		if err != nil {
			metrics.RegistryRequestsTotal.WithLabelValues(endpoint, "error").Inc()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &retryableError{err: fmt.Errorf("failed to execute request: %w", err)}
		}
		metrics.RegistryRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(r.StatusCode)).Inc()

		if err := checkStatus(r); err != nil {
			r.Body.Close()
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if target != nil && !isBinary {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return resp, fmt.Errorf("failed to decode json response: %w", err)
		}
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		return &retryableError{err: fmt.Errorf("%w: status %d", ErrRequest, code)}
	default:
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d, body: %s", ErrRequest, code, string(bodyBytes))
	}
}

// GetProject retrieves a project by id or slug.
func (c *Client) GetProject(ctx context.Context, idOrSlug string) (*Project, error) {
	var project Project
	_, err := c.makeRequest(ctx, "project", c.BaseURL+"/project/"+url.PathEscape(idOrSlug), nil, &project, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get project '%s': %w", idOrSlug, err)
	}
	return &project, nil
}

// GetVersion retrieves a single version by id.
func (c *Client) GetVersion(ctx context.Context, versionID string) (*Version, error) {
	var version Version
	_, err := c.makeRequest(ctx, "version", c.BaseURL+"/version/"+url.PathEscape(versionID), nil, &version, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get version '%s': %w", versionID, err)
	}
	return &version, nil
}

// GetProjectVersions retrieves the versions of a project available for any of
// the given loaders and game versions, newest first.
func (c *Client) GetProjectVersions(ctx context.Context, projectID string, loaders, gameVersions []string) ([]Version, error) {
	params := url.Values{}
	if len(loaders) > 0 {
		params.Add("loaders", jsonList(loaders))
	}
	if len(gameVersions) > 0 {
		params.Add("game_versions", jsonList(gameVersions))
	}

	var versions []Version
	_, err := c.makeRequest(ctx, "project_versions", c.BaseURL+"/project/"+url.PathEscape(projectID)+"/version", params, &versions, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get project versions for '%s': %w", projectID, err)
	}
	return versions, nil
}

// Search lists mods available for a loader and game version, most downloaded first.
func (c *Client) Search(ctx context.Context, p SearchParams) (*SearchResults, error) {
	facets := [][]string{
		{"project_type:mod"},
		{"categories:" + p.Loader},
		{"versions:" + p.GameVersion},
	}
	if p.ExcludeLoader != "" {
		facets = append(facets, []string{"categories!=" + p.ExcludeLoader})
	}
	rawFacets, err := json.Marshal(facets)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("facets", string(rawFacets))
	params.Set("index", "downloads")
	params.Set("limit", strconv.Itoa(p.Limit))
	params.Set("offset", strconv.Itoa(p.Offset))

	var results SearchResults
	if _, err := c.makeRequest(ctx, "search", c.BaseURL+"/search", params, &results, false); err != nil {
		return nil, fmt.Errorf("failed to search projects: %w", err)
	}
	return &results, nil
}

// DownloadFile downloads downloadURL to destinationPath. An existing regular
// file at the destination is kept as is. The body is written to a temporary
// file in the same directory and renamed into place, so a failed download
// never leaves a partial artifact behind.
func (c *Client) DownloadFile(ctx context.Context, downloadURL, destinationPath string) error {
	if info, err := os.Stat(destinationPath); err == nil {
		if info.Mode().IsRegular() {
			return nil
		}
		if err := os.RemoveAll(destinationPath); err != nil {
			return fmt.Errorf("failed to clear '%s': %w", destinationPath, err)
		}
	}

	dir := filepath.Dir(destinationPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create target directory '%s': %w", dir, err)
	}

	resp, err := c.makeRequest(ctx, "download", downloadURL, nil, nil, true)
	if err != nil {
		return fmt.Errorf("failed to start download for '%s' from %s: %w", filepath.Base(destinationPath), downloadURL, err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(dir, filepath.Base(destinationPath)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file in '%s': %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write downloaded content to '%s': %w", destinationPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize '%s': %w", destinationPath, err)
	}
	if err := os.Rename(tmpPath, destinationPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move download into place '%s': %w", destinationPath, err)
	}

	if c.log != nil {
		c.log.Debugw("Downloaded file", zap.String("url", downloadURL), zap.String("path", destinationPath))
	}
	return nil
}

func jsonList(values []string) string {
	data, _ := json.Marshal(values)
	return string(data)
}
