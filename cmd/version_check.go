package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrVersionCheckFailed is returned when the release endpoint answers with a non-200 status
var ErrVersionCheckFailed = errors.New("version check failed")

const (
	latestReleaseURL    = "https://api.github.com/repos/airframesio/sf-file-export/releases/latest"
	versionCheckTimeout = 5 * time.Second
	versionCacheTTL     = 24 * time.Hour
)

// VersionCheckResult contains the result of checking for updates
type VersionCheckResult struct {
	UpdateAvailable bool
	CurrentVersion  string
	LatestVersion   string
	ReleaseURL      string
	Error           error
}

type versionCache struct {
	LatestVersion string    `json:"latest_version"`
	ReleaseURL    string    `json:"release_url"`
	CheckedAt     time.Time `json:"checked_at"`
}

// UpdateChecker asks the release endpoint for the newest published version.
// Answers are cached in the state directory for a day.
type UpdateChecker struct {
	releaseURL string
	cachePath  string
	client     *http.Client
}

func newUpdateChecker() *UpdateChecker {
	return &UpdateChecker{
		releaseURL: latestReleaseURL,
		cachePath:  filepath.Join(GetStateDir(), "version_check.json"),
		client:     &http.Client{Timeout: versionCheckTimeout},
	}
}

// Check compares current against the latest release. Development builds
// are never checked.
func (c *UpdateChecker) Check(ctx context.Context, current string) VersionCheckResult {
	result := VersionCheckResult{CurrentVersion: current}
	if current == "dev" || current == "" {
		return result
	}

	cached, ok := c.cached()
	if !ok {
		var err error
		cached, err = c.fetch(ctx, current)
		if err != nil {
			result.Error = err
			return result
		}
		c.store(cached)
	}

	result.LatestVersion = cached.LatestVersion
	result.ReleaseURL = cached.ReleaseURL
	result.UpdateAvailable = compareVersions(cached.LatestVersion, strings.TrimPrefix(current, "v")) > 0
	return result
}

func (c *UpdateChecker) fetch(ctx context.Context, current string) (versionCache, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.releaseURL, nil)
	if err != nil {
		return versionCache{}, fmt.Errorf("failed to create request: %w", err)
	}
	// GitHub rejects requests without a User-Agent
	req.Header.Set("User-Agent", "sf-file-export/"+current)

	resp, err := c.client.Do(req)
	if err != nil {
		return versionCache{}, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return versionCache{}, fmt.Errorf("%w: status %d", ErrVersionCheckFailed, resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return versionCache{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return versionCache{
		LatestVersion: strings.TrimPrefix(release.TagName, "v"),
		ReleaseURL:    release.HTMLURL,
		CheckedAt:     time.Now(),
	}, nil
}

func (c *UpdateChecker) cached() (versionCache, bool) {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return versionCache{}, false
	}
	var entry versionCache
	if err := json.Unmarshal(data, &entry); err != nil || time.Since(entry.CheckedAt) >= versionCacheTTL {
		return versionCache{}, false
	}
	return entry, true
}

func (c *UpdateChecker) store(entry versionCache) {
	_ = os.MkdirAll(filepath.Dir(c.cachePath), 0o755)
	if data, err := json.Marshal(entry); err == nil {
		_ = os.WriteFile(c.cachePath, data, 0o600)
	}
}

// compareVersions compares two semantic version strings
// Returns: 1 if v1 > v2, -1 if v1 < v2, 0 if equal
func compareVersions(v1, v2 string) int {
	a, b := parseVersion(v1), parseVersion(v2)
	for i := range a {
		switch {
		case a[i] > b[i]:
			return 1
		case a[i] < b[i]:
			return -1
		}
	}
	return 0
}

// parseVersion parses "major.minor.patch"; missing or non-numeric parts are 0
func parseVersion(version string) [3]int {
	var parts [3]int
	for i, component := range strings.SplitN(version, ".", 3) {
		_, _ = fmt.Sscanf(component, "%d", &parts[i])
	}
	return parts
}

func formatUpdateMessage(result VersionCheckResult) string {
	return fmt.Sprintf("Update available: v%s → v%s (visit %s)",
		strings.TrimPrefix(result.CurrentVersion, "v"), result.LatestVersion, result.ReleaseURL)
}

// announceUpdate runs the check in the background and logs a notice if it
// finishes within wait
func announceUpdate(ctx context.Context, checker *UpdateChecker, wait time.Duration) {
	done := make(chan VersionCheckResult, 1)
	go func() {
		done <- checker.Check(ctx, Version)
	}()

	select {
	case result := <-done:
		if result.UpdateAvailable {
			logger.Info(fmt.Sprintf("💡 %s", formatUpdateMessage(result)))
		} else if result.Error != nil {
			logger.Debug(fmt.Sprintf("Version check failed: %v", result.Error))
		}
	case <-time.After(wait):
		logger.Debug("Version check taking longer than expected, continuing...")
	}
}
