// Package version reports build metadata injected with -ldflags, falling
// back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/LiamSnow/liamsnow.com/internal/version.Version=v1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	Dirty     bool      `json:"dirty,omitempty"`
}

// GetBuildInfo returns the binary's build information
func GetBuildInfo() *BuildInfo {
	settings := vcsSettings()

	info := &BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: parseBuildTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:     settings["vcs.modified"] == "true",
	}

	if info.GitCommit == "" || info.GitCommit == "unknown" {
		if rev := settings["vcs.revision"]; rev != "" {
			info.GitCommit = rev
		}
	}
	if info.BuildTime.IsZero() {
		info.BuildTime = parseBuildTime(settings["vcs.time"])
	}
	if (info.Version == "" || info.Version == "dev") && len(info.GitCommit) >= 7 && info.GitCommit != "unknown" {
		info.Version = "dev-" + info.GitCommit[:7]
	}

	return info
}

// String renders one line per field
func (b *BuildInfo) String() string {
	parts := []string{"Version: " + b.Version}

	if b.GitCommit != "unknown" {
		commit := b.GitCommit
		if b.Dirty {
			commit += " (dirty)"
		}
		parts = append(parts, "Commit: "+commit)
	}
	if !b.BuildTime.IsZero() {
		parts = append(parts, "Built: "+b.BuildTime.Format(time.RFC3339))
	}
	parts = append(parts,
		"Go: "+b.GoVersion,
		"Platform: "+b.Platform,
	)

	return strings.Join(parts, "\n")
}

// Short returns "v1.2.0 (abc1234)" style output
func (b *BuildInfo) Short() string {
	if len(b.GitCommit) >= 7 && b.GitCommit != "unknown" && !strings.HasPrefix(b.Version, "dev-") {
		return fmt.Sprintf("%s (%s)", b.Version, b.GitCommit[:7])
	}
	return b.Version
}

func vcsSettings() map[string]string {
	settings := make(map[string]string)
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			settings[s.Key] = s.Value
		}
	}
	return settings
}

func parseBuildTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
