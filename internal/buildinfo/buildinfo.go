// Package buildinfo reports the build stamped into the binary with
// -ldflags "-X github.com/nugget/loresmith/internal/buildinfo.Version=...".
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Build describes the running binary. It is served by /api/version and
// printed by the version command.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	Branch    string `json:"git_branch"`
	BuiltAt   string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Uptime    string `json:"uptime"`
}

// Current snapshots the build metadata and process uptime.
func Current() Build {
	return Build{
		Version:   Version,
		Commit:    GitCommit,
		Branch:    GitBranch,
		BuiltAt:   BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Uptime:    time.Since(started).Truncate(time.Second).String(),
	}
}

// Fields returns the build as ordered label/value pairs for text output.
func (b Build) Fields() [][2]string {
	return [][2]string{
		{"version", b.Version},
		{"commit", b.Commit + "@" + b.Branch},
		{"built", b.BuiltAt},
		{"go", b.GoVersion},
		{"platform", b.Platform},
	}
}

func (b Build) String() string {
	return fmt.Sprintf("Loresmith %s (%s@%s) built %s", b.Version, b.Commit, b.Branch, b.BuiltAt)
}

// UserAgent identifies outbound requests. MediaWiki hosts throttle
// anonymous clients harder than ones naming a project and contact URL.
func UserAgent() string {
	return "Loresmith/" + Version + " (+https://github.com/nugget/loresmith)"
}
