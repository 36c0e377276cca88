package version

import (
	"fmt"
	"runtime"
)

var (
	version   string
	commit    string
	buildTime string
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Version returns the server version, set at build time with -ldflags.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

// Get returns the build information, with placeholders for values not set
// at link time.
func Get() Info {
	i := Info{
		Version:   Version(),
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if i.Commit == "" {
		i.Commit = "none"
	}
	if i.BuildTime == "" {
		i.BuildTime = "unknown"
	}
	return i
}

// String returns version, commit and build time on one line.
func String() string {
	i := Get()
	return fmt.Sprintf("version: %s, commit: %s, built: %s", i.Version, i.Commit, i.BuildTime)
}
