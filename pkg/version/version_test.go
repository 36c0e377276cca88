package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, "dev", Version())
	assert.Contains(t, String(), "version: dev,")
	assert.Contains(t, String(), "commit: none")
}

func TestGet(t *testing.T) {
	defer func(v, c, b string) { version, commit, buildTime = v, c, b }(version, commit, buildTime)

	tests := []struct {
		name                  string
		version, commit, date string
		want                  Info
	}{
		{"unset", "", "", "", Info{Version: "dev", Commit: "none", BuildTime: "unknown"}},
		{"release", "v1.2.0", "3f2a9c1", "2024-01-15T02:00:00Z", Info{Version: "v1.2.0", Commit: "3f2a9c1", BuildTime: "2024-01-15T02:00:00Z"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			version, commit, buildTime = tc.version, tc.commit, tc.date
			tc.want.GoVersion = runtime.Version()
			tc.want.Platform = runtime.GOOS + "/" + runtime.GOARCH
			assert.Equal(t, tc.want, Get())
		})
	}
}
