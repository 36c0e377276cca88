// Package artifact names backup files. A name encodes its creation time as
// backup_YYYYMMDD_HHMMSS.dump in UTC; the fixed width makes lexical order
// equal to chronological order.
package artifact

import (
	"regexp"
	"sort"
	"time"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
)

const (
	prefix     = "backup_"
	suffix     = ".dump"
	timeLayout = "20060102_150405"
)

var namePattern = regexp.MustCompile(`^backup_\d{8}_\d{6}\.dump$`)

// Artifact is one completed backup file.
type Artifact struct {
	Name      string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

// Format returns the artifact name for t, truncated to the second.
func Format(t time.Time) string {
	return prefix + t.UTC().Format(timeLayout) + suffix
}

// Parse returns the artifact described by name.
func Parse(name string) (Artifact, error) {
	if !namePattern.MatchString(name) {
		return Artifact{}, errs.Validation("invalid backup filename %q, want backup_YYYYMMDD_HHMMSS.dump", name)
	}
	ts := name[len(prefix) : len(name)-len(suffix)]
	t, err := time.ParseInLocation(timeLayout, ts, time.UTC)
	if err != nil {
		return Artifact{}, errs.Validation("invalid timestamp in backup filename %q", name)
	}
	return Artifact{Name: name, CreatedAt: t}, nil
}

// Valid reports whether name is a well formed artifact name.
func Valid(name string) bool {
	_, err := Parse(name)
	return err == nil
}

// FromNames parses names, drops everything that is not an artifact and
// returns the rest newest first.
func FromNames(names []string) []Artifact {
	out := make([]Artifact, 0, len(names))
	for _, n := range names {
		a, err := Parse(n)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders artifacts by descending creation time.
func SortNewestFirst(as []Artifact) {
	sort.SliceStable(as, func(i, j int) bool {
		return as[i].CreatedAt.After(as[j].CreatedAt)
	})
}

// Names returns the names of as in order.
func Names(as []Artifact) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Name
	}
	return out
}
