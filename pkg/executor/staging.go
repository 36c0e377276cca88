package executor

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupStaging removes staged dumps and downloads older than olderThan
// from dir. They are left behind only when the process dies mid-job.
func CleanupStaging(dir string, olderThan time.Duration) (removed int, freed int64, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, ".dump") {
			continue
		}
		if !strings.HasPrefix(name, "backup-") && !strings.HasPrefix(name, "restore-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, freed, err
		}
		removed++
		freed += info.Size()
	}
	return removed, freed, nil
}
