package scheduler

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
)

// Only plain five field expressions: no seconds, no descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse checks a cron expression of the form "minute hour dom month dow".
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errs.Validation("schedule is required")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, errs.Validation("invalid schedule %q: time zones are not supported", expr)
	}
	spec, err := parser.Parse(expr)
	if err != nil {
		return nil, errs.Validation("invalid schedule %q: %v", expr, err)
	}
	return spec, nil
}

// NextRun returns the first activation of expr strictly after t.
func NextRun(expr string, t time.Time) (time.Time, error) {
	spec, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(t), nil
}
