package store

import (
	"context"
	"time"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

// RunFilter narrows ListRuns.
type RunFilter struct {
	ConnectionID uint
	ScheduleID   uint
	Limit        int
}

const defaultRunLimit = 100

// CreateRun records the start of a job.
func (s *Store) CreateRun(ctx context.Context, r *models.Run) error {
	return s.db.WithContext(ctx).Create(r).Error
}

// SaveRun writes the current state of r.
func (s *Store) SaveRun(ctx context.Context, r *models.Run) error {
	return s.db.WithContext(ctx).Save(r).Error
}

// ListRuns returns the newest runs first.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]models.Run, error) {
	q := s.db.WithContext(ctx).Model(&models.Run{})
	if f.ConnectionID != 0 {
		q = q.Where("connection_id = ?", f.ConnectionID)
	}
	if f.ScheduleID != 0 {
		q = q.Where("schedule_id = ?", f.ScheduleID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	var rows []models.Run
	if err := q.Order("started_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FailRunningRuns marks runs that were still running when the process
// stopped as failed.
func (s *Store) FailRunningRuns(ctx context.Context, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Run{}).
		Where("status = ?", models.JobRunning).
		Updates(map[string]interface{}{
			"status":      models.JobFailed,
			"error":       "interrupted by server restart",
			"finished_at": at,
		})
	return res.RowsAffected, res.Error
}
