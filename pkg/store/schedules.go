package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

// checkSchedulePair enforces that the destination belongs to the schedule's connection.
func checkSchedulePair(tx *gorm.DB, sc *models.Schedule) error {
	var d models.Destination
	if err := tx.Select("id", "connection_id").First(&d, sc.DestinationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.Validation("destination %d does not exist", sc.DestinationID)
		}
		return err
	}
	if d.ConnectionID != sc.ConnectionID {
		return errs.Validation("destination %d does not belong to connection %d", sc.DestinationID, sc.ConnectionID)
	}
	return nil
}

// CreateSchedule persists sc after checking the connection/destination pair.
// Cron syntax and next_run are the caller's responsibility.
func (s *Store) CreateSchedule(ctx context.Context, sc *models.Schedule) error {
	if err := models.Validate(sc); err != nil {
		return err
	}
	if sc.State == "" {
		sc.State = models.StateIdle
	}
	sc.ID = 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkSchedulePair(tx, sc); err != nil {
			return err
		}
		return tx.Create(sc).Error
	})
	if err != nil {
		return err
	}
	s.logger.Info("schedule created", zap.Uint("schedule_id", sc.ID), zap.String("schedule", sc.Schedule))
	return nil
}

// GetSchedule returns schedule id.
func (s *Store) GetSchedule(ctx context.Context, id uint) (*models.Schedule, error) {
	var sc models.Schedule
	if err := s.db.WithContext(ctx).First(&sc, id).Error; err != nil {
		return nil, notFound(err, "schedule %d not found", id)
	}
	return &sc, nil
}

// ListSchedules returns every schedule ordered by id.
func (s *Store) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	var rows []models.Schedule
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ModifySchedule loads schedule id, applies fn and saves the result, all
// under the schedule's write lock so concurrent edits never lose updates.
func (s *Store) ModifySchedule(ctx context.Context, id uint, fn func(sc *models.Schedule) error) (*models.Schedule, error) {
	defer s.lockEntity("schedule", id)()

	var out models.Schedule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&out, id).Error; err != nil {
			return notFound(err, "schedule %d not found", id)
		}
		before := out
		if err := fn(&out); err != nil {
			return err
		}
		out.ID = id
		if err := models.Validate(&out); err != nil {
			return err
		}
		if out.ConnectionID != before.ConnectionID || out.DestinationID != before.DestinationID {
			if err := checkSchedulePair(tx, &out); err != nil {
				return err
			}
		}
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSchedule removes schedule id.
func (s *Store) DeleteSchedule(ctx context.Context, id uint) error {
	defer s.lockEntity("schedule", id)()

	res := s.db.WithContext(ctx).Delete(&models.Schedule{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("schedule %d not found", id)
	}
	s.logger.Info("schedule deleted", zap.Uint("schedule_id", id))
	return nil
}

// ResetRunningSchedules moves every schedule left in the running state back
// to idle and records the interrupted run as failed.
func (s *Store) ResetRunningSchedules(ctx context.Context, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Schedule{}).
		Where("state = ?", models.StateRunning).
		Updates(map[string]interface{}{
			"state":           models.StateIdle,
			"last_run":        at,
			"last_run_status": models.StatusFailed,
			"last_error":      "interrupted by server restart",
		})
	return res.RowsAffected, res.Error
}
