package store

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

// DestinationFilter narrows ListDestinations. Zero values mean no filter,
// page 1 and no limit.
type DestinationFilter struct {
	ConnectionID uint
	Page         int
	Limit        int
}

func normalizePrefix(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

func (s *Store) sealDestination(d models.Destination) (models.Destination, error) {
	var err error
	if d.AccessKeyID, err = s.seal(d.AccessKeyID); err != nil {
		return d, err
	}
	if d.SecretAccessKey, err = s.seal(d.SecretAccessKey); err != nil {
		return d, err
	}
	return d, nil
}

func (s *Store) openDestination(d *models.Destination) error {
	var err error
	if d.AccessKeyID, err = s.open(d.AccessKeyID); err != nil {
		return err
	}
	d.SecretAccessKey, err = s.open(d.SecretAccessKey)
	return err
}

func (s *Store) checkDestination(tx *gorm.DB, d *models.Destination) error {
	ok, err := s.connectionExists(tx, d.ConnectionID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Validation("connection %d does not exist", d.ConnectionID)
	}
	var n int64
	if err := tx.Model(&models.Destination{}).Where("name = ? AND id <> ?", d.Name, d.ID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return errs.Conflict("destination name %q already exists", d.Name)
	}
	return nil
}

func duplicateName(err error, name string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errs.Conflict("destination name %q already exists", name)
	}
	return err
}

// CreateDestination validates and persists d.
func (s *Store) CreateDestination(ctx context.Context, d *models.Destination) error {
	d.PathPrefix = normalizePrefix(d.PathPrefix)
	if err := models.Validate(d); err != nil {
		return err
	}
	row, err := s.sealDestination(*d)
	if err != nil {
		return err
	}
	row.ID = 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkDestination(tx, &row); err != nil {
			return err
		}
		return duplicateName(tx.Create(&row).Error, row.Name)
	})
	if err != nil {
		return err
	}
	d.ID, d.CreatedAt, d.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
	s.logger.Info("destination created", zap.Uint("destination_id", row.ID), zap.Uint("connection_id", row.ConnectionID))
	return nil
}

// GetDestination returns the destination with both keys decrypted.
func (s *Store) GetDestination(ctx context.Context, id uint) (*models.Destination, error) {
	var d models.Destination
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, notFound(err, "destination %d not found", id)
	}
	if err := s.openDestination(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDestinations returns a page of destinations without secret keys and
// the total number of matching rows.
func (s *Store) ListDestinations(ctx context.Context, f DestinationFilter) ([]models.Destination, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Destination{})
	if f.ConnectionID != 0 {
		q = q.Where("connection_id = ?", f.ConnectionID)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * f.Limit).Limit(f.Limit)
	}
	var rows []models.Destination
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	for i := range rows {
		if err := s.openDestination(&rows[i]); err != nil {
			return nil, 0, err
		}
		rows[i] = rows[i].Redacted()
	}
	return rows, total, nil
}

// UpdateDestination replaces the fields of destination id with in. Empty
// keys keep the stored ones. Moving a destination to another connection is
// refused while schedules reference it.
func (s *Store) UpdateDestination(ctx context.Context, id uint, in models.Destination) (*models.Destination, error) {
	defer s.lockEntity("destination", id)()

	current, err := s.GetDestination(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := in
	merged.ID = id
	merged.CreatedAt = current.CreatedAt
	merged.PathPrefix = normalizePrefix(merged.PathPrefix)
	if merged.ConnectionID == 0 {
		merged.ConnectionID = current.ConnectionID
	}
	if merged.AccessKeyID == "" {
		merged.AccessKeyID = current.AccessKeyID
	}
	if merged.SecretAccessKey == "" {
		merged.SecretAccessKey = current.SecretAccessKey
	}
	if err := models.Validate(&merged); err != nil {
		return nil, err
	}

	row, err := s.sealDestination(merged)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if merged.ConnectionID != current.ConnectionID {
			var n int64
			if err := tx.Model(&models.Schedule{}).Where("destination_id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return errs.Conflict("destination %d is used by %d schedule(s) and cannot move to another connection", id, n)
			}
		}
		if err := s.checkDestination(tx, &row); err != nil {
			return err
		}
		return duplicateName(tx.Save(&row).Error, row.Name)
	})
	if err != nil {
		return nil, err
	}
	merged.UpdatedAt = row.UpdatedAt
	s.logger.Info("destination updated", zap.Uint("destination_id", id))
	return &merged, nil
}

// DeleteDestination removes destination id. Referencing schedules block the
// delete unless force is set.
func (s *Store) DeleteDestination(ctx context.Context, id uint, force bool) error {
	defer s.lockEntity("destination", id)()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d models.Destination
		if err := tx.Select("id").First(&d, id).Error; err != nil {
			return notFound(err, "destination %d not found", id)
		}
		var n int64
		if err := tx.Model(&models.Schedule{}).Where("destination_id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 && !force {
			return errs.Conflict("destination %d is referenced by %d schedule(s); delete them first or retry with force=true", id, n)
		}
		if err := tx.Where("destination_id = ?", id).Delete(&models.Schedule{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Destination{}, id).Error
	})
	if err != nil {
		return err
	}
	s.logger.Info("destination deleted", zap.Uint("destination_id", id), zap.Bool("force", force))
	return nil
}
