package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

// CreateConnection validates and persists c. On success c.ID and the
// timestamps are set; c.Password stays plaintext in the caller's copy.
func (s *Store) CreateConnection(ctx context.Context, c *models.Connection) error {
	if err := models.Validate(c); err != nil {
		return err
	}
	row := *c
	row.ID = 0
	var err error
	if row.Password, err = s.seal(c.Password); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	c.ID, c.CreatedAt, c.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
	s.logger.Info("connection created", zap.Uint("connection_id", row.ID), zap.String("address", c.Address()))
	return nil
}

// GetConnection returns the connection with its password decrypted.
func (s *Store) GetConnection(ctx context.Context, id uint) (*models.Connection, error) {
	var c models.Connection
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, "connection %d not found", id)
	}
	var err error
	if c.Password, err = s.open(c.Password); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConnections returns every connection without passwords.
func (s *Store) ListConnections(ctx context.Context) ([]models.Connection, error) {
	var rows []models.Connection
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i] = rows[i].Redacted()
	}
	return rows, nil
}

// UpdateConnection replaces the fields of connection id with in.
// An empty password keeps the stored one.
func (s *Store) UpdateConnection(ctx context.Context, id uint, in models.Connection) (*models.Connection, error) {
	defer s.lockEntity("connection", id)()

	current, err := s.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := in
	merged.ID = id
	merged.CreatedAt = current.CreatedAt
	if merged.Password == "" {
		merged.Password = current.Password
	}
	if err := models.Validate(&merged); err != nil {
		return nil, err
	}

	row := merged
	if row.Password, err = s.seal(merged.Password); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return nil, err
	}
	merged.UpdatedAt = row.UpdatedAt
	s.logger.Info("connection updated", zap.Uint("connection_id", id))
	return &merged, nil
}

// DeleteConnection removes connection id. When destinations or schedules
// still reference it the delete fails with a conflict unless force is set,
// in which case the dependents are removed in the same transaction.
func (s *Store) DeleteConnection(ctx context.Context, id uint, force bool) error {
	defer s.lockEntity("connection", id)()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Connection
		if err := tx.Select("id").First(&c, id).Error; err != nil {
			return notFound(err, "connection %d not found", id)
		}

		var destinations, schedules int64
		if err := tx.Model(&models.Destination{}).Where("connection_id = ?", id).Count(&destinations).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Schedule{}).Where("connection_id = ?", id).Count(&schedules).Error; err != nil {
			return err
		}
		if (destinations > 0 || schedules > 0) && !force {
			return errs.Conflict("connection %d is referenced by %d destination(s) and %d schedule(s); delete them first or retry with force=true",
				id, destinations, schedules)
		}

		if err := tx.Where("connection_id = ?", id).Delete(&models.Schedule{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&models.Destination{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Connection{}, id).Error
	})
	if err != nil {
		return err
	}
	s.logger.Info("connection deleted", zap.Uint("connection_id", id), zap.Bool("force", force))
	return nil
}

func (s *Store) connectionExists(tx *gorm.DB, id uint) (bool, error) {
	var c models.Connection
	err := tx.Select("id").First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}
