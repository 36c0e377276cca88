// Package resolver turns a (connection, target) pair into the connection's
// credentials and the storage backend holding its artifacts.
package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/limiter"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/retry"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage/local"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage/s3"
)

// Store reads decrypted credentials.
type Store interface {
	GetConnection(ctx context.Context, id uint) (*models.Connection, error)
	GetDestination(ctx context.Context, id uint) (*models.Destination, error)
}

// S3Factory opens the backend of an S3 destination.
type S3Factory func(d *models.Destination) (storage.Backend, error)

// S3Options are the process wide settings of S3 backends.
type S3Options struct {
	Limiter  limiter.Limiter
	PartSize int64
	Retry    retry.Policy
	Logger   *zap.Logger
}

// NewS3Factory returns a factory building aws backed S3 backends.
func NewS3Factory(o S3Options) S3Factory {
	return func(d *models.Destination) (storage.Backend, error) {
		cfg := s3.ConfigFromDestination(d)
		cfg.Limiter = o.Limiter
		cfg.PartSize = o.PartSize
		opts := []s3.Option{s3.WithRetry(o.Retry)}
		if o.Logger != nil {
			opts = append(opts, s3.WithLogger(o.Logger))
		}
		return s3.New(cfg, opts...)
	}
}

type Resolver struct {
	store     Store
	backupDir string
	newS3     S3Factory
}

func New(st Store, backupDir string, newS3 S3Factory) *Resolver {
	return &Resolver{store: st, backupDir: backupDir, newS3: newS3}
}

// Resolve loads the connection and opens the backend for target. An S3
// destination must belong to the connection.
func (r *Resolver) Resolve(ctx context.Context, connectionID uint, target models.Target) (*models.Connection, storage.Backend, error) {
	c, err := r.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	if target.IsLocal() {
		repo, err := local.NewRepository(r.backupDir, local.DirName(c))
		if err != nil {
			return nil, nil, err
		}
		return c, repo, nil
	}

	d, err := r.store.GetDestination(ctx, target.DestinationID)
	if err != nil {
		return nil, nil, err
	}
	if d.ConnectionID != c.ID {
		return nil, nil, errs.Validation("destination %d does not belong to connection %d", d.ID, c.ID)
	}
	if r.newS3 == nil {
		return nil, nil, errs.Validation("s3 destinations are not configured")
	}
	b, err := r.newS3(d)
	if err != nil {
		return nil, nil, err
	}
	return c, b, nil
}
