// Package catalog lists and deletes the artifacts of a connection.
package catalog

import (
	"context"

	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/artifact"
	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/lock"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage"
)

// Resolver opens the backend of a (connection, target) pair.
type Resolver interface {
	Resolve(ctx context.Context, connectionID uint, target models.Target) (*models.Connection, storage.Backend, error)
}

type Catalog struct {
	resolver Resolver
	guard    *lock.Guard
	logger   *zap.Logger
}

// New returns a Catalog. guard must be the executor's so a delete never
// races a running backup.
func New(res Resolver, guard *lock.Guard, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{resolver: res, guard: guard, logger: logger}
}

// List returns the artifacts of the pair, newest first. Objects not named
// like an artifact are ignored.
func (c *Catalog) List(ctx context.Context, connectionID uint, target models.Target) ([]artifact.Artifact, error) {
	_, backend, err := c.resolver.Resolve(ctx, connectionID, target)
	if err != nil {
		return nil, err
	}
	names, err := backend.List(ctx)
	if err != nil {
		return nil, err
	}
	return artifact.FromNames(names), nil
}

// Delete removes one artifact. It fails with a conflict error while a
// backup of the pair is running.
func (c *Catalog) Delete(ctx context.Context, connectionID uint, target models.Target, filename string) error {
	if !artifact.Valid(filename) {
		return errs.Validation("invalid backup filename %q", filename)
	}
	conn, backend, err := c.resolver.Resolve(ctx, connectionID, target)
	if err != nil {
		return err
	}
	release, err := c.guard.AcquirePair(conn.ID, target.String())
	if err != nil {
		return err
	}
	defer release()

	if err := backend.Delete(ctx, filename); err != nil {
		return err
	}
	c.logger.Info("backup deleted",
		zap.Uint("connection_id", conn.ID),
		zap.String("destination", target.String()),
		zap.String("filename", filename))
	return nil
}
