package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kurdzik/PG-backup-manager/pkg/artifact"
	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/lock"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage/local"
)

type fakeResolver struct {
	repo *local.Repository
}

func (f fakeResolver) Resolve(_ context.Context, id uint, _ models.Target) (*models.Connection, storage.Backend, error) {
	if id != 1 {
		return nil, nil, errs.NotFound("connection %d not found", id)
	}
	return &models.Connection{ID: 1}, f.repo, nil
}

func setup(t *testing.T, files ...string) (*Catalog, *local.Repository, *lock.Guard) {
	t.Helper()
	repo, err := local.NewRepository(t.TempDir(), "connection-1")
	require.NoError(t, err)
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(repo.Dir(), name), []byte("x"), 0o600))
	}
	g := lock.NewGuard()
	return New(fakeResolver{repo: repo}, g, nil), repo, g
}

func TestList(t *testing.T) {
	c, _, _ := setup(t,
		"backup_20240101_020000.dump",
		"backup_20240103_020000.dump",
		"notes.txt",
		"backup_2024.dump",
		"backup_20240102_020000.dump",
	)

	got, err := c.List(context.Background(), 1, models.Target{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"backup_20240103_020000.dump",
		"backup_20240102_020000.dump",
		"backup_20240101_020000.dump",
	}, artifact.Names(got))
}

func TestListEmpty(t *testing.T) {
	c, _, _ := setup(t)
	got, err := c.List(context.Background(), 1, models.Target{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDelete(t *testing.T) {
	name := "backup_20240101_020000.dump"
	c, repo, _ := setup(t, name)

	require.NoError(t, c.Delete(context.Background(), 1, models.Target{}, name))
	exists, err := repo.Exists(context.Background(), name)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteErrors(t *testing.T) {
	c, _, g := setup(t, "backup_20240101_020000.dump")

	tests := []struct {
		name     string
		conn     uint
		filename string
		check    func(error) bool
	}{
		{"invalid name", 1, "../../etc/passwd", errdefs.IsInvalidArgument},
		{"missing artifact", 1, "backup_20990101_000000.dump", errdefs.IsNotFound},
		{"missing connection", 2, "backup_20240101_020000.dump", errdefs.IsNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Delete(context.Background(), tc.conn, models.Target{}, tc.filename)
			require.Error(t, err)
			assert.True(t, tc.check(err), err.Error())
		})
	}

	release, err := g.AcquirePair(1, models.LocalDestination)
	require.NoError(t, err)
	err = c.Delete(context.Background(), 1, models.Target{}, "backup_20240101_020000.dump")
	assert.True(t, errdefs.IsConflict(err), "delete must wait for the running backup")
	release()

	assert.NoError(t, c.Delete(context.Background(), 1, models.Target{}, "backup_20240101_020000.dump"))
}
