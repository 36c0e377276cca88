package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/secret"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	c, err := secret.NewCipher("test-secret")
	require.NoError(t, err)
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "meta.db"), c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConnection() *models.Connection {
	return &models.Connection{Host: "db1", Port: 5432, DBName: "app", User: "u", Password: "p"}
}

func testDestination(connID uint, name string) *models.Destination {
	return &models.Destination{
		ConnectionID:    connID,
		Name:            name,
		EndpointURL:     "https://s3.example.com",
		Region:          "us-east-1",
		BucketName:      "backups",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
		PathPrefix:      "/nightly/",
		UseSSL:          true,
		VerifySSL:       true,
	}
}

func TestConnectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := testConnection()
	require.NoError(t, s.CreateConnection(ctx, c))
	require.NotZero(t, c.ID)
	assert.Equal(t, "p", c.Password)

	var raw models.Connection
	require.NoError(t, s.db.First(&raw, c.ID).Error)
	assert.NotEqual(t, "p", raw.Password, "password must be sealed at rest")

	got, err := s.GetConnection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "p", got.Password)

	list, err := s.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Password)

	updated, err := s.UpdateConnection(ctx, c.ID, models.Connection{Host: "db2", Port: 5433, DBName: "app", User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "db2", updated.Host)
	assert.Equal(t, "p", updated.Password, "empty password keeps the stored one")

	_, err = s.UpdateConnection(ctx, c.ID, models.Connection{Port: 5433, DBName: "app", User: "u"})
	assert.True(t, errdefs.IsInvalidArgument(err))

	_, err = s.GetConnection(ctx, 999)
	assert.True(t, errdefs.IsNotFound(err))

	require.NoError(t, s.DeleteConnection(ctx, c.ID, false))
	assert.True(t, errdefs.IsNotFound(s.DeleteConnection(ctx, c.ID, false)))
}

func TestCreateConnectionValidation(t *testing.T) {
	s := newTestStore(t)
	c := testConnection()
	c.Host = ""
	err := s.CreateConnection(context.Background(), c)
	assert.True(t, errdefs.IsInvalidArgument(err))

	list, err := s.ListConnections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteConnectionWithDependents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := testConnection()
	require.NoError(t, s.CreateConnection(ctx, c))
	d := testDestination(c.ID, "primary")
	require.NoError(t, s.CreateDestination(ctx, d))
	sc := &models.Schedule{ConnectionID: c.ID, DestinationID: d.ID, Schedule: "0 2 * * *", Enabled: true}
	require.NoError(t, s.CreateSchedule(ctx, sc))

	err := s.DeleteConnection(ctx, c.ID, false)
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))

	_, err = s.GetConnection(ctx, c.ID)
	require.NoError(t, err, "blocked delete must not remove anything")

	err = s.DeleteDestination(ctx, d.ID, false)
	assert.True(t, errdefs.IsConflict(err))

	require.NoError(t, s.DeleteConnection(ctx, c.ID, true))
	_, err = s.GetDestination(ctx, d.ID)
	assert.True(t, errdefs.IsNotFound(err))
	_, err = s.GetSchedule(ctx, sc.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestDestinations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c1, c2 := testConnection(), testConnection()
	require.NoError(t, s.CreateConnection(ctx, c1))
	require.NoError(t, s.CreateConnection(ctx, c2))

	d := testDestination(c1.ID, "primary")
	require.NoError(t, s.CreateDestination(ctx, d))
	assert.Equal(t, "nightly", d.PathPrefix)

	dup := testDestination(c2.ID, "primary")
	assert.True(t, errdefs.IsConflict(s.CreateDestination(ctx, dup)))

	orphan := testDestination(999, "orphan")
	assert.True(t, errdefs.IsInvalidArgument(s.CreateDestination(ctx, orphan)))

	for _, name := range []string{"b", "c", "d"} {
		require.NoError(t, s.CreateDestination(ctx, testDestination(c2.ID, name)))
	}

	page, total, err := s.ListDestinations(ctx, DestinationFilter{ConnectionID: c2.ID, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, "d", page[0].Name)
	assert.Empty(t, page[0].SecretAccessKey)
	assert.Equal(t, "AKIA", page[0].AccessKeyID)

	full, err := s.GetDestination(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", full.SecretAccessKey)

	upd := *testDestination(c1.ID, "renamed")
	upd.SecretAccessKey = ""
	got, err := s.UpdateDestination(ctx, d.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "secret", got.SecretAccessKey)
}

func TestDestinationMoveBlockedBySchedule(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c1, c2 := testConnection(), testConnection()
	require.NoError(t, s.CreateConnection(ctx, c1))
	require.NoError(t, s.CreateConnection(ctx, c2))
	d := testDestination(c1.ID, "primary")
	require.NoError(t, s.CreateDestination(ctx, d))
	require.NoError(t, s.CreateSchedule(ctx, &models.Schedule{ConnectionID: c1.ID, DestinationID: d.ID, Schedule: "@daily"}))

	moved := *testDestination(c2.ID, "primary")
	_, err := s.UpdateDestination(ctx, d.ID, moved)
	assert.True(t, errdefs.IsConflict(err))
}

func TestSchedulePairInvariant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c1, c2 := testConnection(), testConnection()
	require.NoError(t, s.CreateConnection(ctx, c1))
	require.NoError(t, s.CreateConnection(ctx, c2))
	d := testDestination(c1.ID, "primary")
	require.NoError(t, s.CreateDestination(ctx, d))

	err := s.CreateSchedule(ctx, &models.Schedule{ConnectionID: c2.ID, DestinationID: d.ID, Schedule: "0 2 * * *"})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))

	sc := &models.Schedule{ConnectionID: c1.ID, DestinationID: d.ID, Schedule: "0 2 * * *"}
	require.NoError(t, s.CreateSchedule(ctx, sc))
	assert.Equal(t, models.StateIdle, sc.State)

	_, err = s.ModifySchedule(ctx, sc.ID, func(m *models.Schedule) error {
		m.ConnectionID = c2.ID
		return nil
	})
	assert.True(t, errdefs.IsInvalidArgument(err))

	got, err := s.ModifySchedule(ctx, sc.ID, func(m *models.Schedule) error {
		m.Schedule = "30 4 * * 1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "30 4 * * 1", got.Schedule)
}

func TestModifyScheduleConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := testConnection()
	require.NoError(t, s.CreateConnection(ctx, c))
	d := testDestination(c.ID, "primary")
	require.NoError(t, s.CreateDestination(ctx, d))
	sc := &models.Schedule{ConnectionID: c.ID, DestinationID: d.ID, Schedule: "* * * * *"}
	require.NoError(t, s.CreateSchedule(ctx, sc))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ModifySchedule(ctx, sc.ID, func(m *models.Schedule) error {
				m.LastError += "x"
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "xxxxxxxxxx", got.LastError, "no update may be lost")
}

func TestResetRunningSchedules(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := testConnection()
	require.NoError(t, s.CreateConnection(ctx, c))
	d := testDestination(c.ID, "primary")
	require.NoError(t, s.CreateDestination(ctx, d))
	sc := &models.Schedule{ConnectionID: c.ID, DestinationID: d.ID, Schedule: "* * * * *", Enabled: true, State: models.StateRunning}
	require.NoError(t, s.CreateSchedule(ctx, sc))

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	n, err := s.ResetRunningSchedules(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, got.State)
	assert.Equal(t, models.StatusFailed, got.LastRunStatus)
	require.NotNil(t, got.LastRun)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		r := &models.Run{JobID: id, Kind: models.KindBackup, Trigger: models.TriggerManual, ConnectionID: 1,
			Destination: "local", Status: models.JobRunning, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.CreateRun(ctx, r))
	}

	n, err := s.FailRunningRuns(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	runs, err := s.ListRuns(ctx, RunFilter{ConnectionID: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].JobID)
	assert.Equal(t, models.JobFailed, runs[0].Status)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.CreateUser(ctx, "admin", "short")
	assert.True(t, errdefs.IsInvalidArgument(err))

	u, err := s.CreateUser(ctx, "admin", "long-enough")
	require.NoError(t, err)
	assert.NotEmpty(t, u.PasswordHash)

	_, err = s.CreateUser(ctx, "admin", "long-enough")
	assert.True(t, errdefs.IsConflict(err))

	_, err = s.Authenticate(ctx, "admin", "long-enough")
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, "admin", "wrong-password")
	require.Error(t, err)
	_, err = s.Authenticate(ctx, "nobody", "long-enough")
	require.Error(t, err)
}

func TestCreateFirstUserOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const attempts = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created []string
		errList []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.CreateFirstUser(ctx, "admin"+string(rune('a'+i)), "long-enough")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errList = append(errList, err)
				return
			}
			created = append(created, u.Username)
		}(i)
	}
	wg.Wait()

	assert.Len(t, created, 1)
	require.Len(t, errList, attempts-1)
	for _, err := range errList {
		assert.True(t, errdefs.IsUnauthorized(err), err.Error())
	}
	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.CreateUser(ctx, "second", "long-enough")
	require.NoError(t, err, "regular creation is not limited to the first account")
}
