package executor

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/artifact"
	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/progress"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage"
)

// BackupRequest asks for a dump of one connection into one target.
type BackupRequest struct {
	ConnectionID uint
	Target       models.Target
	Trigger      models.Trigger
	ScheduleID   *uint
}

// Result describes a finished job. It is returned alongside the error when
// the job got far enough to be registered.
type Result struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename,omitempty"`
	Bytes    int64  `json:"bytes"`
	Attempts int    `json:"attempts"`
}

// Backup dumps the connection's database and publishes the artifact. It
// fails with a conflict error at once when the pair is busy, and blocks for
// a free slot of the concurrency cap otherwise.
func (e *Executor) Backup(ctx context.Context, req BackupRequest) (*Result, error) {
	if req.Trigger == "" {
		req.Trigger = models.TriggerManual
	}
	conn, backend, err := e.resolver.Resolve(ctx, req.ConnectionID, req.Target)
	if err != nil {
		return nil, err
	}
	release, err := e.guard.AcquirePair(conn.ID, req.Target.String())
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, job, done := e.jobs.start(ctx, Job{
		Kind:         models.KindBackup,
		Trigger:      req.Trigger,
		ConnectionID: conn.ID,
		Destination:  req.Target.String(),
		StartedAt:    e.now().UTC(),
	}, e.backupTimeout)
	defer done()

	t := e.track(ctx, job, req.ScheduleID)
	res := &Result{JobID: job.ID}
	err = e.backup(ctx, t, conn, backend, res)
	t.run.Filename = res.Filename
	t.run.Bytes = res.Bytes
	t.run.Attempts = res.Attempts
	t.finish(ctx, err)
	return res, err
}

func (e *Executor) backup(ctx context.Context, t *tracker, conn *models.Connection, backend storage.Backend, res *Result) error {
	releaseSlot, err := e.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer releaseSlot()

	name, err := e.artifactName(ctx, backend)
	if err != nil {
		return err
	}
	res.Filename = name
	t.run.Filename = name
	e.jobs.setFilename(t.job.ID, name)

	staged, err := os.CreateTemp(e.stagingDir, "backup-*.dump")
	if err != nil {
		return errs.Storage(err, "create staging file")
	}
	stagingPath := staged.Name()
	staged.Close()
	// after a successful local publish the file is gone already
	defer os.Remove(stagingPath)

	t.phase("dump")
	res.Attempts, err = e.retry.Do(ctx, func(ctx context.Context) error {
		return e.runner.Dump(ctx, conn, stagingPath)
	}, t.retryNotify("pg_dump"))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fi, err := os.Stat(stagingPath)
	if err != nil {
		return errs.Storage(err, "stat staged dump")
	}
	t.progress.Report(progress.Stat{Phase: "publish", Bytes: uint64(fi.Size())})
	t.logger.Info("dump finished, publishing",
		zap.String("filename", name),
		zap.String("size", humanize.IBytes(uint64(fi.Size()))),
		zap.String("location", backend.Location()))

	res.Bytes, err = backend.Publish(ctx, name, stagingPath)
	return err
}

// artifactName returns a name not yet used in backend, waiting for the next
// second when the current one is taken.
func (e *Executor) artifactName(ctx context.Context, backend storage.Backend) (string, error) {
	for {
		now := e.now().UTC()
		name := artifact.Format(now)
		exists, err := backend.Exists(ctx, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
		wait := now.Truncate(time.Second).Add(time.Second).Sub(now)
		if err := e.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}
