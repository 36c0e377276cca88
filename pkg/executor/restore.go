package executor

import (
	"context"
	"os"

	"github.com/containerd/errdefs"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/artifact"
	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/progress"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage"
)

// RestoreRequest asks to load one artifact into the connection's database.
type RestoreRequest struct {
	ConnectionID uint
	Target       models.Target
	Filename     string
	Trigger      models.Trigger
}

// Restore replaces the connection's database with the artifact. The
// connection is held exclusively, so it fails with a conflict error while
// any backup or restore of the connection runs.
func (e *Executor) Restore(ctx context.Context, req RestoreRequest) (*Result, error) {
	if !artifact.Valid(req.Filename) {
		return nil, errs.Validation("invalid backup filename %q", req.Filename)
	}
	if req.Trigger == "" {
		req.Trigger = models.TriggerManual
	}
	conn, backend, err := e.resolver.Resolve(ctx, req.ConnectionID, req.Target)
	if err != nil {
		return nil, err
	}
	release, err := e.guard.AcquireConnection(conn.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, job, done := e.jobs.start(ctx, Job{
		Kind:         models.KindRestore,
		Trigger:      req.Trigger,
		ConnectionID: conn.ID,
		Destination:  req.Target.String(),
		Filename:     req.Filename,
		StartedAt:    e.now().UTC(),
	}, e.restoreTimeout)
	defer done()

	t := e.track(ctx, job, nil)
	res := &Result{JobID: job.ID, Filename: req.Filename}
	err = e.restore(ctx, t, conn, backend, res)
	t.run.Bytes = res.Bytes
	t.run.Attempts = res.Attempts
	t.finish(ctx, err)
	return res, err
}

func (e *Executor) restore(ctx context.Context, t *tracker, conn *models.Connection, backend storage.Backend, res *Result) error {
	releaseSlot, err := e.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer releaseSlot()

	exists, err := backend.Exists(ctx, res.Filename)
	if err != nil {
		return err
	}
	if !exists {
		return errs.NotFound("backup %s not found in %s", res.Filename, backend.Location())
	}

	t.phase("fetch")
	path, cleanup, err := backend.Fetch(ctx, res.Filename, e.stagingDir)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errdefs.IsNotFound(err) || errdefs.IsInternal(err) {
			return err
		}
		return errs.Storage(err, "download %s", res.Filename)
	}
	defer cleanup()
	if fi, err := os.Stat(path); err == nil {
		res.Bytes = fi.Size()
		t.progress.Report(progress.Stat{Bytes: uint64(fi.Size())})
	}

	t.phase("restore")
	t.logger.Info("restoring artifact", zap.String("filename", res.Filename), zap.String("location", backend.Location()))
	res.Attempts, err = e.retry.Do(ctx, func(ctx context.Context) error {
		return e.runner.Restore(ctx, conn, path)
	}, t.retryNotify("pg_restore"))
	return err
}
