// Package executor runs backups and restores of registered connections.
//
// A backup holds the lock of its (connection, destination) pair and a shared
// lock on the connection; a restore holds the connection exclusively. Both
// take a slot of a process wide semaphore before touching the database and
// stage files under the staging directory, which is cleaned on every exit
// path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Kurdzik/PG-backup-manager/pkg/broker"
	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/lock"
	"github.com/Kurdzik/PG-backup-manager/pkg/metrics"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/pgtool"
	"github.com/Kurdzik/PG-backup-manager/pkg/progress"
	"github.com/Kurdzik/PG-backup-manager/pkg/retry"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage"
)

const (
	defaultMaxConcurrent = 4
	progressInterval     = 30 * time.Second
	recordTimeout        = 10 * time.Second
)

// Resolver opens the backend of a (connection, target) pair.
type Resolver interface {
	Resolve(ctx context.Context, connectionID uint, target models.Target) (*models.Connection, storage.Backend, error)
}

// RunStore persists job history.
type RunStore interface {
	CreateRun(ctx context.Context, r *models.Run) error
	SaveRun(ctx context.Context, r *models.Run) error
}

// Executor runs backup and restore jobs.
type Executor struct {
	resolver Resolver
	runs     RunStore
	runner   pgtool.Runner
	guard    *lock.Guard
	jobs     *Registry
	sem      *semaphore.Weighted
	notifier *broker.Notifier
	retry    retry.Policy

	stagingDir     string
	backupTimeout  time.Duration
	restoreTimeout time.Duration

	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(e *Executor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithMaxConcurrent caps the number of jobs touching databases at once.
func WithMaxConcurrent(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithTimeouts(backup, restore time.Duration) Option {
	return func(e *Executor) {
		e.backupTimeout = backup
		e.restoreTimeout = restore
	}
}

func WithRetry(p retry.Policy) Option {
	return func(e *Executor) {
		e.retry = p
	}
}

// WithNotifier publishes job events.
func WithNotifier(n *broker.Notifier) Option {
	return func(e *Executor) {
		e.notifier = n
	}
}

// WithGuard shares the pair and connection locks with other components.
func WithGuard(g *lock.Guard) Option {
	return func(e *Executor) {
		e.guard = g
	}
}

func withClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// New returns an Executor staging files under stagingDir.
func New(res Resolver, runs RunStore, runner pgtool.Runner, stagingDir string, opts ...Option) (*Executor, error) {
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return nil, errs.Storage(err, "create staging directory %s", stagingDir)
	}
	e := &Executor{
		resolver:   res,
		runs:       runs,
		runner:     runner,
		stagingDir: stagingDir,
		retry:      retry.DefaultPolicy,
		jobs:       NewRegistry(),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sem == nil {
		e.sem = semaphore.NewWeighted(defaultMaxConcurrent)
	}
	if e.guard == nil {
		e.guard = lock.NewGuard()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

// Guard returns the locks used by the executor.
func (e *Executor) Guard() *lock.Guard {
	return e.guard
}

// Jobs lists the running jobs.
func (e *Executor) Jobs() []Job {
	return e.jobs.List()
}

// Cancel stops a running job.
func (e *Executor) Cancel(jobID string) error {
	return e.jobs.Cancel(jobID)
}

// Shutdown cancels all jobs and waits for them to clean up.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.jobs.CancelAll()
	return e.jobs.Wait(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tracker follows one job from start to its recorded outcome.
type tracker struct {
	e        *Executor
	job      *Job
	run      *models.Run
	logger   *zap.Logger
	progress *progress.Progress
	start    time.Time
}

func (e *Executor) track(ctx context.Context, job *Job, scheduleID *uint) *tracker {
	t := &tracker{
		e:   e,
		job: job,
		run: &models.Run{
			JobID:        job.ID,
			Kind:         job.Kind,
			Trigger:      job.Trigger,
			ConnectionID: job.ConnectionID,
			Destination:  job.Destination,
			ScheduleID:   scheduleID,
			Filename:     job.Filename,
			Status:       models.JobRunning,
			StartedAt:    job.StartedAt,
		},
		logger: e.logger.With(
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Uint("connection_id", job.ConnectionID),
			zap.String("destination", job.Destination),
		),
		start: e.now(),
	}

	t.progress = progress.New(progressInterval)
	t.progress.OnUpdate = func(s progress.Stat, elapsed time.Duration, ticker bool) {
		if ticker {
			t.logger.Info("job in progress", zap.String("stat", s.String()), zap.Duration("elapsed", elapsed.Round(time.Second)))
		}
	}
	t.progress.Start()

	if e.runs != nil {
		if err := e.runs.CreateRun(ctx, t.run); err != nil {
			t.logger.Error("failed to record job start", zap.Error(err))
		}
	}
	metrics.JobStarted(string(job.Kind))
	t.notify(broker.JobStarted, "")
	t.logger.Info("job started", zap.String("trigger", string(job.Trigger)))
	return t
}

func (t *tracker) phase(name string) {
	t.progress.Report(progress.Stat{Phase: name})
}

func (t *tracker) notify(event, errMsg string) {
	err := t.e.notifier.Notify(broker.Message{
		EventType:    event,
		JobID:        t.job.ID,
		Kind:         string(t.job.Kind),
		Trigger:      string(t.job.Trigger),
		ConnectionID: t.job.ConnectionID,
		Destination:  t.job.Destination,
		ScheduleID:   t.run.ScheduleID,
		Filename:     t.run.Filename,
		Bytes:        t.run.Bytes,
		Error:        errMsg,
	})
	if err != nil {
		t.logger.Warn("failed to publish job event", zap.String("event", event), zap.Error(err))
	}
}

// finish records the outcome of the job. ctx may already be cancelled.
func (t *tracker) finish(ctx context.Context, err error) {
	t.progress.Done()
	finished := t.e.now().UTC()
	t.run.FinishedAt = &finished

	event := broker.JobSucceeded
	errMsg := ""
	switch {
	case err == nil:
		t.run.Status = models.JobSucceeded
	case errors.Is(err, context.Canceled):
		t.run.Status = models.JobCancelled
		event = broker.JobCancelled
		errMsg = "cancelled"
	default:
		t.run.Status = models.JobFailed
		event = broker.JobFailed
		errMsg = errs.Message(err)
	}
	t.run.Error = errMsg

	took := t.e.now().Sub(t.start)
	metrics.JobFinished(string(t.job.Kind), string(t.job.Trigger), string(t.run.Status), took, t.run.Bytes)

	if t.e.runs != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if serr := t.e.runs.SaveRun(rctx, t.run); serr != nil {
			t.logger.Error("failed to record job outcome", zap.Error(serr))
		}
	}
	t.notify(event, errMsg)

	fields := []zap.Field{zap.String("status", string(t.run.Status)), zap.Duration("took", took.Round(time.Millisecond))}
	if err != nil {
		t.logger.Error("job finished", append(fields, zap.String("error_kind", errs.Kind(err)), zap.Error(err))...)
		return
	}
	t.logger.Info("job finished", fields...)
}

// retryNotify logs and counts each retried attempt.
func (t *tracker) retryNotify(op string) retry.Notify {
	return func(err error, attempt int, wait time.Duration) {
		metrics.RecordRetry()
		t.logger.Warn(fmt.Sprintf("%s failed, retrying", op), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
}

// acquireSlot waits for a free slot of the concurrency cap.
func (e *Executor) acquireSlot(ctx context.Context) (func(), error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { e.sem.Release(1) }, nil
}
