// Package scheduler runs backups on cron schedules.
//
// Enabled schedules sit in a priority queue ordered by next activation. A
// single ticker pops the due entries and hands each idle schedule to the
// backup executor in its own goroutine, so a tick never waits for a backup.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/executor"
	"github.com/Kurdzik/PG-backup-manager/pkg/metrics"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

const (
	DefaultTick   = time.Minute
	recordTimeout = 10 * time.Second
)

// Store persists schedules.
type Store interface {
	CreateSchedule(ctx context.Context, sc *models.Schedule) error
	GetSchedule(ctx context.Context, id uint) (*models.Schedule, error)
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
	ModifySchedule(ctx context.Context, id uint, fn func(sc *models.Schedule) error) (*models.Schedule, error)
	DeleteSchedule(ctx context.Context, id uint) error
	ResetRunningSchedules(ctx context.Context, at time.Time) (int64, error)
	FailRunningRuns(ctx context.Context, at time.Time) (int64, error)
}

// Backuper runs one backup.
type Backuper interface {
	Backup(ctx context.Context, req executor.BackupRequest) (*executor.Result, error)
}

type Scheduler struct {
	store    Store
	backuper Backuper
	tick     time.Duration
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	queue *queue

	runCtx   context.Context
	stop     context.CancelFunc
	loopWg   sync.WaitGroup
	inFlight sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(s *Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithTick sets how often due schedules are checked.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithLocation sets the time zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(st Store, b Backuper, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		backuper: b,
		tick:     DefaultTick,
		loc:      time.Local,
		now:      time.Now,
		queue:    newQueue(),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *Scheduler) clock() time.Time {
	return s.now().In(s.loc)
}

// Create validates and stores a schedule. Enabled schedules get their first
// activation right away.
func (s *Scheduler) Create(ctx context.Context, in models.Schedule) (*models.Schedule, error) {
	spec, err := Parse(in.Schedule)
	if err != nil {
		return nil, err
	}
	sc := models.Schedule{
		ConnectionID:  in.ConnectionID,
		DestinationID: in.DestinationID,
		Schedule:      in.Schedule,
		Enabled:       in.Enabled,
		State:         models.StateIdle,
	}
	if sc.Enabled {
		next := spec.Next(s.clock()).UTC()
		sc.NextRun = &next
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.CreateSchedule(ctx, &sc); err != nil {
		return nil, err
	}
	if sc.Enabled {
		s.queue.upsert(sc.ID, spec, *sc.NextRun)
	}
	return &sc, nil
}

// Update carries the fields of a schedule edit; nil fields are kept.
type Update struct {
	ConnectionID  *uint
	DestinationID *uint
	Schedule      *string
	Enabled       *bool
}

// Update edits a schedule. A run in flight is not interrupted; next_run is
// recomputed from now when the expression or the enabled flag changes.
func (s *Scheduler) Update(ctx context.Context, id uint, u Update) (*models.Schedule, error) {
	if u.Schedule != nil {
		if _, err := Parse(*u.Schedule); err != nil {
			return nil, err
		}
	}
	return s.modify(ctx, id, func(sc *models.Schedule) {
		if u.ConnectionID != nil {
			sc.ConnectionID = *u.ConnectionID
		}
		if u.DestinationID != nil {
			sc.DestinationID = *u.DestinationID
		}
		if u.Schedule != nil {
			sc.Schedule = *u.Schedule
		}
		if u.Enabled != nil {
			sc.Enabled = *u.Enabled
		}
	})
}

func (s *Scheduler) Enable(ctx context.Context, id uint) (*models.Schedule, error) {
	enabled := true
	return s.Update(ctx, id, Update{Enabled: &enabled})
}

func (s *Scheduler) Disable(ctx context.Context, id uint) (*models.Schedule, error) {
	enabled := false
	return s.Update(ctx, id, Update{Enabled: &enabled})
}

// modify applies fn and keeps next_run and the queue in step with the result.
func (s *Scheduler) modify(ctx context.Context, id uint, fn func(sc *models.Schedule)) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		changed bool
		spec    cron.Schedule
	)
	sc, err := s.store.ModifySchedule(ctx, id, func(sc *models.Schedule) error {
		before := *sc
		fn(sc)
		changed = sc.Schedule != before.Schedule || sc.Enabled != before.Enabled
		if !changed {
			return nil
		}
		if !sc.Enabled {
			sc.NextRun = nil
			return nil
		}
		parsed, err := Parse(sc.Schedule)
		if err != nil {
			return err
		}
		spec = parsed
		next := parsed.Next(s.clock()).UTC()
		sc.NextRun = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		if sc.Enabled {
			s.queue.upsert(sc.ID, spec, *sc.NextRun)
		} else {
			s.queue.remove(sc.ID)
		}
	}
	return sc, nil
}

// Delete removes a schedule. A run in flight finishes normally.
func (s *Scheduler) Delete(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.queue.remove(id)
	return nil
}

func (s *Scheduler) Get(ctx context.Context, id uint) (*models.Schedule, error) {
	return s.store.GetSchedule(ctx, id)
}

func (s *Scheduler) List(ctx context.Context) ([]models.Schedule, error) {
	return s.store.ListSchedules(ctx)
}

// Start recovers schedules interrupted by a restart, loads the enabled ones
// and starts ticking. Activations missed while the process was down are not
// caught up.
func (s *Scheduler) Start(ctx context.Context) error {
	now := s.clock()
	n, err := s.store.ResetRunningSchedules(ctx, now.UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("reset schedules interrupted by restart", zap.Int64("count", n))
	}
	if _, err := s.store.FailRunningRuns(ctx, now.UTC()); err != nil {
		return err
	}

	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, sc := range schedules {
		if !sc.Enabled {
			continue
		}
		spec, err := Parse(sc.Schedule)
		if err != nil {
			s.logger.Error("skipping schedule with invalid expression", zap.Uint("schedule_id", sc.ID), zap.Error(err))
			continue
		}
		next := spec.Next(now).UTC()
		s.queue.upsert(sc.ID, spec, next)
		if sc.NextRun == nil || !sc.NextRun.Equal(next) {
			s.persistNextRun(ctx, sc.ID, next)
		}
	}
	loaded := s.queue.len()
	s.mu.Unlock()

	s.runCtx, s.stop = context.WithCancel(context.WithoutCancel(ctx))
	s.loopWg.Add(1)
	go s.loop()
	s.logger.Info("scheduler started", zap.Int("schedules", loaded), zap.Duration("tick", s.tick))
	return nil
}

func (s *Scheduler) persistNextRun(ctx context.Context, id uint, next time.Time) {
	_, err := s.store.ModifySchedule(ctx, id, func(sc *models.Schedule) error {
		sc.NextRun = &next
		return nil
	})
	if err != nil {
		s.logger.Error("failed to store next run", zap.Uint("schedule_id", id), zap.Error(err))
	}
}

// loop ticks at multiples of the tick interval.
func (s *Scheduler) loop() {
	defer s.loopWg.Done()
	for {
		now := s.clock()
		wait := now.Truncate(s.tick).Add(s.tick).Sub(now)
		t := time.NewTimer(wait)
		select {
		case <-s.runCtx.Done():
			t.Stop()
			return
		case <-t.C:
			s.Tick(s.clock().Truncate(s.tick))
		}
	}
}

// Tick dispatches every schedule due at t and returns their ids.
func (s *Scheduler) Tick(t time.Time) []uint {
	s.mu.Lock()
	ids := s.queue.due(t)
	s.mu.Unlock()

	for _, id := range ids {
		s.inFlight.Add(1)
		go func(id uint) {
			defer s.inFlight.Done()
			s.dispatch(id, t)
		}(id)
	}
	return ids
}

// Wait blocks until every dispatched run has been recorded.
func (s *Scheduler) Wait() {
	s.inFlight.Wait()
}

// Stop ends the tick loop, cancels dispatched runs and waits for them.
func (s *Scheduler) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.loopWg.Wait()
	s.inFlight.Wait()
}

var errNotIdle = errors.New("schedule is not idle")

// nextRun reads the queued activation of id. Never call it while holding a
// store lock: modify takes s.mu before the store's.
func (s *Scheduler) nextRun(id uint) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.next(id)
}

func (s *Scheduler) forget(id uint) {
	s.mu.Lock()
	s.queue.remove(id)
	s.mu.Unlock()
}

// dispatch runs one activation of schedule id at tick t.
func (s *Scheduler) dispatch(id uint, t time.Time) {
	logger := s.logger.With(zap.Uint("schedule_id", id), zap.Time("tick", t))

	next, queued := s.nextRun(id)
	sc, err := s.store.ModifySchedule(s.runCtx, id, func(sc *models.Schedule) error {
		if !sc.Enabled || sc.State != models.StateIdle {
			return errNotIdle
		}
		sc.State = models.StateRunning
		if queued {
			sc.NextRun = &next
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errNotIdle) {
			logger.Info("previous run still in progress, skipping activation")
			metrics.RecordDispatch("overlap")
			return
		}
		if errdefs.IsNotFound(err) {
			// removed together with its connection or destination
			s.forget(id)
			logger.Info("schedule no longer exists, dropping it")
			return
		}
		logger.Error("failed to start scheduled backup", zap.Error(err))
		return
	}

	logger.Info("starting scheduled backup", zap.Uint("connection_id", sc.ConnectionID), zap.Uint("destination_id", sc.DestinationID))
	scheduleID := id
	res, err := s.backuper.Backup(s.runCtx, executor.BackupRequest{
		ConnectionID: sc.ConnectionID,
		Target:       models.Target{DestinationID: sc.DestinationID},
		Trigger:      models.TriggerSchedule,
		ScheduleID:   &scheduleID,
	})
	s.complete(id, res, err, logger)
}

// complete records the outcome of a run and returns the schedule to idle.
func (s *Scheduler) complete(id uint, res *executor.Result, runErr error, logger *zap.Logger) {
	status := models.StatusSuccess
	switch {
	case runErr == nil:
	case errdefs.IsConflict(runErr):
		status = models.StatusSkipped
	default:
		status = models.StatusFailed
	}
	metrics.RecordDispatch(string(status))

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	next, queued := s.nextRun(id)
	_, err := s.store.ModifySchedule(ctx, id, func(sc *models.Schedule) error {
		finished := s.now().UTC()
		sc.State = models.StateIdle
		sc.LastRun = &finished
		sc.LastRunStatus = status
		sc.LastError = ""
		if runErr != nil {
			sc.LastError = errs.Message(runErr)
		}
		if status == models.StatusSuccess && res != nil {
			sc.LastArtifact = res.Filename
		}
		if queued && sc.Enabled {
			sc.NextRun = &next
		} else {
			sc.NextRun = nil
		}
		return nil
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			s.forget(id)
			logger.Debug("schedule deleted while running")
			return
		}
		logger.Error("failed to record scheduled run", zap.Error(err))
		return
	}
	if runErr != nil {
		logger.Warn("scheduled backup did not complete", zap.String("status", string(status)), zap.Error(runErr))
		return
	}
	logger.Info("scheduled backup finished", zap.String("filename", res.Filename))
}
