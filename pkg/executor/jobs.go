package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

// Job describes a running backup or restore.
type Job struct {
	ID           string         `json:"job_id"`
	Kind         models.JobKind `json:"kind"`
	Trigger      models.Trigger `json:"trigger"`
	ConnectionID uint           `json:"connection_id"`
	Destination  string         `json:"destination"`
	Filename     string         `json:"filename,omitempty"`
	StartedAt    time.Time      `json:"started_at"`

	cancel context.CancelFunc
}

// Registry tracks running jobs so they can be listed and cancelled.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// start registers a job and derives its context. The returned func must be
// called when the job is done.
func (r *Registry) start(parent context.Context, j Job, timeout time.Duration) (context.Context, *Job, func()) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	j.ID = uuid.New().String()
	j.cancel = cancel

	r.mu.Lock()
	r.jobs[j.ID] = &j
	r.mu.Unlock()
	r.wg.Add(1)

	return ctx, &j, func() {
		cancel()
		r.mu.Lock()
		delete(r.jobs, j.ID)
		r.mu.Unlock()
		r.wg.Done()
	}
}

func (r *Registry) setFilename(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Filename = name
	}
}

// List returns the running jobs, oldest first.
func (r *Registry) List() []Job {
	r.mu.Lock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Cancel stops job id. The job removes its staging files and reports itself
// as cancelled.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return errs.NotFound("job %s is not running", id)
	}
	j.cancel()
	return nil
}

// CancelAll stops every running job.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		j.cancel()
	}
}

// Wait blocks until every job has finished or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
