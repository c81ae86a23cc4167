// Package scheduler runs the worker's periodic jobs: the population risk
// evaluation cycle and the dashboard rebuild.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/metrics"
)

// Job is a unit of periodic work. Run receives a context that is cancelled
// when the scheduler stops.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule yields the next activation strictly after t.
type Schedule interface {
	Next(t time.Time) time.Time
	String() string
}

// JobResult is one entry of the run history. Skipped marks a tick that fell
// due while the previous run of the job was still in progress.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
	Skipped     bool
}

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobRunning              = errors.New("job is already running")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// SchedulerConfig configures NewScheduler. Zero values get defaults:
// slog.Default, UTC, a one second tick and 1000 history entries.
type SchedulerConfig struct {
	Logger         *slog.Logger
	Timezone       *time.Location
	TickInterval   time.Duration
	MaxHistorySize int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// entry is a registered job and its bookkeeping. Guarded by Scheduler.mu.
type entry struct {
	job      Job
	schedule Schedule
	enabled  bool
	busy     bool
	lastRun  time.Time
	nextRun  time.Time
	runs     int64
	failures int64
	last     *JobResult
}

// Scheduler polls its jobs every tick and starts the ones that are due.
// A job never overlaps with itself.
type Scheduler struct {
	log     *slog.Logger
	loc     *time.Location
	tick    time.Duration
	keep    int
	now     func() time.Time
	workers sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	history []JobResult
	cancel  context.CancelFunc
	started time.Time
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		log:     cfg.Logger,
		loc:     cfg.Timezone,
		tick:    cfg.TickInterval,
		keep:    cfg.MaxHistorySize,
		now:     cfg.Now,
		entries: make(map[string]*entry),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "scheduler")
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.tick <= 0 {
		s.tick = time.Second
	}
	if s.keep <= 0 {
		s.keep = 1000
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Scheduler) clock() time.Time { return s.now().In(s.loc) }

// Register adds job. Job names are unique.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule, enabled: true, nextRun: schedule.Next(s.clock())}
	s.entries[name] = e

	s.log.Info("job registered", "job", name, "schedule", schedule.String(),
		"next_run", e.nextRun.Format(time.RFC3339))
	return nil
}

// SetEnabled pauses or resumes a job. Resuming reschedules it from now.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if enabled && !e.enabled {
		e.nextRun = e.schedule.Next(s.clock())
	}
	e.enabled = enabled
	s.log.Info("job toggled", "job", name, "enabled", enabled)
	return nil
}

// Start launches the polling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = s.now()

	s.workers.Add(1)
	go s.loop(runCtx)

	s.log.Info("scheduler started", "jobs_count", len(s.entries))
	return nil
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return ErrSchedulerNotRunning
	}
	cancel()
	s.workers.Wait()

	s.log.Info("scheduler stopped", "uptime", s.now().Sub(s.started).String())
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.workers.Done()

	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, e := range s.claimDue() {
				s.workers.Add(1)
				go func() {
					defer s.workers.Done()
					s.run(ctx, e, false)
				}()
			}
		}
	}
}

// claimDue advances the schedule of every due job and marks the ones it
// returns busy. Due jobs that are still busy get a skipped history entry.
func (s *Scheduler) claimDue() []*entry {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entry
	for _, e := range s.entries {
		if !e.enabled || now.Before(e.nextRun) {
			continue
		}
		e.nextRun = e.schedule.Next(now)
		if e.busy {
			s.log.Warn("job still running, skipping tick", "job", e.job.Name())
			s.appendLocked(e, JobResult{JobName: e.job.Name(), StartedAt: now, CompletedAt: now, Skipped: true})
			continue
		}
		e.busy = true
		due = append(due, e)
	}
	return due
}

// run executes a claimed entry and releases it.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	s.log.Info("job started", "job", name, "manual", manual)

	res := JobResult{JobName: name, StartedAt: s.now(), Manual: manual}
	res.Error = e.job.Run(ctx)
	res.CompletedAt = s.now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	res.Success = res.Error == nil
	metrics.JobRun(name, res.Success)

	s.mu.Lock()
	e.busy = false
	e.lastRun = res.StartedAt
	e.runs++
	if !res.Success {
		e.failures++
	}
	s.appendLocked(e, res)
	s.mu.Unlock()

	if res.Success {
		s.log.Info("job completed", "job", name, "duration", res.Duration.String())
	} else {
		s.log.Error("job failed", "job", name, "duration", res.Duration.String(), "error", res.Error)
	}
	return res
}

func (s *Scheduler) appendLocked(e *entry, res JobResult) {
	last := res
	e.last = &last
	s.history = append(s.history, res)
	if over := len(s.history) - s.keep; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// RunNow runs a job synchronously outside its schedule. It fails with
// ErrJobRunning while a scheduled run of the same job is in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	case e.busy:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	e.busy = true
	s.mu.Unlock()

	res := s.run(ctx, e, true)
	return &res, res.Error
}

// JobInfo is a snapshot of one registered job.
type JobInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Enabled     bool       `json:"enabled"`
	Running     bool       `json:"running"`
	Schedule    string     `json:"schedule"`
	LastRun     time.Time  `json:"last_run"`
	NextRun     time.Time  `json:"next_run"`
	RunCount    int64      `json:"run_count"`
	FailCount   int64      `json:"fail_count"`
	LastResult  *JobResult `json:"-"`
}

// ListJobs returns all jobs ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Enabled:     e.enabled,
			Running:     e.busy,
			Schedule:    e.schedule.String(),
			LastRun:     e.lastRun,
			NextRun:     e.nextRun,
			RunCount:    e.runs,
			FailCount:   e.failures,
			LastResult:  e.last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetHistory returns the newest limit results, oldest first. A limit of
// zero or less returns everything kept.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := 0
	if limit > 0 && limit < len(s.history) {
		from = len(s.history) - limit
	}
	return append([]JobResult(nil), s.history[from:]...)
}
