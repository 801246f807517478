// Package scheduler fires backup, drift capture and drill jobs on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/logging"
)

// JobFunc is the work behind a schedule entry
type JobFunc func(ctx context.Context) error

// Job is a named schedule entry. Timeout bounds one run; zero means the
// run is bounded only by the scheduler's lifetime.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      JobFunc
}

// EntryInfo describes a registered job
type EntryInfo struct {
	Name     string    `json:"name" yaml:"name"`
	Schedule string    `json:"schedule" yaml:"schedule"`
	Next     time.Time `json:"next" yaml:"next"`
	Prev     time.Time `json:"prev,omitempty" yaml:"prev,omitempty"`
}

// Scheduler wraps a cron runner. Every entry is guarded by Recover and
// SkipIfStillRunning, so a slow or panicking job never overlaps itself.
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]registered
	started bool
}

type registered struct {
	id       cron.EntryID
	schedule string
}

// ValidateSchedule parses a standard five-field cron expression or a
// descriptor such as @daily
func ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("invalid cron schedule %q", expr), err)
	}
	return nil
}

// New creates a stopped scheduler
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	cronLogger := cron.PrintfLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]registered),
	}
}

// Add registers a job. Names are unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return apperrors.NewValidationError("scheduled job requires a name and a function", nil)
	}
	if err := ValidateSchedule(job.Schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name]; exists {
		return apperrors.NewConflictError(fmt.Sprintf("job %s is already scheduled", job.Name))
	}

	id, err := s.cron.AddFunc(job.Schedule, s.wrap(job))
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("failed to schedule job %s", job.Name), err)
	}
	s.entries[job.Name] = registered{id: id, schedule: job.Schedule}

	s.logger.WithFields(map[string]interface{}{
		"job":      job.Name,
		"schedule": job.Schedule,
	}).Debug("Job scheduled")
	return nil
}

// Remove unregisters a job; unknown names are ignored
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[name]; ok {
		s.cron.Remove(entry.id)
		delete(s.entries, name)
	}
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		ctx := s.ctx
		if job.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, job.Timeout)
			defer cancel()
		}

		done := s.logger.LogOperationStart("scheduled_job", map[string]interface{}{"job": job.Name})
		done(job.Run(ctx))
	}
}

// RunNow runs a registered job synchronously through the same guards as a
// scheduled firing. A run that overlaps an in-flight one is skipped.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	entry, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return apperrors.NewNotFoundError("job", name)
	}

	e := s.cron.Entry(entry.id)
	if !e.Valid() {
		return apperrors.NewNotFoundError("job", name)
	}
	e.WrappedJob.Run()
	return nil
}

// Entries lists registered jobs sorted by name. Next is zero until the
// scheduler has started.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EntryInfo, 0, len(s.entries))
	for name, entry := range s.entries {
		e := s.cron.Entry(entry.id)
		out = append(out, EntryInfo{Name: name, Schedule: entry.schedule, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins firing jobs in the background
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.WithField("jobs", len(s.entries)).Info("Scheduler started")
}

// Stop prevents new firings and waits for running jobs until ctx expires,
// after which the context handed to running jobs is cancelled
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	defer s.cancel()

	select {
	case <-stopped.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return apperrors.NewAppError(apperrors.ErrorTypeTimeout, "scheduled jobs did not finish before shutdown", ctx.Err())
	}
}
