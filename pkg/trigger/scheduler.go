// Package trigger runs cron-scheduled jobs and announces each firing on
// the bus.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/daymark/daymark/pkg/bus"
	"github.com/daymark/daymark/pkg/domain"
)

// Firing is the payload published with every trigger event.
type Firing struct {
	Job string
	At  time.Time
}

// Job pairs a cron expression with the work it fires.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context, at time.Time) error
}

// Scheduler polls its jobs' cron expressions on a fixed tick. Firings are
// deduplicated per minute, the granularity cron expressions resolve to.
type Scheduler struct {
	events *bus.Bus
	logger *slog.Logger
	gron   gronx.Gronx
	tick   time.Duration

	mu        sync.Mutex
	jobs      []Job
	lastFired map[string]time.Time

	now     func() time.Time
	stop    chan struct{}
	done    chan struct{}
	started bool
	once    sync.Once
}

// New creates a stopped scheduler. tick below one second is raised to one
// second.
func New(events *bus.Bus, tick time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if tick < time.Second {
		tick = time.Second
	}
	return &Scheduler{
		events:    events,
		logger:    logger,
		gron:      *gronx.New(),
		tick:      tick,
		lastFired: make(map[string]time.Time),
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// AddJob registers a job after validating its cron expression.
func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if !s.gron.IsValid(job.Expr) {
		return fmt.Errorf("job %s: invalid cron expression %q", job.Name, job.Expr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

// Start runs the polling loop until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.pass(ctx, s.now())
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit. Safe to call twice, and a
// no-op on a scheduler that was never started.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// pass checks every job against one reference time and fires the due ones.
func (s *Scheduler) pass(ctx context.Context, at time.Time) {
	s.mu.Lock()
	jobs := make([]Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	minute := at.Truncate(time.Minute)
	for _, job := range jobs {
		due, err := s.gron.IsDue(job.Expr, at)
		if err != nil {
			s.logger.Error("cron evaluation failed",
				slog.String("job", job.Name), slog.Any("error", err))
			continue
		}
		if !due {
			continue
		}

		s.mu.Lock()
		already := s.lastFired[job.Name].Equal(minute)
		if !already {
			s.lastFired[job.Name] = minute
		}
		s.mu.Unlock()
		if already {
			continue
		}

		s.fire(ctx, job, at)
	}
}

func (s *Scheduler) fire(ctx context.Context, job Job, at time.Time) {
	s.logger.Info("trigger fired", slog.String("job", job.Name), slog.Time("at", at))
	s.events.Publish(ctx, domain.EventTriggerFired, Firing{Job: job.Name, At: at})
	if err := job.Run(ctx, at); err != nil {
		s.logger.Error("scheduled job failed",
			slog.String("job", job.Name), slog.Any("error", err))
	}
}
