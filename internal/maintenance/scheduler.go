// Package maintenance runs threadwise's periodic sweeps on cron schedules.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/threadwise/internal/fault"
)

// Job is one named sweep. Run returns how many items it removed.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (int, error)
}

// Observer receives one call per job run.
type Observer interface {
	MaintenanceRan(job string, err error)
}

// Scheduler runs Jobs on their cron schedules. A run still in progress when
// its next tick arrives is skipped.
type Scheduler struct {
	cron     *cron.Cron
	logger   *slog.Logger
	observer Observer
	timeout  time.Duration

	mu      sync.Mutex
	jobs    map[string]Job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver reports job runs to o.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// WithJobTimeout bounds a single run. The default is one minute.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:  slog.Default().With("component", "maintenance"),
		timeout: time.Minute,
		jobs:    make(map[string]Job),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	cl := cronLogger{s.logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	return s
}

// Add registers job. The schedule uses standard cron syntax or descriptors
// such as "@every 5m".
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fault.New(fault.KindInvalidInput, "maintenance job needs a name and a run function")
	}
	sched, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return fault.Wrap(fault.KindConfiguration, "maintenance.add", fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fault.New(fault.KindInvalidInput, "maintenance job %s already registered", job.Name)
	}
	s.jobs[job.Name] = job
	s.cron.Schedule(sched, cron.FuncJob(func() {
		_, _ = s.RunNow(s.runContext(), job.Name)
	}))
	return nil
}

// Jobs returns the registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins running jobs. Runs use a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.Start()
	s.logger.Info("maintenance started", "jobs", len(s.jobs))
}

// Stop halts scheduling and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	defer cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs the named job immediately and returns what it removed.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return 0, fault.New(fault.KindInvalidInput, "unknown maintenance job %s", name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	removed, err := job.Run(ctx)
	if s.observer != nil {
		s.observer.MaintenanceRan(name, err)
	}
	if err != nil {
		s.logger.Warn("maintenance job failed", "job", name, "error", err)
		return removed, err
	}
	if removed > 0 {
		s.logger.Info("maintenance job removed items", "job", name, "removed", removed)
	} else {
		s.logger.Debug("maintenance job ran", "job", name)
	}
	return removed, nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
