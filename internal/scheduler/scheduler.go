package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrUnknownJob is returned by Trigger for an unregistered name.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// JobFunc performs one run of a job.
type JobFunc func(ctx context.Context) error

// Job is a named repeating task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// Options tune scheduler behaviour.
type Options struct {
	StartupDelay time.Duration
	// OnResult is called after every completed run.
	OnResult func(name string, err error, took time.Duration)
	// OnSkip is called when a run is skipped because the previous one is still in flight.
	OnSkip func(name string)
}

type entry struct {
	job     Job
	running atomic.Bool
}

// Scheduler runs each registered job on its own interval. A job never
// overlaps with itself: a run that fires while the previous is in flight is
// skipped, not queued. Different jobs run concurrently.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		opts:   opts,
		logger: logger,
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{logger: logger}))),
		jobs:   make(map[string]*entry),
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.New("job name required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run func required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job %s: scheduler already started", job.Name)
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = &entry{job: job}
	s.order = append(s.order, job.Name)
	return nil
}

// Jobs lists registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start schedules every job and returns immediately. After the startup delay
// each job runs once, then on its interval until Stop or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	for _, name := range names {
		job := s.jobs[name].job
		expr := "@every " + job.Interval.String()
		if _, err := s.cron.AddFunc(expr, func() { s.run(runCtx, name) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.opts.StartupDelay > 0 {
			timer := time.NewTimer(s.opts.StartupDelay)
			select {
			case <-runCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		for _, name := range names {
			name := name
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.run(runCtx, name)
			}()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		s.cron.Start()
		s.logger.Info().Strs("jobs", names).Msg("scheduler started")
	}()
	return nil
}

// Stop halts the timers, cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	alreadyStopped := s.stopped
	s.stopped = true
	s.mu.Unlock()
	if cancel == nil || alreadyStopped {
		return
	}

	cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// Trigger runs a job synchronously unless it is already in flight, in which
// case it returns ran=false without error.
func (s *Scheduler) Trigger(ctx context.Context, name string) (ran bool, err error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	if !e.running.CompareAndSwap(false, true) {
		s.logger.Info().Str("job", name).Msg("previous run still in flight, skipping")
		if s.opts.OnSkip != nil {
			s.opts.OnSkip(name)
		}
		return false, nil
	}
	defer e.running.Store(false)

	start := time.Now()
	err = safeRun(ctx, e.job.Run)
	took := time.Since(start)

	if err != nil {
		s.logger.Error().Err(err).Str("job", name).Dur("took", took).Msg("job failed")
	} else {
		s.logger.Debug().Str("job", name).Dur("took", took).Msg("job completed")
	}
	if s.opts.OnResult != nil {
		s.opts.OnResult(name, err, took)
	}
	return true, err
}

func (s *Scheduler) run(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}
	// errors are reported through OnResult
	_, _ = s.Trigger(ctx, name)
}

func safeRun(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
