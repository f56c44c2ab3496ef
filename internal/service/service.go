package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stakewatch/internal/config"
	"stakewatch/internal/freshness"
	"stakewatch/internal/positions"
	"stakewatch/internal/scheduler"
	"stakewatch/internal/storage"
	"stakewatch/internal/telemetry"
)

// Job names.
const (
	JobSnapshot  = "snapshot"
	JobAPY       = "apy"
	JobPositions = "positions"
)

// JobNames lists the jobs in registration order.
var JobNames = []string{JobSnapshot, JobAPY, JobPositions}

// Collector takes one aggregate snapshot.
type Collector interface {
	Collect(ctx context.Context) (storage.Snapshot, error)
}

// Calculator recomputes APY for every period.
type Calculator interface {
	Run(ctx context.Context) error
}

// Reconciler refreshes every known position.
type Reconciler interface {
	Reconcile(ctx context.Context) (positions.Summary, error)
}

// CacheInvalidator drops read caches after positions change.
type CacheInvalidator interface {
	InvalidateLeaderboard(ctx context.Context)
}

// Deps are the collaborators the service wires together.
type Deps struct {
	Collector  Collector
	Calculator Calculator
	Reconciler Reconciler
	Freshness  *freshness.Tracker
	Metrics    *telemetry.Metrics
	Locker     storage.AdvisoryLocker
	Cache      CacheInvalidator
}

// Service binds each job to its freshness domain and the scheduler.
type Service struct {
	deps      Deps
	intervals map[string]time.Duration
	domains   map[string]string
	lockKey   int64
	logger    zerolog.Logger
}

// New constructs the service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		deps: deps,
		intervals: map[string]time.Duration{
			JobSnapshot:  cfg.Scheduler.SnapshotInterval,
			JobAPY:       cfg.Scheduler.APYInterval,
			JobPositions: cfg.Scheduler.PositionInterval,
		},
		domains: map[string]string{
			JobSnapshot:  freshness.DomainStaking,
			JobAPY:       freshness.DomainAPY,
			JobPositions: freshness.DomainPositions,
		},
		lockKey: cfg.Scheduler.AdvisoryLockKey,
		logger:  logger.With().Str("component", "service").Logger(),
	}
}

// Register adds every job to the scheduler.
func (s *Service) Register(sched *scheduler.Scheduler) error {
	for i, name := range JobNames {
		name := name
		lockKey := s.jobLockKey(i)
		if err := sched.Register(scheduler.Job{
			Name:     name,
			Interval: s.intervals[name],
			Run: func(ctx context.Context) error {
				return s.runLocked(ctx, name, lockKey)
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// SchedulerOptions feeds scheduler outcomes into telemetry.
func (s *Service) SchedulerOptions(startupDelay time.Duration) scheduler.Options {
	return scheduler.Options{
		StartupDelay: startupDelay,
		OnResult:     s.deps.Metrics.ObserveJob,
		OnSkip:       s.deps.Metrics.ObserveSkip,
	}
}

// RunJob executes one job by name and records its freshness.
func (s *Service) RunJob(ctx context.Context, name string) error {
	var err error
	switch name {
	case JobSnapshot:
		_, err = s.deps.Collector.Collect(ctx)
	case JobAPY:
		err = s.deps.Calculator.Run(ctx)
	case JobPositions:
		_, err = s.deps.Reconciler.Reconcile(ctx)
		if err == nil && s.deps.Cache != nil {
			s.deps.Cache.InvalidateLeaderboard(ctx)
		}
	default:
		return fmt.Errorf("unknown job %q", name)
	}

	s.record(ctx, name, err)
	return err
}

func (s *Service) runLocked(ctx context.Context, name string, lockKey int64) error {
	unlock, proceed, err := s.acquireLock(ctx, lockKey)
	if err != nil {
		s.record(ctx, name, err)
		return err
	}
	if !proceed {
		s.logger.Debug().Str("job", name).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}
	return s.RunJob(ctx, name)
}

func (s *Service) record(ctx context.Context, name string, runErr error) {
	domain := s.domains[name]
	if s.deps.Freshness == nil {
		return
	}
	rec, err := s.deps.Freshness.RecordResult(ctx, domain, runErr)
	if err != nil {
		s.logger.Error().Err(err).Str("domain", domain).Msg("failed to record freshness")
		return
	}
	s.deps.Metrics.SetDomainHealth(domain, rec.IsHealthy)
}

// jobLockKey returns the advisory lock key of the job at index; 0 disables locking.
func (s *Service) jobLockKey(index int) int64 {
	if s.lockKey == 0 {
		return 0
	}
	return s.lockKey + int64(index)
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
