package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakewatch/internal/config"
	"stakewatch/internal/freshness"
	"stakewatch/internal/ledger"
	"stakewatch/internal/positions"
	"stakewatch/internal/scheduler"
	"stakewatch/internal/snapshot"
	"stakewatch/internal/storage"
	"stakewatch/internal/telemetry"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Scheduler.SnapshotInterval = time.Hour
	cfg.Scheduler.APYInterval = time.Hour
	cfg.Scheduler.PositionInterval = time.Hour
	return cfg
}

type funcCalculator func(ctx context.Context) error

func (f funcCalculator) Run(ctx context.Context) error { return f(ctx) }

type funcReconciler func(ctx context.Context) (positions.Summary, error)

func (f funcReconciler) Reconcile(ctx context.Context) (positions.Summary, error) { return f(ctx) }

type countingCache struct{ calls int }

func (c *countingCache) InvalidateLeaderboard(context.Context) { c.calls++ }

// slowLedger blocks TotalStaked until released.
type slowLedger struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *slowLedger) TotalStaked(context.Context) (decimal.Decimal, error) {
	l.once.Do(func() { close(l.entered) })
	<-l.release
	return decimal.NewFromInt(100), nil
}
func (l *slowLedger) TotalRewardsDistributed(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (l *slowLedger) NativeBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (l *slowLedger) StakePosition(context.Context, string) (ledger.StakePosition, error) {
	return ledger.StakePosition{}, ledger.ErrNotStaker
}
func (l *slowLedger) UnbondingSchedule(context.Context, string) ([]ledger.UnbondingEntry, error) {
	return nil, nil
}
func (l *slowLedger) BlockNumber(context.Context) (uint64, error) { return 1, nil }

func TestOverlappingSnapshotRunsWriteOneRow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reader := &slowLedger{entered: make(chan struct{}), release: make(chan struct{})}

	svc := New(testConfig(), Deps{
		Collector: snapshot.NewCollector(reader, nil, store, snapshot.Options{StakingAddress: "0xaa"}, zerolog.Nop()),
		Freshness: freshness.NewTracker(store, freshness.Options{}, zerolog.Nop()),
		Metrics:   telemetry.NewMetrics(),
	}, zerolog.Nop())

	sched := scheduler.New(svc.SchedulerOptions(0), zerolog.Nop())
	require.NoError(t, svc.Register(sched))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ran, err := sched.Trigger(ctx, JobSnapshot)
		assert.True(t, ran)
		assert.NoError(t, err)
	}()
	<-reader.entered

	ran, err := sched.Trigger(ctx, JobSnapshot)
	require.NoError(t, err)
	assert.False(t, ran)

	close(reader.release)
	<-done

	snaps, err := store.SnapshotsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	rec, err := store.Freshness(ctx, freshness.DomainStaking)
	require.NoError(t, err)
	assert.True(t, rec.IsHealthy)
}

func TestRunJobRecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	boom := errors.New("rpc timeout")

	svc := New(testConfig(), Deps{
		Calculator: funcCalculator(func(context.Context) error { return boom }),
		Freshness:  freshness.NewTracker(store, freshness.Options{}, zerolog.Nop()),
	}, zerolog.Nop())

	err := svc.RunJob(ctx, JobAPY)
	assert.True(t, errors.Is(err, boom))

	rec, err := store.Freshness(ctx, freshness.DomainAPY)
	require.NoError(t, err)
	assert.False(t, rec.IsHealthy)
	assert.Equal(t, 1, rec.ErrorCount)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, "rpc timeout", *rec.LastError)

	assert.Error(t, svc.RunJob(ctx, "unknown"))
}

func TestPositionsJobInvalidatesCache(t *testing.T) {
	cache := &countingCache{}
	calls := 0
	svc := New(testConfig(), Deps{
		Reconciler: funcReconciler(func(context.Context) (positions.Summary, error) {
			calls++
			if calls > 1 {
				return positions.Summary{}, errors.New("store down")
			}
			return positions.Summary{Total: 1, Updated: 1}, nil
		}),
		Cache: cache,
	}, zerolog.Nop())

	require.NoError(t, svc.RunJob(context.Background(), JobPositions))
	assert.Error(t, svc.RunJob(context.Background(), JobPositions))
	assert.Equal(t, 1, cache.calls)
}

type heldLocker struct{ keys []int64 }

func (h *heldLocker) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	h.keys = append(h.keys, key)
	return nil, false, nil
}

func TestAdvisoryLockHeldElsewhereSkips(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.AdvisoryLockKey = 100
	locker := &heldLocker{}
	ran := false

	svc := New(cfg, Deps{
		Calculator: funcCalculator(func(context.Context) error { ran = true; return nil }),
		Locker:     locker,
	}, zerolog.Nop())

	sched := scheduler.New(scheduler.Options{}, zerolog.Nop())
	require.NoError(t, svc.Register(sched))

	_, err := sched.Trigger(context.Background(), JobAPY)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, []int64{101}, locker.keys)
}

type brokenLocker struct{}

func (brokenLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestAdvisoryLockFailureMarksDomainUnhealthy(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Scheduler.AdvisoryLockKey = 100
	store := storage.NewMemoryStore()
	ran := false

	svc := New(cfg, Deps{
		Calculator: funcCalculator(func(context.Context) error { ran = true; return nil }),
		Freshness:  freshness.NewTracker(store, freshness.Options{}, zerolog.Nop()),
		Locker:     brokenLocker{},
	}, zerolog.Nop())

	sched := scheduler.New(scheduler.Options{}, zerolog.Nop())
	require.NoError(t, svc.Register(sched))

	_, err := sched.Trigger(ctx, JobAPY)
	require.Error(t, err)
	assert.False(t, ran)

	rec, err := store.Freshness(ctx, freshness.DomainAPY)
	require.NoError(t, err)
	assert.False(t, rec.IsHealthy)
	assert.Equal(t, 1, rec.ErrorCount)
	require.NotNil(t, rec.LastError)
	assert.Contains(t, *rec.LastError, "connection refused")
}
