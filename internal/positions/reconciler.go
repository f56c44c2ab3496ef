package positions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stakewatch/internal/ledger"
	"stakewatch/internal/storage"
)

// Reconcile outcomes per address.
const (
	OutcomeUpdated     = "updated"
	OutcomeSkipped     = "skipped"
	OutcomeLedgerError = "ledger_error"
	OutcomeStoreError  = "store_error"
)

// Store is the subset of storage the reconciler uses.
type Store interface {
	KnownAddresses(ctx context.Context) ([]string, error)
	UpsertPosition(ctx context.Context, pos storage.StakerPosition) error
}

// Options configure concurrency and rate limiting.
type Options struct {
	// Concurrency is the worker ceiling; 1 reconciles sequentially.
	Concurrency int
	// RequestsPerSecond caps ledger reads; 0 means unlimited.
	RequestsPerSecond float64
	Burst             int
	// Observe is called once per address with its outcome.
	Observe func(outcome string)
}

// Summary counts the outcomes of one pass.
type Summary struct {
	Total          int
	Updated        int
	Skipped        int
	LedgerFailures int
	StoreFailures  int
}

// Reconciler re-reads every known address from the ledger and upserts it.
type Reconciler struct {
	ledger  ledger.Reader
	store   Store
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time
}

// NewReconciler builds a reconciler.
func NewReconciler(reader ledger.Reader, store Store, opts Options, logger zerolog.Logger) *Reconciler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Reconciler{
		ledger:  reader,
		store:   store,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  logger.With().Str("component", "positions").Logger(),
		now:     time.Now,
	}
}

// Reconcile refreshes every known address. One address's failure never stops
// the batch. It returns an error when listing fails, when any store write
// fails, or when every address failed on the ledger.
func (r *Reconciler) Reconcile(ctx context.Context) (Summary, error) {
	addresses, err := r.store.KnownAddresses(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list known addresses: %w", err)
	}

	summary := Summary{Total: len(addresses)}
	if len(addresses) == 0 {
		return summary, nil
	}

	var (
		updated, skipped, ledgerFailed atomic.Int32
		mu                             sync.Mutex
		storeErrs                      []error
		firstLedgerErr                 error
	)

	pool := pond.NewPool(r.opts.Concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, address := range addresses {
		addr := address
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}

			outcome, err := r.reconcileOne(groupCtx, addr)
			r.observe(outcome)
			switch outcome {
			case OutcomeUpdated:
				updated.Add(1)
			case OutcomeSkipped:
				skipped.Add(1)
			case OutcomeLedgerError:
				ledgerFailed.Add(1)
				r.logger.Warn().Err(err).Str("address", addr).Msg("position read failed")
				mu.Lock()
				if firstLedgerErr == nil {
					firstLedgerErr = err
				}
				mu.Unlock()
			case OutcomeStoreError:
				r.logger.Error().Err(err).Str("address", addr).Msg("position write failed")
				mu.Lock()
				storeErrs = append(storeErrs, fmt.Errorf("%s: %w", addr, err))
				mu.Unlock()
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn().Err(err).Msg("reconcile group encountered error")
	}

	summary.Updated = int(updated.Load())
	summary.Skipped = int(skipped.Load())
	summary.LedgerFailures = int(ledgerFailed.Load())
	summary.StoreFailures = len(storeErrs)

	r.logger.Info().
		Int("total", summary.Total).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("ledger_failures", summary.LedgerFailures).
		Int("store_failures", summary.StoreFailures).
		Msg("positions reconciled")

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if len(storeErrs) > 0 {
		return summary, fmt.Errorf("store positions: %w", errors.Join(storeErrs...))
	}
	if summary.LedgerFailures == summary.Total {
		return summary, fmt.Errorf("all %d position reads failed: %w", summary.Total, firstLedgerErr)
	}
	return summary, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, address string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return OutcomeLedgerError, err
	}
	pos, err := r.ledger.StakePosition(ctx, address)
	if errors.Is(err, ledger.ErrNotStaker) {
		r.logger.Debug().Str("address", address).Msg("address has no stake record")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeLedgerError, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return OutcomeLedgerError, err
	}
	schedule, err := r.ledger.UnbondingSchedule(ctx, address)
	if err != nil && !errors.Is(err, ledger.ErrNotStaker) {
		return OutcomeLedgerError, err
	}

	if err := r.store.UpsertPosition(ctx, storage.StakerPosition{
		Address:               address,
		StakedAmount:          pos.Amount,
		LifetimeRewardsEarned: pos.LifetimeRewardsEarned,
		PendingRewards:        pos.PendingRewards,
		UnbondingAmount:       ledger.TotalUnbonding(schedule),
		LastStakeTime:         pos.LastStakeTime,
		IsActive:              pos.Amount.IsPositive(),
		UpdatedAt:             r.now().UTC(),
	}); err != nil {
		return OutcomeStoreError, err
	}
	return OutcomeUpdated, nil
}

func (r *Reconciler) observe(outcome string) {
	if r.opts.Observe != nil {
		r.opts.Observe(outcome)
	}
}
