package apy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stakewatch/internal/storage"
)

// Store is the subset of storage the calculator reads and writes.
type Store interface {
	storage.SnapshotStore
	storage.DistributionStore
	storage.PriceStore
	storage.APYStore
}

// Options configure the calculator.
type Options struct {
	StakedSymbol string
	// Observe is called with each persisted result.
	Observe func(period storage.Period, apy decimal.Decimal)
}

// Calculator computes and persists APY for each rolling window.
type Calculator struct {
	store  Store
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewCalculator builds a calculator over store.
func NewCalculator(store Store, opts Options, logger zerolog.Logger) *Calculator {
	return &Calculator{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "apy").Logger(),
		now:    time.Now,
	}
}

// Run computes every period independently. One period's failure does not
// stop the others; failures are joined.
func (c *Calculator) Run(ctx context.Context) error {
	var errs []error
	for _, period := range storage.Periods {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := c.CalculatePeriod(ctx, period); err != nil {
			c.logger.Error().Err(err).Str("period", string(period)).Msg("apy calculation failed")
			errs = append(errs, fmt.Errorf("period %s: %w", period, err))
		}
	}
	return errors.Join(errs...)
}

// CalculatePeriod gathers the window's inputs, computes APY and persists one row.
func (c *Calculator) CalculatePeriod(ctx context.Context, period storage.Period) (storage.APYCalculation, error) {
	if period.Hours() == 0 {
		return storage.APYCalculation{}, fmt.Errorf("unknown period %q", period)
	}

	now := c.now().UTC()
	since := now.Add(-period.Window())

	in, err := c.gather(ctx, period, since, now)
	if err != nil {
		return storage.APYCalculation{}, err
	}

	res := Compute(in)
	details, err := json.Marshal(res.Details)
	if err != nil {
		return storage.APYCalculation{}, fmt.Errorf("marshal details: %w", err)
	}

	calc, err := c.store.InsertAPYCalculation(ctx, storage.APYCalculation{
		Period:             period,
		RewardsDistributed: res.TotalRewards,
		AverageStaked:      res.AverageStaked,
		CalculatedAPY:      res.APY,
		CalculationDetails: details,
		CalculatedAt:       now,
	})
	if err != nil {
		return storage.APYCalculation{}, err
	}

	event := c.logger.Info()
	if res.Details.Reason != "" {
		event = event.Str("reason", res.Details.Reason)
	}
	event.Str("period", string(period)).
		Str("apy", res.APY.StringFixed(4)).
		Str("total_rewards", res.TotalRewards.String()).
		Str("average_staked", res.AverageStaked.String()).
		Msg("apy calculated")

	if c.opts.Observe != nil {
		c.opts.Observe(period, res.APY)
	}
	return calc, nil
}

func (c *Calculator) gather(ctx context.Context, period storage.Period, since, now time.Time) (Inputs, error) {
	in := Inputs{WindowHours: period.Hours()}

	snaps, err := c.store.SnapshotsSince(ctx, since)
	if err != nil {
		return Inputs{}, fmt.Errorf("load snapshots: %w", err)
	}
	for _, snap := range snaps {
		if snap.TakenAt.After(now) {
			continue
		}
		in.StakedSamples = append(in.StakedSamples, snap.TotalStaked)
	}

	events, err := c.store.CompletedDistributionsBetween(ctx, since, now)
	if err != nil {
		return Inputs{}, fmt.Errorf("load distributions: %w", err)
	}
	for _, ev := range events {
		if !ev.Priced() {
			continue
		}
		in.Rewards = append(in.Rewards, Reward{Amount: ev.EthAmount, PriceUSD: *ev.EthPriceUSD})
	}

	points, err := c.store.PricesBetween(ctx, c.opts.StakedSymbol, since, now)
	if err != nil {
		return Inputs{}, fmt.Errorf("load staked token prices: %w", err)
	}
	for _, point := range points {
		in.StakedTokenPrices = append(in.StakedTokenPrices, point.PriceUSD)
	}

	if len(in.StakedTokenPrices) == 0 {
		latest, err := c.store.LatestPrice(ctx, c.opts.StakedSymbol)
		switch {
		case err == nil:
			price := latest.PriceUSD
			in.FallbackStakedTokenPrice = &price
		case errors.Is(err, storage.ErrNotFound):
		default:
			return Inputs{}, fmt.Errorf("load latest staked token price: %w", err)
		}
	}
	return in, nil
}
