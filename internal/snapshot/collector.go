package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stakewatch/internal/ledger"
	"stakewatch/internal/prices"
	"stakewatch/internal/storage"
)

// Store is the subset of storage the collector uses.
type Store interface {
	storage.SnapshotStore
	storage.APYStore
	storage.PriceStore
	CountActivePositions(ctx context.Context) (int64, error)
}

// Options configure the collector.
type Options struct {
	StakingAddress string
	// Symbols whose current price is recorded after each snapshot.
	PriceSymbols []string
}

// Collector takes aggregate snapshots of the staking contract.
type Collector struct {
	ledger ledger.Reader
	prices prices.Source
	store  Store
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewCollector builds a snapshot collector. src may be nil, which disables
// price recording.
func NewCollector(reader ledger.Reader, src prices.Source, store Store, opts Options, logger zerolog.Logger) *Collector {
	return &Collector{
		ledger: reader,
		prices: src,
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "snapshot").Logger(),
		now:    time.Now,
	}
}

// Collect reads the aggregate state and appends one snapshot. Any read error
// aborts without writing.
func (c *Collector) Collect(ctx context.Context) (storage.Snapshot, error) {
	totalStaked, err := c.ledger.TotalStaked(ctx)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read total staked: %w", err)
	}
	totalRewards, err := c.ledger.TotalRewardsDistributed(ctx)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read total rewards: %w", err)
	}
	poolBalance, err := c.ledger.NativeBalance(ctx, c.opts.StakingAddress)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read rewards pool balance: %w", err)
	}
	block, err := c.ledger.BlockNumber(ctx)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read block number: %w", err)
	}
	stakers, err := c.store.CountActivePositions(ctx)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("count active stakers: %w", err)
	}

	currentAPY := decimal.Zero
	latest, err := c.store.LatestAPY(ctx, storage.Period30d)
	switch {
	case err == nil:
		currentAPY = latest.CalculatedAPY
	case errors.Is(err, storage.ErrNotFound):
	default:
		return storage.Snapshot{}, fmt.Errorf("read latest apy: %w", err)
	}

	blockNumber := int64(block)
	snap, err := c.store.InsertSnapshot(ctx, storage.Snapshot{
		TotalStaked:             totalStaked,
		TotalStakers:            stakers,
		RewardsPoolBalance:      poolBalance,
		TotalRewardsDistributed: totalRewards,
		CurrentAPY:              currentAPY,
		BlockNumber:             &blockNumber,
		TakenAt:                 c.now().UTC(),
	})
	if err != nil {
		return storage.Snapshot{}, err
	}

	c.logger.Info().
		Str("total_staked", snap.TotalStaked.String()).
		Int64("stakers", snap.TotalStakers).
		Str("pool_balance", snap.RewardsPoolBalance.String()).
		Int64("block", blockNumber).
		Msg("snapshot stored")

	c.recordPrices(ctx, snap.TakenAt)
	return snap, nil
}

// recordPrices appends the feed's current prices to the price series. Failures
// are logged only; they never fail the snapshot.
func (c *Collector) recordPrices(ctx context.Context, at time.Time) {
	if c.prices == nil {
		return
	}
	for _, symbol := range c.opts.PriceSymbols {
		price, err := c.prices.Price(ctx, symbol, at)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("price unavailable")
			continue
		}
		if err := c.store.InsertPricePoint(ctx, storage.PricePoint{Symbol: symbol, PriceUSD: price, ObservedAt: at}); err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("record price")
		}
	}
}
