package apy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakewatch/internal/storage"
)

func seededStore(t *testing.T, now time.Time) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	_, err := store.InsertSnapshot(ctx, storage.Snapshot{TotalStaked: d("500000000"), TakenAt: now.Add(-2 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, store.InsertPricePoint(ctx, storage.PricePoint{Symbol: "STAKE", PriceUSD: d("0.00001"), ObservedAt: now.Add(-time.Hour)}))

	price := d("3000")
	store.AddDistribution(storage.DistributionEvent{EthAmount: d("0.015"), EthPriceUSD: &price, Status: storage.DistributionCompleted, OccurredAt: now.Add(-3 * time.Hour)})
	store.AddDistribution(storage.DistributionEvent{EthAmount: d("9"), EthPriceUSD: &price, Status: storage.DistributionPending, OccurredAt: now.Add(-3 * time.Hour)})
	return store
}

func TestCalculatorRunPersistsEveryPeriod(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := seededStore(t, now)

	observed := map[storage.Period]decimal.Decimal{}
	calc := NewCalculator(store, Options{StakedSymbol: "STAKE", Observe: func(p storage.Period, v decimal.Decimal) { observed[p] = v }}, zerolog.Nop())
	calc.now = func() time.Time { return now }

	require.NoError(t, calc.Run(context.Background()))

	for _, period := range storage.Periods {
		latest, err := store.LatestAPY(context.Background(), period)
		require.NoError(t, err, period)
		assert.False(t, latest.CalculatedAPY.IsNegative())
		assert.True(t, latest.RewardsDistributed.Equal(d("0.015")), "pending events excluded")
		assert.Contains(t, observed, period)

		var details Details
		require.NoError(t, json.Unmarshal(latest.CalculationDetails, &details))
		assert.Equal(t, period.Hours(), details.WindowHours)
	}

	weekly, err := store.LatestAPY(context.Background(), storage.Period7d)
	require.NoError(t, err)
	apy, _ := weekly.CalculatedAPY.Float64()
	assert.InDelta(t, 46.9286, apy, 0.001)
}

func TestCalculatorEmptyStoreYieldsZero(t *testing.T) {
	store := storage.NewMemoryStore()
	calc := NewCalculator(store, Options{StakedSymbol: "STAKE"}, zerolog.Nop())

	row, err := calc.CalculatePeriod(context.Background(), storage.Period24h)
	require.NoError(t, err)
	assert.True(t, row.CalculatedAPY.IsZero())
	assert.True(t, row.AverageStaked.IsZero())
	assert.True(t, row.RewardsDistributed.IsZero())
}

type failingAPYStore struct {
	*storage.MemoryStore
	failPeriod storage.Period
}

func (f *failingAPYStore) InsertAPYCalculation(ctx context.Context, calc storage.APYCalculation) (storage.APYCalculation, error) {
	if calc.Period == f.failPeriod {
		return storage.APYCalculation{}, errors.New("disk full")
	}
	return f.MemoryStore.InsertAPYCalculation(ctx, calc)
}

func TestCalculatorPeriodFailureIsolated(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &failingAPYStore{MemoryStore: seededStore(t, now), failPeriod: storage.Period7d}
	calc := NewCalculator(store, Options{StakedSymbol: "STAKE"}, zerolog.Nop())
	calc.now = func() time.Time { return now }

	err := calc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "7d")

	_, err = store.LatestAPY(context.Background(), storage.Period24h)
	assert.NoError(t, err)
	_, err = store.LatestAPY(context.Background(), storage.Period30d)
	assert.NoError(t, err)
	_, err = store.LatestAPY(context.Background(), storage.Period7d)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestCalculatorFallsBackToLatestPrice(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, err := store.InsertSnapshot(ctx, storage.Snapshot{TotalStaked: d("500000000"), TakenAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	require.NoError(t, store.InsertPricePoint(ctx, storage.PricePoint{Symbol: "STAKE", PriceUSD: d("0.00001"), ObservedAt: now.Add(-90 * 24 * time.Hour)}))
	price := d("3000")
	store.AddDistribution(storage.DistributionEvent{EthAmount: d("0.015"), EthPriceUSD: &price, Status: storage.DistributionCompleted, OccurredAt: now.Add(-time.Hour)})

	calc := NewCalculator(store, Options{StakedSymbol: "STAKE"}, zerolog.Nop())
	calc.now = func() time.Time { return now }

	row, err := calc.CalculatePeriod(ctx, storage.Period7d)
	require.NoError(t, err)

	var details Details
	require.NoError(t, json.Unmarshal(row.CalculationDetails, &details))
	assert.Equal(t, PriceSourceFallback, details.StakedPriceSource)
	assert.True(t, row.CalculatedAPY.IsPositive())
}
