package apy

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeWeeklyExample(t *testing.T) {
	res := Compute(Inputs{
		WindowHours:       168,
		StakedSamples:     []decimal.Decimal{d("500000000")},
		Rewards:           []Reward{{Amount: d("0.015"), PriceUSD: d("3000")}},
		StakedTokenPrices: []decimal.Decimal{d("0.00001")},
	})

	assert.True(t, res.Details.RewardsUSD.Equal(d("45")), res.Details.RewardsUSD.String())
	assert.True(t, res.Details.StakedUSD.Equal(d("5000")), res.Details.StakedUSD.String())
	assert.True(t, res.Details.PeriodicReturn.Equal(d("0.009")), res.Details.PeriodicReturn.String())

	apy, _ := res.APY.Float64()
	assert.InDelta(t, 46.9286, apy, 0.001)
	assert.True(t, res.TotalRewards.Equal(d("0.015")), "rewards stay in native units")
	assert.Empty(t, res.Details.Reason)
	assert.Equal(t, PriceSourceWindow, res.Details.StakedPriceSource)
}

func TestComputeDegenerateInputs(t *testing.T) {
	fallback := d("0.00002")
	cases := []struct {
		name   string
		in     Inputs
		reason string
	}{
		{
			name:   "no snapshots",
			in:     Inputs{WindowHours: 24, Rewards: []Reward{{Amount: d("1"), PriceUSD: d("1")}}},
			reason: "no snapshots in window",
		},
		{
			name:   "no distributions",
			in:     Inputs{WindowHours: 24, StakedSamples: []decimal.Decimal{d("10")}, StakedTokenPrices: []decimal.Decimal{d("1")}},
			reason: "no completed distributions in window",
		},
		{
			name:   "no price",
			in:     Inputs{WindowHours: 24, StakedSamples: []decimal.Decimal{d("10")}, Rewards: []Reward{{Amount: d("1"), PriceUSD: d("1")}}},
			reason: "no staked token price",
		},
		{
			name:   "zero stake",
			in:     Inputs{WindowHours: 24, StakedSamples: []decimal.Decimal{d("0"), d("0")}, Rewards: []Reward{{Amount: d("1"), PriceUSD: d("1")}}, FallbackStakedTokenPrice: &fallback},
			reason: "staked usd is zero",
		},
		{
			name:   "zero window",
			in:     Inputs{StakedSamples: []decimal.Decimal{d("10")}},
			reason: "invalid window",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Compute(tc.in)
			assert.True(t, res.APY.IsZero(), res.APY.String())
			assert.Equal(t, tc.reason, res.Details.Reason)
			assert.False(t, res.APY.IsNegative())
		})
	}
}

func TestComputeNoDistributionsRecordsZeroRewards(t *testing.T) {
	res := Compute(Inputs{WindowHours: 720, StakedSamples: []decimal.Decimal{d("100"), d("300")}})
	assert.True(t, res.TotalRewards.IsZero())
	assert.True(t, res.AverageStaked.Equal(d("200")))
}

func TestComputeNoSnapshotsStillRecordsRewards(t *testing.T) {
	res := Compute(Inputs{
		WindowHours:       168,
		Rewards:           []Reward{{Amount: d("0.01"), PriceUSD: d("2000")}, {Amount: d("0.005"), PriceUSD: d("4000")}},
		StakedTokenPrices: []decimal.Decimal{d("0.00001")},
	})

	assert.True(t, res.APY.IsZero())
	assert.Equal(t, "no snapshots in window", res.Details.Reason)
	assert.True(t, res.Details.TotalRewards.Equal(d("0.015")), res.Details.TotalRewards.String())
	assert.True(t, res.Details.AvgRewardPriceUSD.Equal(d("3000")))
	assert.True(t, res.Details.RewardsUSD.Equal(d("45")))
	assert.Equal(t, PriceSourceWindow, res.Details.StakedPriceSource)
	assert.True(t, res.AverageStaked.IsZero())
}

func TestComputeFallbackPrice(t *testing.T) {
	fallback := d("0.00001")
	res := Compute(Inputs{
		WindowHours:              168,
		StakedSamples:            []decimal.Decimal{d("400000000"), d("600000000")},
		Rewards:                  []Reward{{Amount: d("0.01"), PriceUSD: d("2000")}, {Amount: d("0.005"), PriceUSD: d("4000")}},
		FallbackStakedTokenPrice: &fallback,
	})

	assert.Equal(t, PriceSourceFallback, res.Details.StakedPriceSource)
	assert.True(t, res.Details.AvgRewardPriceUSD.Equal(d("3000")))
	apy, _ := res.APY.Float64()
	assert.InDelta(t, 46.9286, apy, 0.001)
}

func TestDetailsSerialiseEveryIntermediate(t *testing.T) {
	res := Compute(Inputs{
		WindowHours:       24,
		StakedSamples:     []decimal.Decimal{d("1000")},
		Rewards:           []Reward{{Amount: d("1"), PriceUSD: d("10")}},
		StakedTokenPrices: []decimal.Decimal{d("1")},
	})
	raw, err := json.Marshal(res.Details)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"average_staked", "total_rewards", "avg_reward_price_usd", "avg_staked_token_price_usd", "rewards_usd", "staked_usd", "periodic_return", "annualization_factor", "apy"} {
		assert.Contains(t, fields, key)
	}
}
