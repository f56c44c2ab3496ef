package apy

import (
	"github.com/shopspring/decimal"
)

// HoursPerYear is the annualisation numerator.
const HoursPerYear = 8760

// Staked token price provenance recorded in the details.
const (
	PriceSourceWindow   = "window"
	PriceSourceFallback = "fallback"
	PriceSourceNone     = "none"
)

var hundred = decimal.NewFromInt(100)

// Reward is one completed, priced payout.
type Reward struct {
	Amount   decimal.Decimal
	PriceUSD decimal.Decimal
}

// Inputs is everything the calculation needs for one window.
type Inputs struct {
	WindowHours       int64
	StakedSamples     []decimal.Decimal
	Rewards           []Reward
	StakedTokenPrices []decimal.Decimal
	// FallbackStakedTokenPrice is the latest known price across all time,
	// used when StakedTokenPrices is empty.
	FallbackStakedTokenPrice *decimal.Decimal
}

// Details records every intermediate value of a calculation.
type Details struct {
	WindowHours            int64           `json:"window_hours"`
	SnapshotCount          int             `json:"snapshot_count"`
	AverageStaked          decimal.Decimal `json:"average_staked"`
	DistributionCount      int             `json:"distribution_count"`
	TotalRewards           decimal.Decimal `json:"total_rewards"`
	AvgRewardPriceUSD      decimal.Decimal `json:"avg_reward_price_usd"`
	StakedPriceSamples     int             `json:"staked_price_samples"`
	StakedPriceSource      string          `json:"staked_price_source"`
	AvgStakedTokenPriceUSD decimal.Decimal `json:"avg_staked_token_price_usd"`
	RewardsUSD             decimal.Decimal `json:"rewards_usd"`
	StakedUSD              decimal.Decimal `json:"staked_usd"`
	PeriodicReturn         decimal.Decimal `json:"periodic_return"`
	AnnualizationFactor    decimal.Decimal `json:"annualization_factor"`
	APY                    decimal.Decimal `json:"apy"`
	Reason                 string          `json:"reason,omitempty"`
}

// Result is the outcome of Compute.
type Result struct {
	APY           decimal.Decimal
	TotalRewards  decimal.Decimal
	AverageStaked decimal.Decimal
	Details       Details
}

// Compute annualises realised rewards against the average stake, with both
// sides converted to USD. Any zero denominator yields an APY of zero and a
// reason in the details; the result is never negative.
func Compute(in Inputs) Result {
	d := Details{
		WindowHours:       in.WindowHours,
		SnapshotCount:     len(in.StakedSamples),
		DistributionCount: len(in.Rewards),
		StakedPriceSource: PriceSourceNone,
	}

	finish := func(reason string) Result {
		d.Reason = reason
		if d.APY.IsNegative() {
			d.APY = decimal.Zero
		}
		return Result{APY: d.APY, TotalRewards: d.TotalRewards, AverageStaked: d.AverageStaked, Details: d}
	}

	if in.WindowHours <= 0 {
		return finish("invalid window")
	}
	d.AnnualizationFactor = decimal.NewFromInt(HoursPerYear).Div(decimal.NewFromInt(in.WindowHours))

	// Realised rewards and prices are recorded even when the stake side is empty.
	rewardPrices := make([]decimal.Decimal, 0, len(in.Rewards))
	for _, r := range in.Rewards {
		d.TotalRewards = d.TotalRewards.Add(r.Amount)
		rewardPrices = append(rewardPrices, r.PriceUSD)
	}
	d.AvgRewardPriceUSD = mean(rewardPrices)
	d.RewardsUSD = d.TotalRewards.Mul(d.AvgRewardPriceUSD)

	d.StakedPriceSamples = len(in.StakedTokenPrices)
	switch {
	case len(in.StakedTokenPrices) > 0:
		d.AvgStakedTokenPriceUSD = mean(in.StakedTokenPrices)
		d.StakedPriceSource = PriceSourceWindow
	case in.FallbackStakedTokenPrice != nil:
		d.AvgStakedTokenPriceUSD = *in.FallbackStakedTokenPrice
		d.StakedPriceSource = PriceSourceFallback
	}

	if len(in.StakedSamples) == 0 {
		return finish("no snapshots in window")
	}
	d.AverageStaked = mean(in.StakedSamples)

	if len(in.Rewards) == 0 {
		return finish("no completed distributions in window")
	}
	if d.StakedPriceSource == PriceSourceNone {
		return finish("no staked token price")
	}

	d.StakedUSD = d.AverageStaked.Mul(d.AvgStakedTokenPriceUSD)
	if !d.StakedUSD.IsPositive() {
		return finish("staked usd is zero")
	}

	d.PeriodicReturn = d.RewardsUSD.Div(d.StakedUSD)
	d.APY = decimal.Max(decimal.Zero, d.PeriodicReturn.Mul(d.AnnualizationFactor).Mul(hundred))
	return finish("")
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values))))
}
