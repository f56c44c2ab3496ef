package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Period names a rolling APY window.
type Period string

const (
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
)

// Periods lists every window the calculator maintains.
var Periods = []Period{Period24h, Period7d, Period30d}

// Hours returns the window length in hours.
func (p Period) Hours() int64 {
	switch p {
	case Period24h:
		return 24
	case Period7d:
		return 168
	case Period30d:
		return 720
	default:
		return 0
	}
}

// Window returns the window as a duration.
func (p Period) Window() time.Duration {
	return time.Duration(p.Hours()) * time.Hour
}

// ParsePeriod validates a period label.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if p.Hours() == 0 {
		return "", fmt.Errorf("unknown period %q (want 24h, 7d or 30d)", s)
	}
	return p, nil
}

// Distribution statuses.
const (
	DistributionCompleted = "completed"
	DistributionPending   = "pending"
)

// Snapshot is one append-only reading of aggregate staking state.
// CurrentAPY is a denormalized copy of the latest 30d calculation and may lag
// apy_calculations by one APY cycle.
type Snapshot struct {
	ID                      int64
	TotalStaked             decimal.Decimal
	TotalStakers            int64
	RewardsPoolBalance      decimal.Decimal
	TotalRewardsDistributed decimal.Decimal
	CurrentAPY              decimal.Decimal
	BlockNumber             *int64
	TakenAt                 time.Time
}

// DistributionEvent is a realised reward payout, written by the distribution
// pipeline and only read here.
type DistributionEvent struct {
	ID          int64
	EthAmount   decimal.Decimal
	EthPriceUSD *decimal.Decimal
	Status      string
	OccurredAt  time.Time
}

// Priced reports whether the event counts toward yield.
func (e DistributionEvent) Priced() bool {
	return e.Status == DistributionCompleted && e.EthPriceUSD != nil
}

// PricePoint is one observation of an asset's USD price.
type PricePoint struct {
	Symbol     string
	PriceUSD   decimal.Decimal
	ObservedAt time.Time
}

// APYCalculation is one persisted yield computation for a period.
type APYCalculation struct {
	ID                 int64
	Period             Period
	RewardsDistributed decimal.Decimal
	AverageStaked      decimal.Decimal
	CalculatedAPY      decimal.Decimal
	CalculationDetails json.RawMessage
	CalculatedAt       time.Time
}

// StakerPosition is the reconciled on-chain state of one address.
type StakerPosition struct {
	Address               string
	StakedAmount          decimal.Decimal
	LifetimeRewardsEarned decimal.Decimal
	PendingRewards        decimal.Decimal
	UnbondingAmount       decimal.Decimal
	LastStakeTime         *time.Time
	IsActive              bool
	UpdatedAt             time.Time
}

// FreshnessRecord tracks the health of one background domain.
// LastUpdate is the last attempt; LastSuccess the last successful run.
type FreshnessRecord struct {
	Domain      string
	LastUpdate  time.Time
	LastSuccess *time.Time
	IsHealthy   bool
	ErrorCount  int
	LastError   *string
}
