package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotStaker marks the expected revert returned when an address has never
// interacted with the staking contract.
var ErrNotStaker = errors.New("ledger: address is not a staker")

// ReadError wraps a transient ledger fault for one read operation.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// StakePosition is one address's on-chain stake state.
type StakePosition struct {
	Amount                decimal.Decimal
	LifetimeRewardsEarned decimal.Decimal
	PendingRewards        decimal.Decimal
	// LastStakeTime is nil when the contract reports zero.
	LastStakeTime *time.Time
}

// UnbondingEntry is one pending withdrawal.
type UnbondingEntry struct {
	Amount      decimal.Decimal
	ReleaseTime time.Time
}

// Reader exposes the read-only staking contract queries.
type Reader interface {
	TotalStaked(ctx context.Context) (decimal.Decimal, error)
	TotalRewardsDistributed(ctx context.Context) (decimal.Decimal, error)
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	StakePosition(ctx context.Context, address string) (StakePosition, error)
	UnbondingSchedule(ctx context.Context, address string) ([]UnbondingEntry, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// TotalUnbonding sums the amounts of a schedule.
func TotalUnbonding(entries []UnbondingEntry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.Amount)
	}
	return total
}
